package clientbuf

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tickline/tickline/event"
)

// TestBufferOverflowDropOldestProperty is the gopter encoding of "overflow
// under drop-oldest: after N pushes with max M, the buffer holds the latest
// min(N, M) events" — pushed under permanent pressure so nothing drains
// in between, isolating the overflow behavior from the drain loop.
func TestBufferOverflowDropOldestProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("buffer holds exactly the latest min(n, max) pushed events", prop.ForAll(
		func(n, max int) bool {
			fc := newFakeClient()
			fc.setPressure(true)
			b := New(fc, max, OverflowDropOldest)

			for i := 0; i < n; i++ {
				b.Push(event.StreamEvent{Type: event.TypeTickStart, SessionID: strconv.Itoa(i)})
			}

			want := n
			if want > max {
				want = max
			}
			if b.Pending() != want {
				return false
			}

			b.mu.Lock()
			defer b.mu.Unlock()
			if len(b.queue) == 0 {
				return true
			}
			firstWant := n - len(b.queue)
			return b.queue[0].SessionID == strconv.Itoa(firstWant)
		},
		gen.IntRange(0, 50),
		gen.IntRange(1, 20),
	))

	props.TestingRun(t)
}

// TestBufferBackpressurePreservesOrderProperty is the gopter encoding of
// "backpressure preserves order": whatever subsequence of pushed events a
// drop-oldest buffer ends up delivering, it is delivered in the order it
// was pushed — no reordering, only drops.
func TestBufferBackpressurePreservesOrderProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("delivered events are a strictly increasing subsequence of pushed indices", prop.ForAll(
		func(pressureToggles []bool) bool {
			fc := newFakeClient()
			b := New(fc, 0, OverflowDropOldest) // unbounded: no drops, only interleaved drain timing

			for i, pressured := range pressureToggles {
				fc.setPressure(pressured)
				b.Push(event.StreamEvent{Type: event.TypeTickStart, SessionID: strconv.Itoa(i)})
			}
			fc.setPressure(false)
			b.Drain()

			last := -1
			for _, e := range fc.sent {
				idx, err := strconv.Atoi(e.SessionID)
				if err != nil {
					return false
				}
				if idx <= last {
					return false
				}
				last = idx
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	props.TestingRun(t)
}
