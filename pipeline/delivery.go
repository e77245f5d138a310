package pipeline

import (
	"sync"
	"time"

	"github.com/tickline/tickline/event"
)

// DeliveryTiming selects when buffered events are flushed to a sink.
type DeliveryTiming string

const (
	// DeliveryImmediate flushes every event as soon as it arrives.
	DeliveryImmediate DeliveryTiming = "immediate"
	// DeliveryOnIdle flushes once the session reaches tick_end or
	// execution_end, batching everything emitted during the tick.
	DeliveryOnIdle DeliveryTiming = "on_idle"
	// DeliveryDebounced flushes after a quiet period with no new events, or
	// when maxWait has elapsed since the first buffered event, whichever
	// comes first.
	DeliveryDebounced DeliveryTiming = "debounced"
)

// Sink receives flushed batches of events in arrival order.
type Sink func(events []event.StreamEvent)

// DeliveryBuffer batches StreamEvents for a connected client according to a
// configured DeliveryTiming before handing them to a Sink.
type DeliveryBuffer struct {
	mu      sync.Mutex
	timing  DeliveryTiming
	sink    Sink
	debounce time.Duration
	maxWait  time.Duration

	pending []event.StreamEvent
	timer   *time.Timer
	maxTimer *time.Timer
}

// NewDeliveryBuffer constructs a DeliveryBuffer. debounce and maxWait are
// only used by DeliveryDebounced; debounce defaults to 250ms and maxWait to
// 2s when zero.
func NewDeliveryBuffer(timing DeliveryTiming, sink Sink, debounce, maxWait time.Duration) *DeliveryBuffer {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	return &DeliveryBuffer{timing: timing, sink: sink, debounce: debounce, maxWait: maxWait}
}

// Push accepts one event for delivery.
func (d *DeliveryBuffer) Push(e event.StreamEvent) {
	switch d.timing {
	case DeliveryImmediate, "":
		d.sink([]event.StreamEvent{e})
	case DeliveryOnIdle:
		d.mu.Lock()
		d.pending = append(d.pending, e)
		isIdle := e.Type == event.TypeTickEnd || e.Type == event.TypeExecutionEnd
		d.mu.Unlock()
		if isIdle {
			d.Flush()
		}
	case DeliveryDebounced:
		d.pushDebounced(e)
	default:
		d.sink([]event.StreamEvent{e})
	}
}

func (d *DeliveryBuffer) pushDebounced(e event.StreamEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, e)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flushLocked)

	if d.maxTimer == nil {
		d.maxTimer = time.AfterFunc(d.maxWait, d.flushLocked)
	}
}

// flushLocked is invoked from a timer goroutine; it acquires mu itself.
func (d *DeliveryBuffer) flushLocked() {
	d.Flush()
}

// Flush forces delivery of everything currently buffered.
func (d *DeliveryBuffer) Flush() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
	d.mu.Unlock()

	if len(batch) > 0 {
		d.sink(batch)
	}
}
