package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferOnInvokesHandlersInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.On(TypeTickStart, func(StreamEvent) { order = append(order, 1) })
	b.On(TypeTickStart, func(StreamEvent) { order = append(order, 2) })
	b.Push(StreamEvent{Type: TypeTickStart})
	require.Equal(t, []int{1, 2}, order)
}

func TestBufferHandlerPanicDoesNotStopOthers(t *testing.T) {
	b := New()
	var ran bool
	b.On(TypeTickStart, func(StreamEvent) { panic("boom") })
	b.On(TypeTickStart, func(StreamEvent) { ran = true })
	require.NotPanics(t, func() { b.Push(StreamEvent{Type: TypeTickStart}) })
	require.True(t, ran)
}

func TestBufferWildcardReceivesEverything(t *testing.T) {
	b := New()
	var count int
	b.On(TypeWildcard, func(StreamEvent) { count++ })
	b.Push(StreamEvent{Type: TypeTickStart})
	b.Push(StreamEvent{Type: TypeTickEnd})
	require.Equal(t, 2, count)
}

func TestBufferOnceFiresOnlyOnce(t *testing.T) {
	b := New()
	var count int
	b.Once(TypeTickStart, func(StreamEvent) { count++ })
	b.Push(StreamEvent{Type: TypeTickStart})
	b.Push(StreamEvent{Type: TypeTickStart})
	require.Equal(t, 1, count)
}

func TestBufferUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var count int
	unsub := b.On(TypeTickStart, func(StreamEvent) { count++ })
	b.Push(StreamEvent{Type: TypeTickStart})
	unsub()
	b.Push(StreamEvent{Type: TypeTickStart})
	require.Equal(t, 1, count)
}

func TestBufferOnReplayReplaysBufferedHistoryThenFutureEvents(t *testing.T) {
	b := New()
	b.Push(StreamEvent{Type: TypeTickStart})
	b.Push(StreamEvent{Type: TypeTickEnd})
	b.Push(StreamEvent{Type: TypeTickStart})

	var seen []Type
	b.OnReplay(TypeTickStart, func(e StreamEvent) { seen = append(seen, e.Type) })
	require.Equal(t, []Type{TypeTickStart, TypeTickStart}, seen)

	b.Push(StreamEvent{Type: TypeTickStart})
	require.Equal(t, []Type{TypeTickStart, TypeTickStart, TypeTickStart}, seen)
}

func TestBufferPushAfterCloseIsNoop(t *testing.T) {
	b := New()
	b.Close()
	b.Push(StreamEvent{Type: TypeTickStart})
	require.Empty(t, b.History())
}

func TestBufferIteratorYieldsHistoryThenBlocksThenCloses(t *testing.T) {
	b := New()
	b.Push(StreamEvent{Type: TypeTickStart})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, errp := b.Iterate(ctx)

	first := <-ch
	require.Equal(t, TypeTickStart, first.Type)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push(StreamEvent{Type: TypeTickEnd})
		b.Close()
	}()

	second := <-ch
	require.Equal(t, TypeTickEnd, second.Type)

	_, ok := <-ch
	require.False(t, ok)
	require.NoError(t, *errp)
}

func TestBufferIndependentIterators(t *testing.T) {
	b := New()
	b.Push(StreamEvent{Type: TypeTickStart})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch1, _ := b.Iterate(ctx)
	ch2, _ := b.Iterate(ctx)

	e1 := <-ch1
	e2 := <-ch2
	require.Equal(t, e1.Type, e2.Type)
}

func TestBufferErrorPropagatesToIterator(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, errp := b.Iterate(ctx)

	boom := require.Error
	_ = boom
	myErr := errTest{}
	go b.Error(myErr)

	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, myErr, *errp)
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
