package event

import (
	"context"
	"log/slog"
	"sync"
)

// Handler reacts to a single pushed event. A handler that panics is recovered
// and logged, and never prevents other handlers from running; push itself
// never blocks on a misbehaving handler beyond normal synchronous execution.
type Handler func(StreamEvent)

type registration struct {
	id      uint64
	typ     Type
	handler Handler
}

// Buffer is a typed, bounded-replay, multi-consumer event stream. It is the
// concrete realization of the EventBuffer contract (spec §4.1): FIFO for any
// single consumer, handlers invoked in registration order, push is
// non-blocking, and async iteration replays buffered history before blocking
// on future pushes.
//
// Buffer is single-threaded cooperative by contract (pushes happen from one
// session's tick loop), but the mutex below makes it safe for concurrent
// *readers* (iterators, gateway fan-out) to attach/detach while a tick is in
// flight.
type Buffer struct {
	mu sync.Mutex

	logger *slog.Logger

	history []StreamEvent
	maxKept int // 0 = unbounded

	regs   []registration
	nextID uint64

	closed bool
	err    error

	waiters []chan struct{}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxHistory bounds the number of retained events once no iterator can
// still need the trimmed prefix; iterators created before trimming keep their
// own copy via History() at attach time, so trimming only affects *future*
// onReplay calls and new iterators.
func WithMaxHistory(n int) Option {
	return func(b *Buffer) { b.maxKept = n }
}

// WithLogger attaches a logger used to report handler panics/errors. Defaults
// to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) { b.logger = l }
}

// New returns an empty, open Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Push appends event to the history, notifies matching handlers in
// registration order, and wakes any pending async iterators. Push is a no-op
// once the buffer is closed or errored.
func (b *Buffer) Push(e StreamEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, e)
	if b.maxKept > 0 && len(b.history) > b.maxKept {
		b.history = b.history[len(b.history)-b.maxKept:]
	}
	regs := append([]registration(nil), b.regs...)
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, r := range regs {
		if r.typ != TypeWildcard && r.typ != e.Type {
			continue
		}
		b.invoke(r.handler, e)
	}
	for _, w := range waiters {
		close(w)
	}
}

func (b *Buffer) invoke(h Handler, e StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "recovered", r, "event_type", e.Type)
		}
	}()
	h(e)
}

// On subscribes handler to events of the given type (or TypeWildcard for
// every event). Returns an unsubscribe closure.
func (b *Buffer) On(typ Type, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.regs = append(b.regs, registration{id: id, typ: typ, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.regs {
			if r.id == id {
				b.regs = append(b.regs[:i], b.regs[i+1:]...)
				break
			}
		}
	}
}

// Once subscribes handler to fire exactly once for the next matching event.
func (b *Buffer) Once(typ Type, handler Handler) func() {
	var unsub func()
	var fired bool
	unsub = b.On(typ, func(e StreamEvent) {
		if fired {
			return
		}
		fired = true
		handler(e)
		unsub()
	})
	return unsub
}

// OnReplay replays the buffered history for typ synchronously (in order) and
// then attaches handler for future matching events, as a single atomic
// operation — no event pushed between the replay and the live attach is
// missed or duplicated.
func (b *Buffer) OnReplay(typ Type, handler Handler) func() {
	b.mu.Lock()
	var replay []StreamEvent
	for _, e := range b.history {
		if typ == TypeWildcard || e.Type == typ {
			replay = append(replay, e)
		}
	}
	id := b.nextID
	b.nextID++
	b.regs = append(b.regs, registration{id: id, typ: typ, handler: handler})
	b.mu.Unlock()

	for _, e := range replay {
		b.invoke(handler, e)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range b.regs {
			if r.id == id {
				b.regs = append(b.regs[:i], b.regs[i+1:]...)
				break
			}
		}
	}
}

// Off removes a previously registered handler. Prefer calling the closure
// returned by On/Once/OnReplay; Off is kept for API symmetry with callers
// that store registration state separately (spec §4.1 lists on/off/once as
// the textual contract).
func (b *Buffer) Off(unsubscribe func()) { unsubscribe() }

// Close terminates the buffer. Further Push calls are no-ops; all pending
// async iterators complete.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Error terminates the buffer in an error state. Pending async iterators
// observe err instead of completing cleanly.
func (b *Buffer) Error(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.err = err
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// History returns a snapshot of the currently buffered events.
func (b *Buffer) History() []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StreamEvent(nil), b.history...)
}

// Iterate returns a channel that yields the entire buffered history and then
// blocks on future pushes, closing when the buffer closes. Each call to
// Iterate is an independent consumer with its own index into the log. If the
// buffer ends in an error state, the returned errp is populated once the
// channel closes.
func (b *Buffer) Iterate(ctx context.Context) (<-chan StreamEvent, *error) {
	out := make(chan StreamEvent)
	errp := new(error)
	go func() {
		defer close(out)
		idx := 0
		for {
			b.mu.Lock()
			for idx < len(b.history) {
				e := b.history[idx]
				idx++
				b.mu.Unlock()
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				b.mu.Lock()
			}
			if b.closed {
				*errp = b.err
				b.mu.Unlock()
				return
			}
			wait := make(chan struct{})
			b.waiters = append(b.waiters, wait)
			b.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errp
}
