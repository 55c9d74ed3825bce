package puma

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultDiscardGrace is the grace period before an armed discard sweep
// drains an abandoned buffer (spec.md §4.2). Process-flavoured buffers use
// a longer grace to tolerate slow process spawn; see NewBuffer's caller in
// environment_process.go.
const (
	defaultDiscardGrace        = 5 * time.Second
	defaultProcessDiscardGrace = 15 * time.Second
)

// Buffer is a typed, single-subscriber, multi-publisher FIFO with a
// terminal completion marker and an autonomous discard sweep that reclaims
// stranded data once no subscriber is attached, whether or not publishers
// remain (spec.md §3, §4.2; see maybeArmDiscardLocked).
type Buffer[T any] struct {
	id       string
	capacity int // 0 means unbounded

	logger Logger

	mu            sync.Mutex
	notFull       *sync.Cond
	queue         []Value[T]
	publisherCnt  int
	hasSubscriber bool
	subWakeup     Wakeup
	completed     bool
	completionErr error

	discardGrace time.Duration
	discardTimer *time.Timer
	discardGen   uint64 // invalidates a pending sweep when attach/detach races it
}

// NewBuffer constructs a Buffer with the given capacity (<= 0 means
// unbounded) and discard grace period. Buffers are normally obtained from
// an Environment rather than constructed directly, so that the discard
// grace period matches the Environment's flavour.
func NewBuffer[T any](capacity int, discardGrace time.Duration) *Buffer[T] {
	if discardGrace <= 0 {
		discardGrace = defaultDiscardGrace
	}
	b := &Buffer[T]{
		id:           uuid.NewString(),
		capacity:     capacity,
		discardGrace: discardGrace,
	}
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// ID returns the buffer's opaque, stable identity.
func (b *Buffer[T]) ID() string { return b.id }

// SetLogger attaches a logger used to report discard sweep activity.
func (b *Buffer[T]) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Publisher is a transient, scoped handle to a Buffer's write side. It
// owns one slot in the buffer's publisher count; Release must be called on
// every exit path (spec.md §9, "scoped resource acquisition").
type Publisher[T any] struct {
	buf      *Buffer[T]
	mu       sync.Mutex
	released bool
	completed bool
}

// Subscription is a transient, scoped handle to a Buffer's single read
// side, bound at construction to a Wakeup.
type Subscription[T any] struct {
	buf        *Buffer[T]
	wakeup     Wakeup
	mu         sync.Mutex
	released   bool
	terminated bool
}

// Publish returns a new scoped Publisher, incrementing the buffer's
// publisher count and cancelling any pending discard sweep.
func (b *Buffer[T]) Publish() *Publisher[T] {
	b.mu.Lock()
	b.publisherCnt++
	b.cancelDiscardLocked()
	b.mu.Unlock()
	return &Publisher[T]{buf: b}
}

// Subscribe returns a new scoped Subscription bound to wakeup, or a
// *ProtocolError wrapping ErrAlreadySubscribed if one already exists
// (invariant I1).
func (b *Buffer[T]) Subscribe(wakeup Wakeup) (*Subscription[T], error) {
	b.mu.Lock()
	if b.hasSubscriber {
		b.mu.Unlock()
		return nil, newProtocolError("Buffer.Subscribe", ErrAlreadySubscribed)
	}
	b.hasSubscriber = true
	b.subWakeup = wakeup
	b.cancelDiscardLocked()
	hasBacklog := len(b.queue) > 0
	b.mu.Unlock()

	// A subscriber attaching to a buffer that already holds data must be
	// woken immediately, since no publish will occur to trigger it.
	if hasBacklog && wakeup != nil {
		wakeup.Signal()
	}

	return &Subscription[T]{buf: b, wakeup: wakeup}, nil
}

// PublisherCount reports the current number of attached Publisher scopes.
func (b *Buffer[T]) PublisherCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publisherCnt
}

// HasSubscriber reports whether a Subscription is currently attached.
func (b *Buffer[T]) HasSubscriber() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasSubscriber
}

// Len reports the number of items currently queued (including a pending
// Complete marker, if any).
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PublishValue appends v to the buffer, blocking if the buffer is bounded
// and full until room appears or the discard sweep releases the blocked
// publisher. Returns *ProtocolError(ErrCompleted) if the buffer has
// already been completed.
func (p *Publisher[T]) PublishValue(v T) error {
	return p.publish(v, true)
}

// TryPublishValue is the non-blocking variant: it returns
// *ProtocolError(ErrFull) instead of blocking when a bounded buffer has no
// free capacity.
func (p *Publisher[T]) TryPublishValue(v T) error {
	return p.publish(v, false)
}

func (p *Publisher[T]) publish(v T, block bool) error {
	if err := p.checkUsable("Publisher.PublishValue"); err != nil {
		return err
	}
	b := p.buf

	b.mu.Lock()
	for b.capacity > 0 && len(b.queue) >= b.capacity && !b.completed {
		if !block {
			b.mu.Unlock()
			return newProtocolError("Publisher.TryPublishValue", ErrFull)
		}
		// A publisher about to block with no subscriber attached can only
		// be released by the discard sweep, so make sure one is armed.
		b.maybeArmDiscardLocked()
		b.notFull.Wait()
	}
	if b.completed {
		b.mu.Unlock()
		return newProtocolError("Publisher.PublishValue", ErrCompleted)
	}
	b.queue = append(b.queue, NewValue(v))
	wakeup := b.subWakeup
	b.mu.Unlock()

	if wakeup != nil {
		wakeup.Signal()
	}
	return nil
}

// PublishComplete appends the terminal Complete marker, carrying an
// optional structured error, and marks the buffer completed. Per the
// stricter rule this specification adopts (spec.md §9 Open Question),
// completion from any one publisher terminates the buffer for all
// publishers; a second call, from this or any other Publisher, fails with
// ErrCompleted.
func (p *Publisher[T]) PublishComplete(err error) error {
	if e := p.checkUsable("Publisher.PublishComplete"); e != nil {
		return e
	}
	b := p.buf

	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return newProtocolError("Publisher.PublishComplete", ErrCompleted)
	}
	b.completed = true
	b.completionErr = err
	b.queue = append(b.queue, CompleteValue[T](err))
	wakeup := b.subWakeup
	b.notFull.Broadcast() // release anyone blocked on a full buffer
	b.mu.Unlock()

	p.mu.Lock()
	p.completed = true
	p.mu.Unlock()

	if wakeup != nil {
		wakeup.Signal()
	}
	return nil
}

func (p *Publisher[T]) checkUsable(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return newProtocolError(op, ErrPublisherReleased)
	}
	if p.completed {
		return newProtocolError(op, ErrCompleted)
	}
	return nil
}

// Release returns the Publisher's slot in the buffer's publisher count,
// arming a discard sweep if the buffer is now abandoned. Safe to call more
// than once; subsequent calls are a no-op.
func (p *Publisher[T]) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	b := p.buf
	b.mu.Lock()
	b.publisherCnt--
	b.maybeArmDiscardLocked()
	b.mu.Unlock()
}

// CallEvents drains values from the head of the queue in FIFO order,
// invoking handler.OnValue per payload, until either the queue is empty or
// a Complete marker is consumed (dispatching handler.OnComplete exactly
// once and terminating the subscription). CallEvents never blocks; if the
// queue is empty it consumes the wakeup before returning (spec.md §4.2).
func (s *Subscription[T]) CallEvents(handler Handler[T]) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return newProtocolError("Subscription.CallEvents", ErrSubscriptionReleased)
	}
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	b := s.buf
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			if s.wakeup != nil {
				s.wakeup.Consume()
			}
			b.mu.Unlock()
			return nil
		}
		v := b.queue[0]
		b.queue = b.queue[1:]
		b.notFull.Signal()
		b.mu.Unlock()

		if v.IsComplete() {
			s.mu.Lock()
			s.terminated = true
			s.mu.Unlock()
			handler.OnComplete(v.Err())
			return nil
		}
		if err := handler.OnValue(v.Payload); err != nil {
			return err
		}
	}
}

// Terminated reports whether this Subscription has already observed the
// buffer's terminal Complete marker.
func (s *Subscription[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Release detaches the Subscription, arming a discard sweep if the buffer
// is now abandoned. Safe to call more than once.
func (s *Subscription[T]) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	b := s.buf
	b.mu.Lock()
	b.hasSubscriber = false
	b.subWakeup = nil
	b.maybeArmDiscardLocked()
	b.mu.Unlock()
}

// maybeArmDiscardLocked arms the discard sweep whenever no subscriber is
// attached and data remains queued. It is checked when a Publisher or
// Subscription is released and when a publisher is about to block on a
// full buffer. This resolves the arm condition a
// little more broadly than invariant I3's literal "both counts zero": it
// also covers a publisher still blocked in PublishValue on a bounded,
// full buffer whose subscriber has gone away, per the unblocking behaviour
// §5 and the boundary scenario in §8 require. See DESIGN.md.
func (b *Buffer[T]) maybeArmDiscardLocked() {
	if b.hasSubscriber || len(b.queue) == 0 || b.discardTimer != nil {
		return
	}
	b.discardGen++
	gen := b.discardGen
	grace := b.discardGrace
	b.discardTimer = time.AfterFunc(grace, func() { b.fireDiscard(gen) })
}

// cancelDiscardLocked cancels a pending sweep on any new attach, per
// spec.md §4.2: "If during the grace period any new publisher or
// subscription attaches, the sweep is cancelled."
func (b *Buffer[T]) cancelDiscardLocked() {
	if b.discardTimer != nil {
		b.discardTimer.Stop()
		b.discardTimer = nil
		b.discardGen++
	}
}

func (b *Buffer[T]) fireDiscard(gen uint64) {
	b.mu.Lock()
	if b.discardGen != gen || b.hasSubscriber {
		b.mu.Unlock()
		return
	}
	n := len(b.queue)
	b.queue = nil
	b.discardTimer = nil
	b.notFull.Broadcast()
	b.mu.Unlock()

	if n > 0 && b.logger != nil {
		b.logger.Warn("discard sweep drained abandoned buffer", "buffer_id", b.id, "dropped", n)
	}
}
