// Package stream fans out live run activity to any number of observers.
//
// Each run has one topic carrying two channels: structured event records and
// encoded video frames. The playback engine publishes once per record; every
// subscriber owns a buffered queue, so a slow observer loses records instead
// of stalling the run or other observers.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// Channel names one of a topic's two delivery channels.
type Channel string

const (
	ChannelEvents Channel = "events"
	ChannelVideo  Channel = "video"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Frame is one encoded video frame.
type Frame struct {
	Seq  int
	Data []byte
	At   time.Time
}

// Observer receives subscriber and drop notifications, typically metrics.
type Observer interface {
	SubscriberAdded(ch Channel)
	SubscriberRemoved(ch Channel)
	RecordDropped(ch Channel)
}

type nopObserver struct{}

func (nopObserver) SubscriberAdded(Channel)   {}
func (nopObserver) SubscriberRemoved(Channel) {}
func (nopObserver) RecordDropped(Channel)     {}

// Subscription is one observer's queue on a topic channel.
type Subscription[T any] struct {
	ID string

	ch        chan T
	final     *T
	dropped   atomic.Int64
	closeOnce sync.Once
	cancel    func()
}

// C returns the delivery channel. It is closed when the run finishes or the
// subscription is cancelled.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Final returns the terminal record of a finished run. It is only valid to
// call once C has been closed.
func (s *Subscription[T]) Final() (T, bool) {
	if s.final == nil {
		var zero T
		return zero, false
	}
	return *s.final, true
}

// Dropped returns how many records were discarded because the queue was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel detaches the subscription. Other subscribers are unaffected.
func (s *Subscription[T]) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// offer delivers v without blocking and reports whether it was queued.
func (s *Subscription[T]) offer(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

type topic struct {
	mu       sync.Mutex
	events   map[string]*Subscription[domain.StreamRecord]
	frames   map[string]*Subscription[Frame]
	seq      int
	frameSeq int
	final    *domain.StreamRecord
	closed   bool
}

// Broadcaster holds one topic per run.
type Broadcaster struct {
	mu       sync.RWMutex
	topics   map[string]*topic
	buffer   int
	observer Observer
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithObserver installs a notification sink.
func WithObserver(o Observer) Option {
	return func(b *Broadcaster) {
		if o != nil {
			b.observer = o
		}
	}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		topics:   make(map[string]*topic),
		buffer:   DefaultBuffer,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open creates the topic for a run. Opening an existing topic is a no-op.
func (b *Broadcaster) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[runID]; ok {
		return
	}
	b.topics[runID] = &topic{
		events: make(map[string]*Subscription[domain.StreamRecord]),
		frames: make(map[string]*Subscription[Frame]),
	}
}

func (b *Broadcaster) topic(runID string) (*topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[runID]
	return t, ok
}

// Active reports whether the run has an open, unfinished topic.
func (b *Broadcaster) Active(runID string) bool {
	t, ok := b.topic(runID)
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// PublishEvent fans an action record out to the run's event subscribers.
// The record's RunID and Seq are assigned here.
func (b *Broadcaster) PublishEvent(runID string, rec domain.StreamRecord) error {
	t, ok := b.topic(runID)
	if !ok {
		return domain.NotFoundf("stream for run %q", runID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTerminal
	}
	t.seq++
	rec.RunID = runID
	rec.Seq = t.seq
	for _, sub := range t.events {
		if !sub.offer(rec) {
			b.observer.RecordDropped(ChannelEvents)
		}
	}
	return nil
}

// PublishFrame fans an encoded frame out to the run's video subscribers.
func (b *Broadcaster) PublishFrame(runID string, data []byte) error {
	t, ok := b.topic(runID)
	if !ok {
		return domain.NotFoundf("stream for run %q", runID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTerminal
	}
	t.frameSeq++
	frame := Frame{Seq: t.frameSeq, Data: data, At: time.Now()}
	for _, sub := range t.frames {
		if !sub.offer(frame) {
			b.observer.RecordDropped(ChannelVideo)
		}
	}
	return nil
}

// Finish delivers the terminal record to every event subscriber and closes
// all of the run's subscriptions. Only the first call has any effect, so a
// run emits at most one finished record.
func (b *Broadcaster) Finish(runID string, rec domain.StreamRecord) error {
	t, ok := b.topic(runID)
	if !ok {
		return domain.NotFoundf("stream for run %q", runID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.seq++
	rec.Type = domain.RecordTypeFinished
	rec.RunID = runID
	rec.Seq = t.seq
	t.final = &rec
	t.closed = true

	for id, sub := range t.events {
		sub.final = t.final
		sub.offer(rec)
		sub.close()
		delete(t.events, id)
		b.observer.SubscriberRemoved(ChannelEvents)
	}
	for id, sub := range t.frames {
		sub.close()
		delete(t.frames, id)
		b.observer.SubscriberRemoved(ChannelVideo)
	}
	return nil
}

// SubscribeEvents attaches an observer to the run's event channel. Records
// published from now on are delivered; nothing earlier is replayed. On a
// finished run the subscription holds only the terminal record.
func (b *Broadcaster) SubscribeEvents(runID string) (*Subscription[domain.StreamRecord], error) {
	t, ok := b.topic(runID)
	if !ok {
		return nil, domain.NotFoundf("stream for run %q", runID)
	}
	sub := &Subscription[domain.StreamRecord]{
		ID: uuid.New().String(),
		ch: make(chan domain.StreamRecord, b.buffer),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		if t.final != nil {
			sub.final = t.final
			sub.ch <- *t.final
		}
		sub.close()
		return sub, nil
	}
	t.events[sub.ID] = sub
	b.observer.SubscriberAdded(ChannelEvents)
	sub.cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.events[sub.ID]; ok {
			delete(t.events, sub.ID)
			b.observer.SubscriberRemoved(ChannelEvents)
		}
		sub.close()
	}
	return sub, nil
}

// SubscribeFrames attaches an observer to the run's video channel. On a
// finished run the subscription is already closed and yields nothing.
func (b *Broadcaster) SubscribeFrames(runID string) (*Subscription[Frame], error) {
	t, ok := b.topic(runID)
	if !ok {
		return nil, domain.NotFoundf("video for run %q", runID)
	}
	sub := &Subscription[Frame]{
		ID: uuid.New().String(),
		ch: make(chan Frame, b.buffer),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		sub.close()
		return sub, nil
	}
	t.frames[sub.ID] = sub
	b.observer.SubscriberAdded(ChannelVideo)
	sub.cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.frames[sub.ID]; ok {
			delete(t.frames, sub.ID)
			b.observer.SubscriberRemoved(ChannelVideo)
		}
		sub.close()
	}
	return sub, nil
}

// SubscriberCount returns the number of attached event and video observers.
func (b *Broadcaster) SubscriberCount(runID string) (events, frames int) {
	t, ok := b.topic(runID)
	if !ok {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events), len(t.frames)
}

// Drop removes the run's topic. Remaining subscribers are closed.
func (b *Broadcaster) Drop(runID string) {
	b.mu.Lock()
	t, ok := b.topics[runID]
	delete(b.topics, runID)
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, sub := range t.events {
		sub.final = t.final
		sub.close()
		delete(t.events, id)
		b.observer.SubscriberRemoved(ChannelEvents)
	}
	for id, sub := range t.frames {
		sub.close()
		delete(t.frames, id)
		b.observer.SubscriberRemoved(ChannelVideo)
	}
}
