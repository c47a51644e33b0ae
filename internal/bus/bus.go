package bus

import (
	"maps"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"episoded/internal/metrics"
)

// Handle identifies one subscription. The zero Handle is inert.
type Handle struct {
	id    uint64
	topic Topic
}

// ID returns the subscription id (0 for the zero Handle).
func (h Handle) ID() uint64 { return h.id }

// Topic returns the subscribed topic.
func (h Handle) Topic() Topic { return h.topic }

type subscription struct {
	id      uint64
	topic   Topic
	handler Handler
}

// Config tunes a Bus. The zero value is usable.
type Config struct {
	Logger zerolog.Logger
	// OnFault, when set, is called after a handler fault has been logged.
	OnFault func(error)
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Faults        uint64 `json:"faults"`
	Dropped       uint64 `json:"dropped"`
	Subscriptions int    `json:"subscriptions"`
}

// Bus is a topic-keyed publish/subscribe dispatcher safe for concurrent use.
//
// The registry lock is held only while the subscriber list is copied or
// mutated, never while handlers run, so handlers may Publish, Subscribe and
// Unsubscribe freely.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*subscription
	byID   map[uint64]*subscription
	nextID uint64
	closed bool

	log     zerolog.Logger
	onFault func(error)

	published atomic.Uint64
	delivered atomic.Uint64
	faults    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty bus.
func New(cfg Config) *Bus {
	return &Bus{
		subs:    make(map[Topic][]*subscription),
		byID:    make(map[uint64]*subscription),
		log:     cfg.Logger.With().Str("component", "bus").Logger(),
		onFault: cfg.OnFault,
	}
}

// Subscribe registers h for topic. Handlers for a topic run in the order
// they were subscribed.
func (b *Bus) Subscribe(topic Topic, h Handler) (Handle, error) {
	if topic == "" {
		return Handle{}, ErrEmptyTopic
	}
	if h == nil {
		return Handle{}, ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Handle{}, ErrBusClosed
	}
	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: h}
	b.subs[topic] = append(b.subs[topic], sub)
	b.byID[sub.id] = sub
	b.log.Debug().Str("topic", string(topic)).Uint64("sub", sub.id).Msg("subscribed")
	return Handle{id: sub.id, topic: topic}, nil
}

// Unsubscribe removes the subscription. It reports whether anything was
// removed; repeated calls are no-ops. A dispatch already in progress still
// delivers to its snapshot.
func (b *Bus) Unsubscribe(h Handle) bool {
	if h.id == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.byID[h.id]
	if !ok {
		return false
	}
	delete(b.byID, h.id)
	list := b.subs[sub.topic]
	for i, s := range list {
		if s.id != h.id {
			continue
		}
		// Build a new slice so snapshots taken earlier keep their contents.
		next := make([]*subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.topic)
		} else {
			b.subs[sub.topic] = next
		}
		break
	}
	b.log.Debug().Str("topic", string(sub.topic)).Uint64("sub", h.id).Msg("unsubscribed")
	return true
}

// UnsubscribeAll removes every given handle and returns how many were live.
func (b *Bus) UnsubscribeAll(hs ...Handle) int {
	n := 0
	for _, h := range hs {
		if b.Unsubscribe(h) {
			n++
		}
	}
	return n
}

// Publish delivers an event to the subscribers registered for topic at the
// time of the call, synchronously and in subscription order. fields is
// copied; the caller may reuse it afterwards.
func (b *Bus) Publish(topic Topic, fields map[string]any) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.dropped.Add(1)
		metrics.BusDropped.Inc()
		return
	}
	snapshot := b.subs[topic]
	b.mu.RUnlock()

	b.published.Add(1)
	metrics.BusPublished.WithLabelValues(string(topic)).Inc()
	if len(snapshot) == 0 {
		return
	}
	ev := Event{Topic: topic, Fields: maps.Clone(fields)}
	if ev.Fields == nil {
		ev.Fields = map[string]any{}
	}
	for _, sub := range snapshot {
		if err := b.invoke(sub, ev); err != nil {
			b.fault(err)
			continue
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) invoke(sub *subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Topic: sub.topic, SubscriptionID: sub.id, Value: r, Stack: string(debug.Stack())}
		}
	}()
	if herr := sub.handler(ev); herr != nil {
		return &HandlerError{Topic: sub.topic, SubscriptionID: sub.id, Err: herr}
	}
	return nil
}

func (b *Bus) fault(err error) {
	b.faults.Add(1)
	var topic Topic
	switch e := err.(type) {
	case *HandlerError:
		topic = e.Topic
	case *PanicError:
		topic = e.Topic
		b.log.Debug().Str("stack", e.Stack).Msg("handler panic stack")
	}
	metrics.BusHandlerFaults.WithLabelValues(string(topic)).Inc()
	b.log.Error().Err(err).Str("topic", string(topic)).Msg("handler fault")
	if b.onFault != nil {
		b.onFault(err)
	}
}

// Close drops all subscriptions. Later Publish calls are discarded and
// Subscribe returns ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[Topic][]*subscription)
	b.byID = make(map[uint64]*subscription)
	b.log.Debug().Msg("closed")
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.byID)
	b.mu.RUnlock()
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Faults:        b.faults.Load(),
		Dropped:       b.dropped.Load(),
		Subscriptions: n,
	}
}

// SubscriberCount returns the number of live subscriptions for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
