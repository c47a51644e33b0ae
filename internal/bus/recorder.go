package bus

import "sync"

// Recorder stores delivered events in memory. It is used by tests and by
// the CLI to observe a running pipeline.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	subs   []Handle
}

// NewRecorder subscribes a recorder to each topic.
func NewRecorder(b *Bus, topics ...Topic) (*Recorder, error) {
	r := &Recorder{}
	for _, t := range topics {
		h, err := b.Subscribe(t, r.record)
		if err != nil {
			b.UnsubscribeAll(r.subs...)
			return nil, err
		}
		r.subs = append(r.subs, h)
	}
	return r, nil
}

func (r *Recorder) record(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topic returns recorded events for one topic, in delivery order.
func (r *Recorder) Topic(t Topic) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Topic == t {
			out = append(out, e)
		}
	}
	return out
}

// Handles returns the recorder's subscriptions.
func (r *Recorder) Handles() []Handle { return append([]Handle(nil), r.subs...) }
