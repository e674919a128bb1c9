package events

import (
	"sync"

	"licensestake/core/types"
)

// Payload is implemented by events that render into a flat attribute map.
type Payload interface {
	Event() *types.Event
}

// Flatten renders evt as a types.Event. Events without a payload form keep
// only their type.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if p, ok := evt.(Payload); ok {
		if out := p.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Envelope is a flattened event tagged with its position in the stream.
type Envelope struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

const subscriberBuffer = 64

// Stream numbers every emitted event, keeps a bounded backlog and pushes new
// events to subscribers. A subscriber that falls a full buffer behind is
// dropped and its channel closed.
type Stream struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	backlog []Envelope
	nextID  uint64
	subs    map[uint64]chan Envelope
}

// NewStream returns a stream retaining limit envelopes for replay.
func NewStream(limit int) *Stream {
	if limit <= 0 {
		limit = 256
	}
	return &Stream{limit: limit, subs: make(map[uint64]chan Envelope)}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	flat := Flatten(evt)
	if s == nil || flat == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	env := Envelope{Sequence: s.seq, Type: flat.Type, Attributes: flat.Attributes}
	s.backlog = append(s.backlog, env)
	if len(s.backlog) > s.limit {
		s.backlog = append([]Envelope(nil), s.backlog[len(s.backlog)-s.limit:]...)
	}
	for id, ch := range s.subs {
		select {
		case ch <- env:
		default:
			close(ch)
			delete(s.subs, id)
		}
	}
}

// Since returns retained envelopes with a sequence above after, oldest first.
func (s *Stream) Since(after uint64) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since(after)
}

func (s *Stream) since(after uint64) []Envelope {
	var out []Envelope
	for _, env := range s.backlog {
		if env.Sequence > after {
			out = append(out, env)
		}
	}
	return out
}

// Subscribe returns the retained envelopes after the cursor and a channel of
// every later one. cancel must be called to release the subscription.
func (s *Stream) Subscribe(after uint64) (updates <-chan Envelope, backlog []Envelope, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	ch := make(chan Envelope, subscriberBuffer)
	s.subs[id] = ch
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
	return ch, s.since(after), cancel
}
