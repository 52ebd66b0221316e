package registry

import "sync"

const subscriptionBuffer = 32

// hub fans registry events out to subscribers. Emission never blocks the
// registry: a subscriber that stops draining loses events rather than
// stalling asset mutations. Dropped delete events are compensated for by
// the orphan sweep, dropped create events by the trigger's pending
// recovery pass.
type hub struct {
	mu   sync.Mutex
	subs map[*hubSubscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*hubSubscription]struct{})}
}

func (h *hub) emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (h *hub) subscribe() Subscription {
	sub := &hubSubscription{hub: h, ch: make(chan Event, subscriptionBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

type hubSubscription struct {
	hub  *hub
	ch   chan Event
	once sync.Once
}

func (s *hubSubscription) Events() <-chan Event {
	return s.ch
}

func (s *hubSubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
