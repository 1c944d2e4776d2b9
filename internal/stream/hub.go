// Package stream fans freshly ingested events out to live dashboard
// subscribers. Publishing never blocks the ingest path: each subscriber has
// a bounded buffer and is dropped when it falls behind.
package stream

import "sync"

// Notice is the summary pushed for each stored (non-duplicate) event.
type Notice struct {
	EventID   string `json:"event_id"`
	IssueID   string `json:"issue_id"`
	Title     string `json:"title"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// subscriberBuffer is how many notices a subscriber may lag before it is
// dropped.
const subscriberBuffer = 64

// Subscriber receives notices for one project until its channel is closed,
// either by Unsubscribe or because it fell behind.
type Subscriber struct {
	ch chan Notice
}

// C is the receive side; it is closed when the subscription ends.
func (s *Subscriber) C() <-chan Notice { return s.ch }

// Hub tracks subscribers per project id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(projectID string) *Subscriber {
	s := &Subscriber{ch: make(chan Notice, subscriberBuffer)}
	h.mu.Lock()
	set := h.subs[projectID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.subs[projectID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe detaches s and closes its channel. Safe to call after the
// hub has already dropped s.
func (h *Hub) Unsubscribe(projectID string, s *Subscriber) {
	h.drop(projectID, s)
}

// Publish delivers n to every subscriber of the project. Full buffers mark
// the subscriber dead; it is detached instead of slowing ingestion down.
func (h *Hub) Publish(projectID string, n Notice) {
	h.mu.RLock()
	var dead []*Subscriber
	for s := range h.subs[projectID] {
		select {
		case s.ch <- n:
		default:
			dead = append(dead, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dead {
		h.drop(projectID, s)
	}
}

// Subscribers reports how many subscribers a project currently has.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

func (h *Hub) drop(projectID string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[projectID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, projectID)
	}
	close(s.ch)
}
