package chat

import (
	"sync"

	"afroboost/metrics"

	"github.com/sirupsen/logrus"
)

const (
	EventJoined  = "joined_session"
	EventLeft    = "left_session"
	EventMessage = "message_received"
	EventGroup   = "group_message"
	EventError   = "error"
)

// Event is one server-to-client frame.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// Subscriber receives hub events. Deliver must not block; it returns false
// when the subscriber cannot take the event.
type Subscriber interface {
	ID() string
	Deliver(Event) bool
	Close()
}

type membership struct {
	sub  Subscriber
	refs int
}

// Hub is the process-local fan-out table: session id to subscribed members.
// Joins from the same subscriber are reference counted.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*membership
	log      *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*membership),
		log:      logrus.WithField("component", "chat_hub"),
	}
}

// Join admits sub to the session and returns its reference count.
func (h *Hub) Join(sub Subscriber, sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.sessions[sessionID]
	if !ok {
		members = make(map[string]*membership)
		h.sessions[sessionID] = members
	}
	m, ok := members[sub.ID()]
	if !ok {
		m = &membership{sub: sub}
		members[sub.ID()] = m
		metrics.HubSubscriptions.Inc()
	}
	m.refs++
	return m.refs
}

// Leave drops one reference and reports whether the membership is gone.
func (h *Hub) Leave(sub Subscriber, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	m, ok := members[sub.ID()]
	if !ok {
		return false
	}
	m.refs--
	if m.refs > 0 {
		return false
	}
	h.remove(sessionID, sub.ID())
	return true
}

// LeaveAll removes sub from every session regardless of reference counts.
func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, members := range h.sessions {
		if _, ok := members[sub.ID()]; ok {
			h.remove(sessionID, sub.ID())
		}
	}
}

func (h *Hub) remove(sessionID, subID string) {
	members := h.sessions[sessionID]
	delete(members, subID)
	metrics.HubSubscriptions.Dec()
	if len(members) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Publish delivers events to the session's members. The member list is
// snapshotted under the read lock and delivered outside it; a subscriber
// that cannot keep up is dropped and closed. It returns the number of
// subscribers that took every event.
func (h *Hub) Publish(sessionID string, events ...Event) int {
	h.mu.RLock()
	members := h.sessions[sessionID]
	targets := make([]Subscriber, 0, len(members))
	for _, m := range members {
		targets = append(targets, m.sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		ok := true
		for _, event := range events {
			if !sub.Deliver(event) {
				ok = false
				break
			}
		}
		if ok {
			delivered++
			continue
		}

		h.log.WithFields(logrus.Fields{
			"session_id":    sessionID,
			"subscriber_id": sub.ID(),
		}).Warn("dropping slow subscriber")
		metrics.HubDropped.Inc()
		h.LeaveAll(sub)
		sub.Close()
	}
	return delivered
}

// Members returns the number of distinct subscribers of a session.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Subscribed reports whether sub currently receives the session's events.
func (h *Hub) Subscribed(sub Subscriber, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID][sub.ID()]
	return ok
}

// ChanSubscriber is a Subscriber backed by a buffered channel. Socket
// connections drain it from their write loop.
type ChanSubscriber struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewChanSubscriber(id string, buffer int) *ChanSubscriber {
	return &ChanSubscriber{
		id:     id,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *ChanSubscriber) ID() string { return s.id }

func (s *ChanSubscriber) Deliver(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

func (s *ChanSubscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *ChanSubscriber) Events() <-chan Event { return s.events }

// Done is closed once the subscriber has been closed.
func (s *ChanSubscriber) Done() <-chan struct{} { return s.done }
