package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// subscriptionBuffer bounds the per-subscriber event queue. A subscriber that
// cannot keep up has events dropped rather than stalling the whole topic.
const subscriptionBuffer = 64

// Hub is an in-process topic-scoped pub/sub with presence. It stands in for
// the hosted realtime product: broadcasts fan out to every other subscriber
// of the topic, and presence tracking emits sync events to everyone.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

type topic struct {
	subs     map[*Subscription]struct{}
	presence map[string]AgentPresence
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscription is one subscriber's handle on a topic. Events are delivered on
// a dedicated goroutine so a slow handler never blocks publishers or other
// subscribers.
type Subscription struct {
	hub     *Hub
	topic   string
	key     string
	handler func(Event)
	events  chan Event
	done    chan struct{}
	once    sync.Once
}

// Subscribe attaches a handler to a topic. key identifies the subscriber for
// presence purposes (the agent's identity id, or a session id for end-user
// clients).
func (h *Hub) Subscribe(topicName, key string, handler func(Event)) *Subscription {
	sub := &Subscription{
		hub:     h,
		topic:   topicName,
		key:     key,
		handler: handler,
		events:  make(chan Event, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	t, ok := h.topics[topicName]
	if !ok {
		t = &topic{
			subs:     make(map[*Subscription]struct{}),
			presence: make(map[string]AgentPresence),
		}
		h.topics[topicName] = t
	}
	t.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.deliverLoop()

	slog.Debug("Subscribed to topic", "topic", topicName, "key", key)
	return sub
}

func (s *Subscription) deliverLoop() {
	for {
		select {
		case ev := <-s.events:
			s.handler(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) enqueue(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		slog.Warn("Dropping event for slow subscriber",
			"topic", s.topic, "key", s.key, "event", ev.Name())
	}
}

// Broadcast publishes an event to every other subscriber of the topic. The
// publisher does not receive its own broadcast.
func (s *Subscription) Broadcast(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.hub.mu.RLock()
	t, ok := s.hub.topics[s.topic]
	if !ok {
		s.hub.mu.RUnlock()
		return nil
	}
	targets := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		if sub != s {
			targets = append(targets, sub)
		}
	}
	s.hub.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(ev)
	}
	return nil
}

// Track records the subscriber's presence on the topic and emits a presence
// sync to all subscribers, itself included.
func (s *Subscription) Track(ctx context.Context, p AgentPresence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.setPresence(s.topic, s.key, &p)
	return nil
}

// Untrack removes the subscriber's presence and emits a presence sync.
func (s *Subscription) Untrack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.setPresence(s.topic, s.key, nil)
	return nil
}

func (h *Hub) setPresence(topicName, key string, p *AgentPresence) {
	h.mu.Lock()
	t, ok := h.topics[topicName]
	if !ok {
		h.mu.Unlock()
		return
	}
	if p != nil {
		t.presence[key] = *p
	} else {
		delete(t.presence, key)
	}

	sync := PresenceSync{Agents: make([]AgentPresence, 0, len(t.presence))}
	for _, present := range t.presence {
		sync.Agents = append(sync.Agents, present)
	}
	targets := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.enqueue(sync)
	}
}

// Presence returns the currently tracked presences on a topic.
func (h *Hub) Presence(topicName string) []AgentPresence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.topics[topicName]
	if !ok {
		return nil
	}
	out := make([]AgentPresence, 0, len(t.presence))
	for _, p := range t.presence {
		out = append(out, p)
	}
	return out
}

// Close unsubscribes from the topic and releases any tracked presence.
// Disposal of the subscription is the only cancellable resource on the
// channel side.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		var hadPresence bool
		if t, ok := s.hub.topics[s.topic]; ok {
			delete(t.subs, s)
			_, hadPresence = t.presence[s.key]
			if len(t.subs) == 0 {
				delete(s.hub.topics, s.topic)
				hadPresence = false
			}
		}
		s.hub.mu.Unlock()

		if hadPresence {
			s.hub.setPresence(s.topic, s.key, nil)
		}
		close(s.done)
		slog.Debug("Unsubscribed from topic", "topic", s.topic, "key", s.key)
	})
	return nil
}
