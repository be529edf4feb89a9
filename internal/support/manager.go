package support

import (
	"context"
	"log/slog"
	"sync"

	"github.com/beanjournal/support-console/internal/identity"
)

// Manager keeps one coordinator per signed-in agent, created lazily on first
// use. Each coordinator holds that agent's independent in-memory view.
type Manager struct {
	store Store
	open  ChannelOpener

	mu     sync.Mutex
	coords map[string]*Coordinator
}

// NewManager creates a coordinator registry.
func NewManager(store Store, open ChannelOpener) *Manager {
	return &Manager{
		store:  store,
		open:   open,
		coords: make(map[string]*Coordinator),
	}
}

// ForAgent returns the agent's coordinator, initializing one on first use.
func (m *Manager) ForAgent(ctx context.Context, agent identity.Identity) (*Coordinator, error) {
	m.mu.Lock()
	if coord, ok := m.coords[agent.ID]; ok {
		m.mu.Unlock()
		return coord, nil
	}
	m.mu.Unlock()

	// Initialization does store and channel work; keep it outside the lock
	// and tolerate a racing duplicate, discarding the loser.
	coord := New(agent, m.store, m.open)
	if err := coord.Initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.coords[agent.ID]; ok {
		if err := coord.Close(); err != nil {
			slog.Debug("Failed to close duplicate coordinator", "agent_id", agent.ID, "error", err)
		}
		return existing, nil
	}
	m.coords[agent.ID] = coord
	return coord, nil
}

// CloseAll releases every coordinator's channel subscription.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	coords := make([]*Coordinator, 0, len(m.coords))
	for _, c := range m.coords {
		coords = append(coords, c)
	}
	m.coords = make(map[string]*Coordinator)
	m.mu.Unlock()

	for _, c := range coords {
		if err := c.Close(); err != nil {
			slog.Debug("Failed to close coordinator", "error", err)
		}
	}
}
