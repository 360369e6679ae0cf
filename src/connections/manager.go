package connections

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/eventmodels"
)

type liveConnection struct {
	conn    *eventmodels.BrokerConnection
	adapter brokers.Adapter
}

// Manager owns the set of live adapter instances. The connection map is
// the only mutable shared state here; every mutation is atomic with
// respect to concurrent readers.
type Manager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*liveConnection
}

func NewManager() *Manager {
	return &Manager{
		conns: make(map[uuid.UUID]*liveConnection),
	}
}

// Connect binds an adapter instance to a connection, replacing any
// previous binding for the same id.
func (m *Manager) Connect(conn *eventmodels.BrokerConnection, adapter brokers.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.conns[conn.ID]; found {
		log.Warnf("Manager.Connect: replacing live adapter for connection %s", conn.ID)
	}

	m.conns[conn.ID] = &liveConnection{conn: conn, adapter: adapter}
}

// GetAdapter returns the live adapter for a connection id, or nil when the
// id is unknown. Callers branch on nil; a miss is not an error.
func (m *Manager) GetAdapter(id uuid.UUID) brokers.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live, found := m.conns[id]
	if !found {
		return nil
	}

	return live.adapter
}

// GetConnection returns the connection record bound to an id, or nil.
func (m *Manager) GetConnection(id uuid.UUID) *eventmodels.BrokerConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live, found := m.conns[id]
	if !found {
		return nil
	}

	return live.conn
}

// Disconnect removes a connection's adapter. Disconnecting an unknown or
// already-disconnected id is a no-op.
func (m *Manager) Disconnect(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.conns[id]; !found {
		return
	}

	delete(m.conns, id)
	log.Infof("Manager.Disconnect: removed connection %s", id)
}

// ActiveConnections lists the ids of every live connection.
func (m *Manager) ActiveConnections() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}

	return ids
}

// ConnectionsForBroker returns every live connection of a broker type.
// Used by the order router to enumerate candidates.
func (m *Manager) ConnectionsForBroker(brokerType eventmodels.BrokerType) []*eventmodels.BrokerConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*eventmodels.BrokerConnection
	for _, live := range m.conns {
		if live.conn.BrokerType == brokerType {
			out = append(out, live.conn)
		}
	}

	return out
}
