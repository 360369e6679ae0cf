package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

// MockDatabase is the in-memory IDatabaseService used by tests.
type MockDatabase struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*eventmodels.BrokerConnection
	executions  map[uuid.UUID]*eventmodels.ExecutionResult
	execOwners  map[uuid.UUID]uint

	SaveExecutionErr error
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		connections: make(map[uuid.UUID]*eventmodels.BrokerConnection),
		executions:  make(map[uuid.UUID]*eventmodels.ExecutionResult),
		execOwners:  make(map[uuid.UUID]uint),
	}
}

func (m *MockDatabase) SaveBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.connections[conn.ID]; found {
		return fmt.Errorf("MockDatabase: connection %s already exists", conn.ID)
	}

	m.connections[conn.ID] = conn
	return nil
}

func (m *MockDatabase) UpdateBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.connections[conn.ID]; !found {
		return fmt.Errorf("MockDatabase: connection %s: %w", conn.ID, ErrNotFound)
	}

	m.connections[conn.ID] = conn
	return nil
}

func (m *MockDatabase) DeleteBrokerConnection(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.connections, id)
	return nil
}

func (m *MockDatabase) FetchBrokerConnection(ctx context.Context, id uuid.UUID) (*eventmodels.BrokerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, found := m.connections[id]
	if !found {
		return nil, fmt.Errorf("MockDatabase: connection %s: %w", id, ErrNotFound)
	}

	return conn, nil
}

func (m *MockDatabase) FetchBrokerConnectionsByUser(ctx context.Context, userID uint) ([]*eventmodels.BrokerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*eventmodels.BrokerConnection
	for _, conn := range m.connections {
		if conn.UserID == userID {
			out = append(out, conn)
		}
	}

	return out, nil
}

func (m *MockDatabase) FetchActiveBrokerConnections(ctx context.Context) ([]*eventmodels.BrokerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*eventmodels.BrokerConnection
	for _, conn := range m.connections {
		if conn.IsActive {
			out = append(out, conn)
		}
	}

	return out, nil
}

func (m *MockDatabase) SaveExecutionResult(ctx context.Context, userID uint, result *eventmodels.ExecutionResult, dryRun bool) error {
	if m.SaveExecutionErr != nil {
		return m.SaveExecutionErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[result.ExecutionID] = result
	m.execOwners[result.ExecutionID] = userID
	return nil
}

func (m *MockDatabase) FetchExecutionResult(ctx context.Context, userID uint, executionID uuid.UUID) (*eventmodels.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, found := m.executions[executionID]
	if !found || m.execOwners[executionID] != userID {
		return nil, fmt.Errorf("MockDatabase: execution %s: %w", executionID, ErrNotFound)
	}

	return result, nil
}
