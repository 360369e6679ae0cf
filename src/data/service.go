package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

var ErrNotFound = errors.New("record not found")

// IDatabaseService is the narrow store contract the rest of the layer
// depends on: insert, select by filter, update. No cross-record
// transactional guarantees are assumed beyond per-row atomicity.
type IDatabaseService interface {
	SaveBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error
	UpdateBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error
	DeleteBrokerConnection(ctx context.Context, id uuid.UUID) error
	FetchBrokerConnection(ctx context.Context, id uuid.UUID) (*eventmodels.BrokerConnection, error)
	FetchBrokerConnectionsByUser(ctx context.Context, userID uint) ([]*eventmodels.BrokerConnection, error)
	FetchActiveBrokerConnections(ctx context.Context) ([]*eventmodels.BrokerConnection, error)

	SaveExecutionResult(ctx context.Context, userID uint, result *eventmodels.ExecutionResult, dryRun bool) error
	FetchExecutionResult(ctx context.Context, userID uint, executionID uuid.UUID) (*eventmodels.ExecutionResult, error)
}

// DatabaseService is the GORM-backed implementation.
type DatabaseService struct {
	db *gorm.DB
}

func NewDatabaseService(db *gorm.DB) *DatabaseService {
	return &DatabaseService{db: db}
}

func (s *DatabaseService) SaveBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error {
	record := NewConnectionRecord(conn)

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("SaveBrokerConnection: failed to insert connection: %w", err)
	}

	return nil
}

func (s *DatabaseService) UpdateBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error {
	result := s.db.WithContext(ctx).
		Model(&ConnectionRecord{}).
		Where("connection_id = ?", conn.ID).
		Updates(map[string]interface{}{
			"credentials":      conn.Credentials,
			"is_active":        conn.IsActive,
			"account_id":       conn.AccountID,
			"token_expires_at": conn.TokenExpiresAt,
			"last_sync_at":     conn.LastSyncAt,
			"last_error":       conn.LastError,
		})

	if result.Error != nil {
		return fmt.Errorf("UpdateBrokerConnection: failed to update connection: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("UpdateBrokerConnection: connection %s: %w", conn.ID, ErrNotFound)
	}

	return nil
}

func (s *DatabaseService) DeleteBrokerConnection(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("connection_id = ?", id).Delete(&ConnectionRecord{}).Error; err != nil {
		return fmt.Errorf("DeleteBrokerConnection: failed to delete connection: %w", err)
	}

	return nil
}

func (s *DatabaseService) FetchBrokerConnection(ctx context.Context, id uuid.UUID) (*eventmodels.BrokerConnection, error) {
	var record ConnectionRecord

	if err := s.db.WithContext(ctx).Where("connection_id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("FetchBrokerConnection: connection %s: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("FetchBrokerConnection: query failed: %w", err)
	}

	return record.ToBrokerConnection(), nil
}

func (s *DatabaseService) FetchBrokerConnectionsByUser(ctx context.Context, userID uint) ([]*eventmodels.BrokerConnection, error) {
	var records []ConnectionRecord

	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("FetchBrokerConnectionsByUser: query failed: %w", err)
	}

	out := make([]*eventmodels.BrokerConnection, 0, len(records))
	for i := range records {
		out = append(out, records[i].ToBrokerConnection())
	}

	return out, nil
}

func (s *DatabaseService) FetchActiveBrokerConnections(ctx context.Context) ([]*eventmodels.BrokerConnection, error) {
	var records []ConnectionRecord

	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("FetchActiveBrokerConnections: query failed: %w", err)
	}

	out := make([]*eventmodels.BrokerConnection, 0, len(records))
	for i := range records {
		out = append(out, records[i].ToBrokerConnection())
	}

	return out, nil
}

func (s *DatabaseService) SaveExecutionResult(ctx context.Context, userID uint, result *eventmodels.ExecutionResult, dryRun bool) error {
	record := NewExecutionRecord(userID, result, dryRun)

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("SaveExecutionResult: failed to insert execution: %w", err)
	}

	return nil
}

func (s *DatabaseService) FetchExecutionResult(ctx context.Context, userID uint, executionID uuid.UUID) (*eventmodels.ExecutionResult, error) {
	var record ExecutionRecord

	err := s.db.WithContext(ctx).
		Preload("Trades").
		Where("execution_id = ? AND user_id = ?", executionID, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("FetchExecutionResult: execution %s: %w", executionID, ErrNotFound)
		}

		return nil, fmt.Errorf("FetchExecutionResult: query failed: %w", err)
	}

	return record.ToExecutionResult(), nil
}
