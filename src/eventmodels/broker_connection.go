package eventmodels

import (
	"time"

	"github.com/google/uuid"
)

// BrokerConnection is a user's authorized link to one broker account.
// Exactly one live adapter instance is bound to a connection at a time.
type BrokerConnection struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uint       `json:"user_id"`
	BrokerType     BrokerType `json:"broker_type"`
	AuthMethod     AuthMethod `json:"auth_method"`
	Credentials    string     `json:"-"` // encrypted, opaque to everything but the token manager
	IsPaper        bool       `json:"is_paper"`
	IsActive       bool       `json:"is_active"`
	AccountID      string     `json:"account_id"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}
