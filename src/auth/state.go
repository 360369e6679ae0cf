package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

// OAuthState is the opaque state parameter carried through the delegated
// authorization flow. The callback recovers the connection's identity from
// it instead of trusting extra query parameters.
type OAuthState struct {
	Broker eventmodels.BrokerType `json:"broker"`
	UserID uint                   `json:"user_id"`
	Paper  bool                   `json:"paper"`
	Nonce  string                 `json:"nonce"`
}

func NewOAuthState(broker eventmodels.BrokerType, userID uint, paper bool) OAuthState {
	return OAuthState{
		Broker: broker,
		UserID: userID,
		Paper:  paper,
		Nonce:  uuid.NewString(),
	}
}

func (s OAuthState) Encode() (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("OAuthState.Encode: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(payload), nil
}

func DecodeOAuthState(encoded string) (*OAuthState, error) {
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("DecodeOAuthState: not base64: %w", err)
	}

	var state OAuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("DecodeOAuthState: %w", err)
	}

	if state.Broker == "" {
		return nil, fmt.Errorf("DecodeOAuthState: state carries no broker")
	}

	return &state, nil
}
