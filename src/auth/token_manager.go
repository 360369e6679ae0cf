package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/utils"
)

// DefaultRefreshBuffer is how long before expiry a token is treated as
// needing refresh.
const DefaultRefreshBuffer = 5 * time.Minute

// ConnectionStore persists connection mutations (token refresh results,
// deactivation). Satisfied by the data service.
type ConnectionStore interface {
	UpdateBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error
}

// signedCredentials is the decrypted payload for signed-scheme connections.
type signedCredentials struct {
	KeyID      string `json:"key_id"`
	Realm      string `json:"realm"`
	PrivateKey string `json:"private_key"`
}

// TokenManager owns the credential lifecycle for every connection. OAuth
// connections hold a bearer token set that expires and is refreshed in
// place; signed connections hold a private key that never expires. Refresh
// for a given connection is serialized so two concurrent refreshes cannot
// race and invalidate each other's refresh token.
type TokenManager struct {
	store         ConnectionStore
	encryptionKey []byte

	mu        sync.Mutex
	refreshMu map[uuid.UUID]*sync.Mutex
}

func NewTokenManager(store ConnectionStore, encryptionKey []byte) *TokenManager {
	return &TokenManager{
		store:         store,
		encryptionKey: encryptionKey,
		refreshMu:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// oauthConfig builds the delegated authorization-code config for a broker
// from the environment.
func oauthConfig(brokerType eventmodels.BrokerType) (*oauth2.Config, error) {
	var prefix, authURL, tokenURL string

	switch brokerType {
	case eventmodels.BrokerTypeTradier:
		prefix = "TRADIER"
		authURL = "https://api.tradier.com/v1/oauth/authorize"
		tokenURL = "https://api.tradier.com/v1/oauth/accesstoken"
	case eventmodels.BrokerTypeAlpaca:
		prefix = "ALPACA"
		authURL = "https://app.alpaca.markets/oauth/authorize"
		tokenURL = "https://api.alpaca.markets/oauth/token"
	default:
		return nil, fmt.Errorf("oauthConfig: broker %s does not use the oauth scheme", brokerType)
	}

	clientID := os.Getenv(prefix + "_CLIENT_ID")
	clientSecret := os.Getenv(prefix + "_CLIENT_SECRET")
	redirectURI := os.Getenv(prefix + "_REDIRECT_URI")

	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return nil, fmt.Errorf("oauthConfig: %s oauth credentials not configured", brokerType)
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		Scopes: []string{"read", "trade"},
	}, nil
}

// AuthorizationURL returns the URL the user is sent to for the delegated
// authorization-code flow.
func (m *TokenManager) AuthorizationURL(brokerType eventmodels.BrokerType, state string, isPaper bool) (string, error) {
	cfg, err := oauthConfig(brokerType)
	if err != nil {
		return "", fmt.Errorf("AuthorizationURL: %w", err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if isPaper {
		opts = append(opts, oauth2.SetAuthURLParam("env", "paper"))
	}

	return cfg.AuthCodeURL(state, opts...), nil
}

// HandleCallback exchanges an authorization code for a token set.
func (m *TokenManager) HandleCallback(ctx context.Context, brokerType eventmodels.BrokerType, code string) (*eventmodels.OAuthTokenSet, error) {
	cfg, err := oauthConfig(brokerType)
	if err != nil {
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &eventmodels.AuthError{BrokerType: brokerType, Reason: "authorization code exchange failed", Cause: err}
	}

	return tokenSetFromOAuth2(token), nil
}

func tokenSetFromOAuth2(token *oauth2.Token) *eventmodels.OAuthTokenSet {
	obtainedAt := time.Now().UTC()

	expiresIn := int(time.Until(token.Expiry).Seconds())
	if token.Expiry.IsZero() {
		expiresIn = 0
	}

	return &eventmodels.OAuthTokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    token.TokenType,
		ObtainedAt:   obtainedAt,
	}
}

// NeedsRefresh reports whether a connection's token must be refreshed
// before it can be routed: true when no token has ever been obtained or
// when now + buffer >= tokenExpiresAt. Signed connections never need one.
func (m *TokenManager) NeedsRefresh(conn *eventmodels.BrokerConnection, buffer time.Duration) bool {
	if conn.AuthMethod == eventmodels.AuthMethodSigned {
		return false
	}

	if conn.TokenExpiresAt == nil {
		return true
	}

	return !time.Now().UTC().Add(buffer).Before(*conn.TokenExpiresAt)
}

// Refresh exchanges the connection's refresh token for a new token set and
// persists it. A failed refresh deactivates the connection and surfaces an
// AuthError; it is never silently retried.
func (m *TokenManager) Refresh(ctx context.Context, conn *eventmodels.BrokerConnection) (*eventmodels.OAuthTokenSet, error) {
	lock := m.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	if conn.AuthMethod == eventmodels.AuthMethodSigned {
		return nil, fmt.Errorf("Refresh: signed connections have nothing to refresh")
	}

	tokens, err := m.TokenSet(conn)
	if err != nil {
		return nil, m.deactivate(ctx, conn, err)
	}

	if tokens.RefreshToken == "" {
		return nil, m.deactivate(ctx, conn, fmt.Errorf("no refresh token on record"))
	}

	cfg, err := oauthConfig(conn.BrokerType)
	if err != nil {
		return nil, m.deactivate(ctx, conn, err)
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: tokens.RefreshToken,
		Expiry:       time.Now().UTC().Add(-time.Minute), // force refresh
	})

	refreshed, err := src.Token()
	if err != nil {
		return nil, m.deactivate(ctx, conn, err)
	}

	newSet := tokenSetFromOAuth2(refreshed)
	if newSet.RefreshToken == "" {
		// Brokers that rotate refresh tokens omit the old one on reuse
		newSet.RefreshToken = tokens.RefreshToken
	}

	if err := m.storeTokenSet(ctx, conn, newSet); err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}

	log.WithFields(log.Fields{
		"connection_id": conn.ID,
		"broker":        conn.BrokerType,
	}).Info("refreshed access token")

	return newSet, nil
}

func (m *TokenManager) deactivate(ctx context.Context, conn *eventmodels.BrokerConnection, cause error) error {
	conn.IsActive = false
	conn.LastError = cause.Error()

	if err := m.store.UpdateBrokerConnection(ctx, conn); err != nil {
		log.Errorf("deactivate: failed to persist deactivation of %s: %v", conn.ID, err)
	}

	return &eventmodels.AuthError{BrokerType: conn.BrokerType, Reason: "token refresh failed", Cause: cause}
}

// StoreTokenSet seals a token set into the connection's credentials and
// persists the new expiry.
func (m *TokenManager) StoreTokenSet(ctx context.Context, conn *eventmodels.BrokerConnection, tokens *eventmodels.OAuthTokenSet) error {
	return m.storeTokenSet(ctx, conn, tokens)
}

func (m *TokenManager) storeTokenSet(ctx context.Context, conn *eventmodels.BrokerConnection, tokens *eventmodels.OAuthTokenSet) error {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("storeTokenSet: failed to marshal token set: %w", err)
	}

	sealed, err := utils.EncryptCredentials(string(payload), m.encryptionKey)
	if err != nil {
		return fmt.Errorf("storeTokenSet: %w", err)
	}

	expiresAt := tokens.ExpiresAt()

	conn.Credentials = sealed
	conn.TokenExpiresAt = &expiresAt
	conn.IsActive = true
	conn.LastError = ""

	if err := m.store.UpdateBrokerConnection(ctx, conn); err != nil {
		return fmt.Errorf("storeTokenSet: failed to persist connection: %w", err)
	}

	return nil
}

// TokenSet decrypts the connection's credentials into its token set.
func (m *TokenManager) TokenSet(conn *eventmodels.BrokerConnection) (*eventmodels.OAuthTokenSet, error) {
	if conn.Credentials == "" {
		return nil, fmt.Errorf("TokenSet: connection %s has no credentials", conn.ID)
	}

	opened, err := utils.DecryptCredentials(conn.Credentials, m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TokenSet: %w", err)
	}

	var tokens eventmodels.OAuthTokenSet
	if err := json.Unmarshal([]byte(opened), &tokens); err != nil {
		return nil, fmt.Errorf("TokenSet: failed to unmarshal token set: %w", err)
	}

	return &tokens, nil
}

// StoreSignedCredentials seals a signed-scheme key bundle into the
// connection's credentials.
func (m *TokenManager) StoreSignedCredentials(ctx context.Context, conn *eventmodels.BrokerConnection, keyID, realm, privateKeyPEM string) error {
	payload, err := json.Marshal(signedCredentials{KeyID: keyID, Realm: realm, PrivateKey: privateKeyPEM})
	if err != nil {
		return fmt.Errorf("StoreSignedCredentials: failed to marshal credentials: %w", err)
	}

	sealed, err := utils.EncryptCredentials(string(payload), m.encryptionKey)
	if err != nil {
		return fmt.Errorf("StoreSignedCredentials: %w", err)
	}

	conn.Credentials = sealed
	conn.IsActive = true
	conn.LastError = ""

	if err := m.store.UpdateBrokerConnection(ctx, conn); err != nil {
		return fmt.Errorf("StoreSignedCredentials: failed to persist connection: %w", err)
	}

	return nil
}

// SignerFor builds the request signer for a signed-scheme connection.
func (m *TokenManager) SignerFor(conn *eventmodels.BrokerConnection) (*RequestSigner, error) {
	if conn.AuthMethod != eventmodels.AuthMethodSigned {
		return nil, fmt.Errorf("SignerFor: connection %s does not use the signed scheme", conn.ID)
	}

	opened, err := utils.DecryptCredentials(conn.Credentials, m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("SignerFor: %w", err)
	}

	var creds signedCredentials
	if err := json.Unmarshal([]byte(opened), &creds); err != nil {
		return nil, fmt.Errorf("SignerFor: failed to unmarshal credentials: %w", err)
	}

	signer, err := NewRequestSigner(creds.KeyID, creds.Realm, []byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("SignerFor: %w", err)
	}

	return signer, nil
}

// TokenSourceFor exposes a connection's current access token to adapters.
func (m *TokenManager) TokenSourceFor(conn *eventmodels.BrokerConnection) (*ConnTokenSource, error) {
	tokens, err := m.TokenSet(conn)
	if err != nil {
		return nil, err
	}

	return &ConnTokenSource{token: tokens.AccessToken}, nil
}

// ConnTokenSource is a static snapshot of a connection's access token.
type ConnTokenSource struct {
	token string
}

func (s *ConnTokenSource) AccessToken() string {
	return s.token
}

func (m *TokenManager) connLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, found := m.refreshMu[id]
	if !found {
		lock = &sync.Mutex{}
		m.refreshMu[id] = lock
	}

	return lock
}
