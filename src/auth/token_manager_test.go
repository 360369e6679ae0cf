package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

type mockConnectionStore struct {
	updated []*eventmodels.BrokerConnection
}

func (s *mockConnectionStore) UpdateBrokerConnection(ctx context.Context, conn *eventmodels.BrokerConnection) error {
	s.updated = append(s.updated, conn)
	return nil
}

func newTestManager() (*TokenManager, *mockConnectionStore) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)

	store := &mockConnectionStore{}
	return NewTokenManager(store, key), store
}

func TestNeedsRefresh(t *testing.T) {
	m, _ := newTestManager()
	buffer := 5 * time.Minute

	t.Run("no token ever obtained", func(t *testing.T) {
		conn := &eventmodels.BrokerConnection{AuthMethod: eventmodels.AuthMethodOAuth}
		assert.True(t, m.NeedsRefresh(conn, buffer))
	})

	t.Run("expires well inside the buffer", func(t *testing.T) {
		expiresAt := time.Now().UTC().Add(2 * time.Minute)
		conn := &eventmodels.BrokerConnection{AuthMethod: eventmodels.AuthMethodOAuth, TokenExpiresAt: &expiresAt}
		assert.True(t, m.NeedsRefresh(conn, buffer))
	})

	t.Run("expires past the buffer", func(t *testing.T) {
		expiresAt := time.Now().UTC().Add(time.Hour)
		conn := &eventmodels.BrokerConnection{AuthMethod: eventmodels.AuthMethodOAuth, TokenExpiresAt: &expiresAt}
		assert.False(t, m.NeedsRefresh(conn, buffer))
	})

	t.Run("exactly at the boundary", func(t *testing.T) {
		// now + buffer == tokenExpiresAt must refresh
		expiresAt := time.Now().UTC().Add(buffer)
		conn := &eventmodels.BrokerConnection{AuthMethod: eventmodels.AuthMethodOAuth, TokenExpiresAt: &expiresAt}
		assert.True(t, m.NeedsRefresh(conn, buffer))
	})

	t.Run("signed connections never refresh", func(t *testing.T) {
		conn := &eventmodels.BrokerConnection{AuthMethod: eventmodels.AuthMethodSigned}
		assert.False(t, m.NeedsRefresh(conn, buffer))
	})
}

func TestRefreshFailureDeactivatesConnection(t *testing.T) {
	m, store := newTestManager()

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		BrokerType: eventmodels.BrokerTypeTradier,
		AuthMethod: eventmodels.AuthMethodOAuth,
		IsActive:   true,
		// no credentials on record, so the refresh cannot proceed
	}

	_, err := m.Refresh(context.Background(), conn)
	require.Error(t, err)

	var authErr *eventmodels.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, eventmodels.BrokerTypeTradier, authErr.BrokerType)

	assert.False(t, conn.IsActive)
	assert.NotEmpty(t, conn.LastError)
	require.Len(t, store.updated, 1)
	assert.False(t, store.updated[0].IsActive)
}

// countingTokenEndpoint stands in for the broker's token endpoint and
// records how many exchanges are in flight at once.
type countingTokenEndpoint struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
}

func (e *countingTokenEndpoint) RoundTrip(req *http.Request) (*http.Response, error) {
	e.mu.Lock()
	e.calls++
	e.inFlight++
	if e.inFlight > e.peak {
		e.peak = e.inFlight
	}
	e.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()

	body := `{"access_token":"new-access","token_type":"Bearer","refresh_token":"r2","expires_in":3600}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestRefreshSerializesPerConnection(t *testing.T) {
	t.Setenv("TRADIER_CLIENT_ID", "cid")
	t.Setenv("TRADIER_CLIENT_SECRET", "secret")
	t.Setenv("TRADIER_REDIRECT_URI", "https://localhost/callback")

	m, _ := newTestManager()

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		BrokerType: eventmodels.BrokerTypeTradier,
		AuthMethod: eventmodels.AuthMethodOAuth,
		IsActive:   true,
	}

	require.NoError(t, m.StoreTokenSet(context.Background(), conn, &eventmodels.OAuthTokenSet{
		AccessToken:  "old-access",
		RefreshToken: "r1",
		ExpiresIn:    60,
		TokenType:    "Bearer",
		ObtainedAt:   time.Now().UTC(),
	}))

	endpoint := &countingTokenEndpoint{}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: endpoint})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Refresh(ctx, conn)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, 2, endpoint.calls)
	assert.Equal(t, 1, endpoint.peak, "refreshes for one connection overlapped")
	assert.True(t, conn.IsActive)
}

func TestTokenSetRoundTrip(t *testing.T) {
	m, store := newTestManager()

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		BrokerType: eventmodels.BrokerTypeAlpaca,
		AuthMethod: eventmodels.AuthMethodOAuth,
	}

	tokens := &eventmodels.OAuthTokenSet{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		ExpiresIn:    3600,
		TokenType:    "Bearer",
		ObtainedAt:   time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, m.StoreTokenSet(context.Background(), conn, tokens))
	require.Len(t, store.updated, 1)
	assert.True(t, conn.IsActive)
	require.NotNil(t, conn.TokenExpiresAt)
	assert.WithinDuration(t, tokens.ExpiresAt(), *conn.TokenExpiresAt, time.Second)

	opened, err := m.TokenSet(conn)
	require.NoError(t, err)
	assert.Equal(t, tokens.AccessToken, opened.AccessToken)
	assert.Equal(t, tokens.RefreshToken, opened.RefreshToken)

	src, err := m.TokenSourceFor(conn)
	require.NoError(t, err)
	assert.Equal(t, "access-abc", src.AccessToken())
}

func TestRequestSigner(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})

	signer, err := NewRequestSigner("key-1", "limited_poa", keyPEM)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://api.ibkr.com/v1/api/iserver/account/U123/orders", nil)
	require.NoError(t, err)

	require.NoError(t, signer.Sign(req))

	header := req.Header.Get("Authorization")
	require.NotEmpty(t, header)
	assert.Contains(t, header, `realm="limited_poa"`)
	assert.Contains(t, header, `keyId="key-1"`)

	t.Run("signature verifies", func(t *testing.T) {
		fields := map[string]string{}
		for _, part := range strings.Split(strings.TrimPrefix(header, "Signed "), ", ") {
			kv := strings.SplitN(part, "=", 2)
			require.Len(t, kv, 2)
			fields[kv[0]] = strings.Trim(kv[1], `"`)
		}

		err := signer.Verify(req.Method, req.URL.String(), fields["timestamp"], fields["nonce"], fields["signature"])
		assert.NoError(t, err)
	})

	t.Run("tampered request fails", func(t *testing.T) {
		fields := map[string]string{}
		for _, part := range strings.Split(strings.TrimPrefix(header, "Signed "), ", ") {
			kv := strings.SplitN(part, "=", 2)
			fields[kv[0]] = strings.Trim(kv[1], `"`)
		}

		err := signer.Verify(req.Method, "https://api.ibkr.com/v1/api/other", fields["timestamp"], fields["nonce"], fields["signature"])
		assert.Error(t, err)
	})
}

func TestStoreSignedCredentials(t *testing.T) {
	m, _ := newTestManager()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		BrokerType: eventmodels.BrokerTypeIBKR,
		AuthMethod: eventmodels.AuthMethodSigned,
	}

	require.NoError(t, m.StoreSignedCredentials(context.Background(), conn, "key-1", "limited_poa", string(keyPEM)))

	signer, err := m.SignerFor(conn)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://api.ibkr.com/v1/api/iserver/auth/status", nil)
	require.NoError(t, err)
	assert.NoError(t, signer.Sign(req))
}
