package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/auth"
	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/data"
	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/execution"
	"github.com/tradoverse/brokerage/src/realtime"
	"github.com/tradoverse/brokerage/src/routing"
)

// Server holds the services the HTTP boundary dispatches into. It owns no
// state of its own.
type Server struct {
	Tokens      *auth.TokenManager
	ConnManager *connections.Manager
	Router      *routing.Router
	Executor    *execution.TradeExecutionService
	DB          data.IDatabaseService
	Hub         *realtime.Hub
}

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func setResponse(response interface{}, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("setResponse: encode: %w", err)
	}

	return nil
}

func setErrorResponse(errType string, statusCode int, err error, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := &errorResponse{Type: errType, Msg: err.Error()}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		return encodeErr
	}

	return nil
}

// setWebError picks the status code off a WebError when the cause carries
// one, falling back to 500.
func setWebError(errType string, err error, w http.ResponseWriter) {
	var webErr *eventmodels.WebError
	if errors.As(err, &webErr) {
		setErrorResponse(errType, webErr.StatusCode, err, w)
		return
	}

	var authErr *eventmodels.AuthError
	if errors.As(err, &authErr) {
		setErrorResponse(errType, http.StatusUnauthorized, err, w)
		return
	}

	var unsupportedErr *eventmodels.UnsupportedBrokerError
	if errors.As(err, &unsupportedErr) {
		setErrorResponse(errType, http.StatusBadRequest, err, w)
		return
	}

	var noRouteErr *eventmodels.NoRouteError
	if errors.As(err, &noRouteErr) {
		setErrorResponse(errType, http.StatusConflict, err, w)
		return
	}

	setErrorResponse(errType, http.StatusInternalServerError, err, w)
}

func (s *Server) handleBrokers(w http.ResponseWriter, r *http.Request) {
	if err := setResponse(brokers.AvailableBrokers(), w); err != nil {
		log.Errorf("handleBrokers: %v", err)
	}
}

type authorizeRequest struct {
	UserID uint `schema:"user_id"`
	Paper  bool `schema:"paper"`
}

// handleAuthorize mints the authorization URL. The connection's identity
// (broker, user, paper) rides the opaque state parameter so the callback
// can recover it without extra query parameters.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	brokerType := eventmodels.BrokerType(mux.Vars(r)["type"])

	var req authorizeRequest
	if err := schema.NewDecoder().Decode(&req, r.URL.Query()); err != nil {
		setErrorResponse("handleAuthorize", http.StatusBadRequest, err, w)
		return
	}

	state, err := auth.NewOAuthState(brokerType, req.UserID, req.Paper).Encode()
	if err != nil {
		setErrorResponse("handleAuthorize", http.StatusInternalServerError, err, w)
		return
	}

	url, err := s.Tokens.AuthorizationURL(brokerType, state, req.Paper)
	if err != nil {
		setWebError("handleAuthorize", err, w)
		return
	}

	setResponse(map[string]string{"authorization_url": url}, w)
}

type callbackRequest struct {
	Code  string `schema:"code"`
	State string `schema:"state"`
}

// handleCallback finishes the delegated authorization flow: recover the
// identity from the state parameter, exchange the code, persist a new
// connection with the encrypted token set, and bind a live adapter for it.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	var req callbackRequest
	if err := decoder.Decode(&req, r.URL.Query()); err != nil {
		setErrorResponse("handleCallback", http.StatusBadRequest, err, w)
		return
	}

	if req.Code == "" {
		setErrorResponse("handleCallback", http.StatusBadRequest, fmt.Errorf("missing authorization code"), w)
		return
	}

	state, err := auth.DecodeOAuthState(req.State)
	if err != nil {
		setErrorResponse("handleCallback", http.StatusBadRequest, err, w)
		return
	}

	tokens, err := s.Tokens.HandleCallback(r.Context(), state.Broker, req.Code)
	if err != nil {
		setWebError("handleCallback", err, w)
		return
	}

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		UserID:     state.UserID,
		BrokerType: state.Broker,
		AuthMethod: eventmodels.AuthMethodOAuth,
		IsPaper:    state.Paper,
		IsActive:   true,
	}

	if err := s.Tokens.StoreTokenSet(r.Context(), conn, tokens); err != nil {
		setWebError("handleCallback", err, w)
		return
	}

	if err := s.DB.SaveBrokerConnection(r.Context(), conn); err != nil {
		setErrorResponse("handleCallback", http.StatusInternalServerError, err, w)
		return
	}

	if err := s.bindAdapter(conn); err != nil {
		setWebError("handleCallback", err, w)
		return
	}

	setResponse(conn, w)
}

type signedConnectRequest struct {
	UserID     uint   `json:"user_id"`
	AccountID  string `json:"account_id"`
	KeyID      string `json:"key_id"`
	Realm      string `json:"realm"`
	PrivateKey string `json:"private_key"`
	Paper      bool   `json:"paper"`
}

// handleSignedConnect registers a connection for a broker on the signed
// request scheme, where there is no authorization redirect.
func (s *Server) handleSignedConnect(w http.ResponseWriter, r *http.Request) {
	brokerType := eventmodels.BrokerType(mux.Vars(r)["type"])

	var req signedConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleSignedConnect", http.StatusBadRequest, err, w)
		return
	}

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		UserID:     req.UserID,
		BrokerType: brokerType,
		AuthMethod: eventmodels.AuthMethodSigned,
		AccountID:  req.AccountID,
		IsPaper:    req.Paper,
		IsActive:   true,
	}

	if err := s.Tokens.StoreSignedCredentials(r.Context(), conn, req.KeyID, req.Realm, req.PrivateKey); err != nil {
		setWebError("handleSignedConnect", err, w)
		return
	}

	if err := s.DB.SaveBrokerConnection(r.Context(), conn); err != nil {
		setErrorResponse("handleSignedConnect", http.StatusInternalServerError, err, w)
		return
	}

	if err := s.bindAdapter(conn); err != nil {
		setWebError("handleSignedConnect", err, w)
		return
	}

	setResponse(conn, w)
}

// bindAdapter constructs the adapter for a connection's auth scheme and
// registers it with the connection manager.
func (s *Server) bindAdapter(conn *eventmodels.BrokerConnection) error {
	cfg := brokers.AdapterConfig{
		AccountID: conn.AccountID,
		IsPaper:   conn.IsPaper,
	}

	switch conn.AuthMethod {
	case eventmodels.AuthMethodOAuth:
		tokenSource, err := s.Tokens.TokenSourceFor(conn)
		if err != nil {
			return fmt.Errorf("bindAdapter: %w", err)
		}
		cfg.Tokens = tokenSource
	case eventmodels.AuthMethodSigned:
		signer, err := s.Tokens.SignerFor(conn)
		if err != nil {
			return fmt.Errorf("bindAdapter: %w", err)
		}
		cfg.Signer = signer
	default:
		return fmt.Errorf("bindAdapter: unknown auth method %s", conn.AuthMethod)
	}

	adapter, err := brokers.CreateAdapter(conn.BrokerType, cfg)
	if err != nil {
		return err
	}

	s.ConnManager.Connect(conn, adapter)
	return nil
}

// RestoreConnections rebinds adapters for every active stored connection.
// Called once at startup; a connection that fails to bind is logged and
// skipped rather than blocking boot.
func (s *Server) RestoreConnections(ctx context.Context) error {
	conns, err := s.DB.FetchActiveBrokerConnections(ctx)
	if err != nil {
		return fmt.Errorf("RestoreConnections: %w", err)
	}

	for _, conn := range conns {
		if err := s.bindAdapter(conn); err != nil {
			log.Errorf("RestoreConnections: failed to bind connection %s: %v", conn.ID, err)
			continue
		}

		log.Infof("RestoreConnections: restored %s connection %s", conn.BrokerType, conn.ID)
	}

	return nil
}

func (s *Server) handleExecuteTrades(w http.ResponseWriter, r *http.Request) {
	var req eventmodels.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("handleExecuteTrades", http.StatusBadRequest, err, w)
		return
	}

	result, err := s.Executor.ExecuteTrades(r.Context(), &req)
	if err != nil {
		setWebError("handleExecuteTrades", err, w)
		return
	}

	setResponse(result, w)
}

type cancelRequest struct {
	UserID uint `schema:"user_id"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(mux.Vars(r)["executionId"])
	if err != nil {
		setErrorResponse("handleCancelOrder", http.StatusBadRequest, fmt.Errorf("invalid execution id: %w", err), w)
		return
	}

	var req cancelRequest
	if err := schema.NewDecoder().Decode(&req, r.URL.Query()); err != nil {
		setErrorResponse("handleCancelOrder", http.StatusBadRequest, err, w)
		return
	}

	result, err := s.Executor.CancelOrder(r.Context(), req.UserID, executionID)
	if err != nil {
		setWebError("handleCancelOrder", err, w)
		return
	}

	setResponse(result, w)
}

type listConnectionsRequest struct {
	UserID uint `schema:"user_id"`
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	var req listConnectionsRequest
	if err := schema.NewDecoder().Decode(&req, r.URL.Query()); err != nil {
		setErrorResponse("handleListConnections", http.StatusBadRequest, err, w)
		return
	}

	conns, err := s.DB.FetchBrokerConnectionsByUser(r.Context(), req.UserID)
	if err != nil {
		setErrorResponse("handleListConnections", http.StatusInternalServerError, err, w)
		return
	}

	setResponse(conns, w)
}

// handleDisconnect removes the live adapter and hard-deletes the stored
// connection. Repeating the call is a no-op.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		setErrorResponse("handleDisconnect", http.StatusBadRequest, fmt.Errorf("invalid connection id: %w", err), w)
		return
	}

	s.ConnManager.Disconnect(id)

	if err := s.DB.DeleteBrokerConnection(r.Context(), id); err != nil {
		setErrorResponse("handleDisconnect", http.StatusInternalServerError, err, w)
		return
	}

	setResponse(map[string]string{"status": "disconnected", "deleted_at": time.Now().UTC().Format(time.RFC3339)}, w)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	realtime.ServeWS(s.Hub, w, r)
}

func SetupHandler(router *mux.Router, s *Server) {
	router.HandleFunc("/brokers", s.handleBrokers).Methods("GET")
	router.HandleFunc("/brokers/{type}/authorize", s.handleAuthorize).Methods("GET")
	router.HandleFunc("/brokers/callback", s.handleCallback).Methods("GET")
	router.HandleFunc("/brokers/{type}/connect", s.handleSignedConnect).Methods("POST")
	router.HandleFunc("/trades/execute", s.handleExecuteTrades).Methods("POST")
	router.HandleFunc("/orders/{executionId}/cancel", s.handleCancelOrder).Methods("POST")
	router.HandleFunc("/connections", s.handleListConnections).Methods("GET")
	router.HandleFunc("/connections/{id}", s.handleDisconnect).Methods("DELETE")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}
