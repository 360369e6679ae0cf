package worker

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/auth"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/data"
	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/eventpubsub"
)

// ConnectionSyncWorker periodically walks the active connections and
// refreshes every delegated token that is inside the refresh buffer.
// A connection whose refresh fails is deactivated by the token manager;
// the worker only has to drop its live adapter.
type ConnectionSyncWorker struct {
	db          data.IDatabaseService
	tokens      *auth.TokenManager
	connManager *connections.Manager
	interval    time.Duration
}

func NewConnectionSyncWorker(db data.IDatabaseService, tokens *auth.TokenManager, connManager *connections.Manager, interval time.Duration) *ConnectionSyncWorker {
	return &ConnectionSyncWorker{
		db:          db,
		tokens:      tokens,
		connManager: connManager,
		interval:    interval,
	}
}

func (w *ConnectionSyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncOnce(ctx)
		}
	}
}

func (w *ConnectionSyncWorker) syncOnce(ctx context.Context) {
	conns, err := w.db.FetchActiveBrokerConnections(ctx)
	if err != nil {
		log.Errorf("ConnectionSyncWorker: failed to list active connections: %v", err)
		return
	}

	for _, conn := range conns {
		w.syncConnection(ctx, conn)
	}
}

func (w *ConnectionSyncWorker) syncConnection(ctx context.Context, conn *eventmodels.BrokerConnection) {
	if conn.AuthMethod == eventmodels.AuthMethodOAuth && w.tokens.NeedsRefresh(conn, auth.DefaultRefreshBuffer) {
		if _, err := w.tokens.Refresh(ctx, conn); err != nil {
			var authErr *eventmodels.AuthError
			if errors.As(err, &authErr) {
				log.Warnf("ConnectionSyncWorker: connection %s deactivated: %v", conn.ID, err)
				w.connManager.Disconnect(conn.ID)
			} else {
				log.Errorf("ConnectionSyncWorker: refresh of connection %s failed: %v", conn.ID, err)
			}

			return
		}
	}

	now := time.Now().UTC()
	conn.LastSyncAt = &now

	if err := w.db.UpdateBrokerConnection(ctx, conn); err != nil {
		log.Errorf("ConnectionSyncWorker: failed to persist sync time for %s: %v", conn.ID, err)
		return
	}

	eventpubsub.Publish("ConnectionSyncWorker", eventpubsub.ConnectionSyncEvent, conn.ID)
}
