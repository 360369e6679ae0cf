package routing

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tradoverse/brokerage/src/auth"
	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/eventmodels"
)

// defaultPriorities orders broker types per asset class: full-service
// brokers are tried before single-asset ones.
var defaultPriorities = map[eventmodels.AssetClass][]eventmodels.BrokerType{
	eventmodels.AssetClassEquity: {
		eventmodels.BrokerTypeAlpaca,
		eventmodels.BrokerTypeTradier,
		eventmodels.BrokerTypeIBKR,
	},
	eventmodels.AssetClassOption: {
		eventmodels.BrokerTypeTradier,
		eventmodels.BrokerTypeIBKR,
	},
	eventmodels.AssetClassFuture: {
		eventmodels.BrokerTypeIBKR,
	},
	eventmodels.AssetClassForex: {
		eventmodels.BrokerTypeIBKR,
	},
	eventmodels.AssetClassCrypto: {
		eventmodels.BrokerTypeCoinbase,
		eventmodels.BrokerTypeAlpaca,
	},
}

// PriorityConfigYAML overrides the default routing order from a config
// file.
type PriorityConfigYAML struct {
	Priorities map[eventmodels.AssetClass][]eventmodels.BrokerType `yaml:"priorities"`
}

func LoadPriorities(path string) (map[eventmodels.AssetClass][]eventmodels.BrokerType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadPriorities: failed to read %s: %w", path, err)
	}

	var cfg PriorityConfigYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadPriorities: failed to parse %s: %w", path, err)
	}

	merged := make(map[eventmodels.AssetClass][]eventmodels.BrokerType, len(defaultPriorities))
	for class, order := range defaultPriorities {
		merged[class] = order
	}
	for class, order := range cfg.Priorities {
		merged[class] = order
	}

	return merged, nil
}

// Route is a selected connection/adapter pair.
type Route struct {
	ConnectionID uuid.UUID
	BrokerType   eventmodels.BrokerType
	Adapter      brokers.Adapter
}

// Router selects the best available connection for an order. It never
// returns a connection whose declared capabilities exclude the requested
// asset class.
type Router struct {
	manager       *connections.Manager
	tokens        *auth.TokenManager
	priorities    map[eventmodels.AssetClass][]eventmodels.BrokerType
	refreshBuffer time.Duration
}

func NewRouter(manager *connections.Manager, tokens *auth.TokenManager, priorities map[eventmodels.AssetClass][]eventmodels.BrokerType) *Router {
	if priorities == nil {
		priorities = defaultPriorities
	}

	return &Router{
		manager:       manager,
		tokens:        tokens,
		priorities:    priorities,
		refreshBuffer: auth.DefaultRefreshBuffer,
	}
}

// Route picks the first broker type in the asset class priority order that
// (a) declares the asset class, (b) has an active, non-expired connection
// and (c) has no overdue token refresh. Ties within the same broker type
// go to the most recently synced connection.
func (r *Router) Route(assetClass eventmodels.AssetClass, symbol string, side eventmodels.OrderSide) (*Route, error) {
	order, found := r.priorities[assetClass]
	if !found {
		return nil, &eventmodels.NoRouteError{AssetClass: assetClass}
	}

	var failures []eventmodels.RouteCheckFailure

	for _, brokerType := range order {
		caps, found := brokers.CapabilitiesFor(brokerType)
		if !found || !caps.SupportsAssetClass(assetClass) {
			failures = append(failures, eventmodels.RouteCheckFailure{
				BrokerType: brokerType,
				Check:      fmt.Sprintf("capabilities do not declare asset class %s", assetClass),
			})
			continue
		}

		candidate := r.pickConnection(brokerType)
		if candidate == nil {
			failures = append(failures, eventmodels.RouteCheckFailure{
				BrokerType: brokerType,
				Check:      "no active connection",
			})
			continue
		}

		if r.tokens.NeedsRefresh(candidate, r.refreshBuffer) {
			failures = append(failures, eventmodels.RouteCheckFailure{
				BrokerType: brokerType,
				Check:      "token refresh overdue",
			})
			continue
		}

		adapter := r.manager.GetAdapter(candidate.ID)
		if adapter == nil {
			failures = append(failures, eventmodels.RouteCheckFailure{
				BrokerType: brokerType,
				Check:      "no live adapter bound",
			})
			continue
		}

		log.WithFields(log.Fields{
			"asset_class":   assetClass,
			"symbol":        symbol,
			"side":          side,
			"broker":        brokerType,
			"connection_id": candidate.ID,
		}).Debug("routed order")

		return &Route{
			ConnectionID: candidate.ID,
			BrokerType:   brokerType,
			Adapter:      adapter,
		}, nil
	}

	return nil, &eventmodels.NoRouteError{AssetClass: assetClass, Failures: failures}
}

// pickConnection returns the active connection for a broker type with the
// most recent sync, or nil when none qualifies.
func (r *Router) pickConnection(brokerType eventmodels.BrokerType) *eventmodels.BrokerConnection {
	var best *eventmodels.BrokerConnection

	for _, conn := range r.manager.ConnectionsForBroker(brokerType) {
		if !conn.IsActive {
			continue
		}

		if best == nil {
			best = conn
			continue
		}

		if lastSync(conn).After(lastSync(best)) {
			best = conn
		}
	}

	return best
}

func lastSync(conn *eventmodels.BrokerConnection) time.Time {
	if conn.LastSyncAt == nil {
		return time.Time{}
	}

	return *conn.LastSyncAt
}
