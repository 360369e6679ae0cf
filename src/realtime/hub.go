package realtime

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/eventpubsub"
)

type SubscriptionKind string

const (
	KindPrice     SubscriptionKind = "price"
	KindPortfolio SubscriptionKind = "portfolio"
	KindBot       SubscriptionKind = "bot"
)

// Envelope is the single outbound message shape pushed to sessions.
type Envelope struct {
	Kind SubscriptionKind `json:"kind"`
	Key  string           `json:"key"`
	Data interface{}      `json:"data"`
}

// Session is one connected client. Send is buffered; the hub never blocks
// on a slow consumer, it evicts it instead.
type Session struct {
	ID   string
	Send chan *Envelope
}

func NewSession(id string) *Session {
	return &Session{
		ID:   id,
		Send: make(chan *Envelope, 256),
	}
}

// Hub fans upstream price, portfolio, and bot-status events out to the
// sessions currently subscribed to each key. The subscription sets are the
// hub's only mutable state; every mutation happens under the lock.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[string]map[string]*Session
}

func NewHub() *Hub {
	return &Hub{
		sessions:    make(map[string]*Session),
		subscribers: make(map[string]map[string]*Session),
	}
}

// Start wires the hub to the upstream event topics. Call once.
func (h *Hub) Start() error {
	if err := eventpubsub.Subscribe("Hub", eventpubsub.PriceUpdateEvent, h.onPriceUpdate); err != nil {
		return fmt.Errorf("Hub.Start: failed to subscribe to price updates: %w", err)
	}

	if err := eventpubsub.Subscribe("Hub", eventpubsub.PortfolioUpdateEvent, h.onPortfolioUpdate); err != nil {
		return fmt.Errorf("Hub.Start: failed to subscribe to portfolio updates: %w", err)
	}

	if err := eventpubsub.Subscribe("Hub", eventpubsub.BotStatusEvent, h.onBotStatus); err != nil {
		return fmt.Errorf("Hub.Start: failed to subscribe to bot status: %w", err)
	}

	if err := eventpubsub.Subscribe("Hub", eventpubsub.OrderFillEvent, h.onOrderFill); err != nil {
		return fmt.Errorf("Hub.Start: failed to subscribe to order fills: %w", err)
	}

	return nil
}

func (h *Hub) Register(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[session.ID] = session
}

// DisconnectSession removes the session and clears every one of its
// subscriptions so the subscription set cannot grow under churn.
func (h *Hub) DisconnectSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, found := h.sessions[sessionID]
	if !found {
		return
	}

	h.dropSessionLocked(session)
}

func (h *Hub) dropSessionLocked(session *Session) {
	for key, sessions := range h.subscribers {
		delete(sessions, session.ID)
		if len(sessions) == 0 {
			delete(h.subscribers, key)
		}
	}

	delete(h.sessions, session.ID)
	close(session.Send)
}

func (h *Hub) Subscribe(sessionID string, kind SubscriptionKind, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, found := h.sessions[sessionID]
	if !found {
		return fmt.Errorf("Subscribe: unknown session %s", sessionID)
	}

	topic := subscriptionKey(kind, key)
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[string]*Session)
	}

	h.subscribers[topic][session.ID] = session
	return nil
}

func (h *Hub) Unsubscribe(sessionID string, kind SubscriptionKind, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic := subscriptionKey(kind, key)
	if sessions, found := h.subscribers[topic]; found {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.subscribers, topic)
		}
	}
}

// SubscriptionCount reports how many sessions hold a subscription for a key.
func (h *Hub) SubscriptionCount(kind SubscriptionKind, key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[subscriptionKey(kind, key)])
}

// Broadcast delivers one event to every session subscribed to its key. A
// session whose send buffer is full is evicted rather than blocking the
// rest of the fan-out.
func (h *Hub) Broadcast(kind SubscriptionKind, key string, data interface{}) {
	envelope := &Envelope{Kind: kind, Key: key, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, session := range h.subscribers[subscriptionKey(kind, key)] {
		select {
		case session.Send <- envelope:
		default:
			log.Warnf("Hub.Broadcast: session %s too slow, disconnecting", session.ID)
			h.dropSessionLocked(session)
		}
	}
}

func (h *Hub) onPriceUpdate(event eventmodels.PriceUpdateEvent) {
	h.Broadcast(KindPrice, event.Symbol, event)
}

func (h *Hub) onPortfolioUpdate(event eventmodels.PortfolioUpdateEvent) {
	h.Broadcast(KindPortfolio, fmt.Sprintf("%d", event.UserID), event)
}

func (h *Hub) onBotStatus(event eventmodels.BotStatusEvent) {
	h.Broadcast(KindBot, fmt.Sprintf("%d", event.BotID), event)
}

// Order fills ride the owning user's portfolio feed.
func (h *Hub) onOrderFill(event eventmodels.OrderFillEvent) {
	h.Broadcast(KindPortfolio, fmt.Sprintf("%d", event.UserID), event)
}

func subscriptionKey(kind SubscriptionKind, key string) string {
	return fmt.Sprintf("%s:%s", kind, key)
}
