package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

func drain(ch chan *Envelope) []*Envelope {
	var out []*Envelope
	for {
		select {
		case envelope := <-ch:
			out = append(out, envelope)
		default:
			return out
		}
	}
}

func TestHubTargetedDelivery(t *testing.T) {
	hub := NewHub()

	alice := NewSession("alice")
	bob := NewSession("bob")
	hub.Register(alice)
	hub.Register(bob)

	require.NoError(t, hub.Subscribe("alice", KindPrice, "AAPL"))
	require.NoError(t, hub.Subscribe("bob", KindPrice, "MSFT"))

	hub.Broadcast(KindPrice, "AAPL", eventmodels.PriceUpdateEvent{Symbol: "AAPL", Price: 150})

	aliceEvents := drain(alice.Send)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, "AAPL", aliceEvents[0].Key)

	assert.Empty(t, drain(bob.Send))
}

func TestHubOrderFillRidesPortfolioFeed(t *testing.T) {
	hub := NewHub()

	owner := NewSession("owner")
	other := NewSession("other")
	hub.Register(owner)
	hub.Register(other)

	require.NoError(t, hub.Subscribe("owner", KindPortfolio, "7"))
	require.NoError(t, hub.Subscribe("other", KindPortfolio, "8"))

	hub.onOrderFill(eventmodels.OrderFillEvent{
		UserID:         7,
		Symbol:         "AAPL",
		OrderID:        "ord-1",
		Status:         eventmodels.OrderStatusFilled,
		FilledQuantity: 10,
		AvgFillPrice:   150,
	})

	got := drain(owner.Send)
	require.Len(t, got, 1)
	assert.Equal(t, KindPortfolio, got[0].Kind)
	assert.Equal(t, "7", got[0].Key)

	fill, ok := got[0].Data.(eventmodels.OrderFillEvent)
	require.True(t, ok)
	assert.Equal(t, "ord-1", fill.OrderID)

	assert.Empty(t, drain(other.Send))
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	session := NewSession("s1")
	hub.Register(session)

	require.NoError(t, hub.Subscribe("s1", KindPortfolio, "7"))
	assert.Equal(t, 1, hub.SubscriptionCount(KindPortfolio, "7"))

	hub.Unsubscribe("s1", KindPortfolio, "7")
	assert.Zero(t, hub.SubscriptionCount(KindPortfolio, "7"))

	hub.Broadcast(KindPortfolio, "7", eventmodels.PortfolioUpdateEvent{UserID: 7})
	assert.Empty(t, drain(session.Send))
}

func TestHubDisconnectClearsAllSubscriptions(t *testing.T) {
	hub := NewHub()

	session := NewSession("s1")
	hub.Register(session)

	require.NoError(t, hub.Subscribe("s1", KindPrice, "AAPL"))
	require.NoError(t, hub.Subscribe("s1", KindPrice, "MSFT"))
	require.NoError(t, hub.Subscribe("s1", KindBot, "3"))

	hub.DisconnectSession("s1")

	assert.Zero(t, hub.SubscriptionCount(KindPrice, "AAPL"))
	assert.Zero(t, hub.SubscriptionCount(KindPrice, "MSFT"))
	assert.Zero(t, hub.SubscriptionCount(KindBot, "3"))

	// second disconnect is a no-op
	hub.DisconnectSession("s1")

	// subscribing after disconnect fails rather than resurrecting the session
	assert.Error(t, hub.Subscribe("s1", KindPrice, "AAPL"))
}

func TestHubEvictsSlowConsumer(t *testing.T) {
	hub := NewHub()

	slow := NewSession("slow")
	slow.Send = make(chan *Envelope, 1)
	hub.Register(slow)

	require.NoError(t, hub.Subscribe("slow", KindPrice, "BTC-USD"))

	hub.Broadcast(KindPrice, "BTC-USD", eventmodels.PriceUpdateEvent{Symbol: "BTC-USD", Price: 60000})
	hub.Broadcast(KindPrice, "BTC-USD", eventmodels.PriceUpdateEvent{Symbol: "BTC-USD", Price: 60001})

	assert.Zero(t, hub.SubscriptionCount(KindPrice, "BTC-USD"))

	// buffered event is still readable, then the channel is closed
	first, ok := <-slow.Send
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", first.Key)

	_, ok = <-slow.Send
	assert.False(t, ok)
}
