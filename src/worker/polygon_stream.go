package worker

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/eventpubsub"
)

// PolygonPriceWorker polls minute aggregates for a set of equity symbols
// and republishes the latest close as a price event. Polygon has no push
// feed on the basic tier, so this is a poll loop rather than a stream.
type PolygonPriceWorker struct {
	Client   *polygon.Client
	Symbols  []string
	Interval time.Duration
}

func NewPolygonPriceWorker(apiKey string, symbols []string, interval time.Duration) *PolygonPriceWorker {
	return &PolygonPriceWorker{
		Client:   polygon.New(apiKey),
		Symbols:  symbols,
		Interval: interval,
	}
}

func (w *PolygonPriceWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range w.Symbols {
				w.pollSymbol(ctx, symbol)
			}
		}
	}
}

func (w *PolygonPriceWorker) pollSymbol(ctx context.Context, symbol string) {
	now := time.Now().UTC()

	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   models.Minute,
		From:       models.Millis(now.Add(-5 * time.Minute)),
		To:         models.Millis(now),
	}.WithOrder(models.Desc).WithAdjusted(true).WithLimit(1)

	iter := w.Client.ListAggs(ctx, params)

	if !iter.Next() {
		if err := iter.Err(); err != nil {
			log.Errorf("PolygonPriceWorker: failed to fetch aggregates for %s: %v", symbol, err)
		}
		return
	}

	bar := iter.Item()

	eventpubsub.Publish("PolygonPriceWorker", eventpubsub.PriceUpdateEvent, eventmodels.PriceUpdateEvent{
		Symbol:    symbol,
		Price:     bar.Close,
		Volume:    bar.Volume,
		Source:    "polygon",
		Timestamp: time.Time(bar.Timestamp),
	})
}
