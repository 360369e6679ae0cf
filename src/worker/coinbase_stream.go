package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/eventpubsub"
)

// CoinbaseTickerStream holds a persistent websocket to Coinbase's market
// data feed and republishes ticker updates as price events. The market
// data keys are separate from trading credentials.
type CoinbaseTickerStream struct {
	ProductIDs []string
	Host       string
}

func NewCoinbaseTickerStream(productIDs []string) *CoinbaseTickerStream {
	return &CoinbaseTickerStream{
		ProductIDs: productIDs,
		Host:       "advanced-trade-ws.coinbase.com",
	}
}

type wsSubscribe struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ApiKey     string   `json:"api_key"`
	ProductIDs []string `json:"product_ids"`
	Signature  string   `json:"signature"`
	Timestamp  string   `json:"timestamp"`
}

type tickerDTO struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Volume24H string `json:"volume_24_h"`
}

type tickerEventDTO struct {
	Type    string      `json:"type"`
	Tickers []tickerDTO `json:"tickers"`
}

type tickerMessageDTO struct {
	Channel        string           `json:"channel"`
	Timestamp      time.Time        `json:"timestamp"`
	SequenceNumber int              `json:"sequence_num"`
	Events         []tickerEventDTO `json:"events"`
}

func (s *CoinbaseTickerStream) subscribePayload() *wsSubscribe {
	channel := "ticker_batch"
	ts := strconv.Itoa(int(time.Now().UTC().Unix()))

	strToSign := fmt.Sprintf("%s%s%s", ts, channel, strings.Join(s.ProductIDs, ","))

	h := hmac.New(sha256.New, []byte(os.Getenv("COINBASE_WS_API_SECRET")))
	h.Write([]byte(strToSign))

	return &wsSubscribe{
		Type:       "subscribe",
		Channel:    channel,
		ApiKey:     os.Getenv("COINBASE_WS_API_KEY"),
		ProductIDs: s.ProductIDs,
		Timestamp:  ts,
		Signature:  hex.EncodeToString(h.Sum(nil)),
	}
}

func (s *CoinbaseTickerStream) connect() (*websocket.Conn, error) {
	u := url.URL{Scheme: "wss", Host: s.Host, Path: "/"}
	log.Infof("CoinbaseTickerStream: connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	payload := s.subscribePayload()
	if err := c.WriteJSON(payload); err != nil {
		c.Close()
		return nil, fmt.Errorf("CoinbaseTickerStream: failed to write subscribe payload: %w", err)
	}

	return c, nil
}

// Run reads ticker messages until the context is cancelled, reconnecting
// on any read error.
func (s *CoinbaseTickerStream) Run(ctx context.Context) error {
	c, err := s.connect()
	if err != nil {
		return fmt.Errorf("CoinbaseTickerStream: initial connect failed: %w", err)
	}

	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			c.SetReadDeadline(time.Now().UTC().Add(30 * time.Second))
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Errorf("CoinbaseTickerStream: ReadMessage(): %v", err)

				newConn, newErr := s.connect()
				if newErr != nil {
					log.Errorf("CoinbaseTickerStream: failed to reconnect: %v", newErr)
					time.Sleep(time.Second)
					continue
				}

				if e := c.Close(); e != nil {
					log.Errorf("CoinbaseTickerStream: error closing old connection: %v", e)
				}

				c = newConn
				continue
			}

			var update tickerMessageDTO
			if err := json.Unmarshal(message, &update); err != nil {
				log.Errorf("CoinbaseTickerStream: failed to unmarshal json: %v", err)
				continue
			}

			if update.Channel != "ticker" && update.Channel != "ticker_batch" {
				continue
			}

			s.publish(update)
		}
	}
}

func (s *CoinbaseTickerStream) publish(update tickerMessageDTO) {
	for _, event := range update.Events {
		for _, ticker := range event.Tickers {
			price, err := strconv.ParseFloat(ticker.Price, 64)
			if err != nil {
				log.Warnf("CoinbaseTickerStream: unparsable price %q for %s", ticker.Price, ticker.ProductID)
				continue
			}

			volume, _ := strconv.ParseFloat(ticker.Volume24H, 64)

			eventpubsub.Publish("CoinbaseTickerStream", eventpubsub.PriceUpdateEvent, eventmodels.PriceUpdateEvent{
				Symbol:    ticker.ProductID,
				Price:     price,
				Volume:    volume,
				Source:    "coinbase",
				Timestamp: update.Timestamp,
			})
		}
	}
}
