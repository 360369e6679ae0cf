package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientCommand is the inbound subscribe/unsubscribe envelope.
type clientCommand struct {
	Action string           `json:"action"`
	Kind   SubscriptionKind `json:"kind"`
	Key    string           `json:"key"`
}

type Client struct {
	hub     *Hub
	session *Session
	conn    *websocket.Conn
}

// ServeWS upgrades an HTTP request to a websocket and binds a session to
// the hub for the lifetime of the connection.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("ServeWS: failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:     hub,
		session: NewSession(uuid.NewString()),
		conn:    conn,
	}

	hub.Register(client.session)

	go client.writePump()
	go client.readPump()
}

// readPump applies subscribe/unsubscribe commands and acts as the
// connection watchdog. Exiting tears down the session's subscriptions.
func (c *Client) readPump() {
	defer func() {
		c.hub.DisconnectSession(c.session.ID)
		c.conn.Close()
		log.Infof("session %s disconnected", c.session.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("session %s read error: %v", c.session.ID, err)
			}
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Warnf("session %s sent malformed command: %v", c.session.ID, err)
			continue
		}

		switch cmd.Action {
		case "subscribe":
			if err := c.hub.Subscribe(c.session.ID, cmd.Kind, cmd.Key); err != nil {
				log.Warnf("session %s subscribe failed: %v", c.session.ID, err)
			}
		case "unsubscribe":
			c.hub.Unsubscribe(c.session.ID, cmd.Kind, cmd.Key)
		default:
			log.Warnf("session %s sent unknown action %q", c.session.ID, cmd.Action)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-c.session.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(envelope); err != nil {
				log.Warnf("session %s write error: %v", c.session.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
