package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer   = 10
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	writeWait    = 10 * time.Second
)

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendBuffer)}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams balance updates for the account
// named in snapshot, starting with snapshot itself, until the peer goes away
// or the account is destroyed.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, snapshot BalanceUpdate) {
	accountNumber := snapshot.AccountNumber
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("account_number", accountNumber).Msg("websocket upgrade failed")
		return
	}
	client := newClient(conn)
	snapshot.Kind = SnapshotKind
	payload, _ := json.Marshal(snapshot)
	client.send <- payload
	hub.Register(accountNumber, client)
	log.Debug().Str("account_number", accountNumber).Int("subscribers", hub.Subscribers(accountNumber)).Msg("balance stream opened")
	go client.writePump(hub, accountNumber)
	client.readPump(hub, accountNumber)
}

func (c *Client) readPump(hub *Hub, accountNumber string) {
	defer func() {
		hub.Unregister(accountNumber, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump(hub *Hub, accountNumber string) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		hub.Unregister(accountNumber, c)
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
