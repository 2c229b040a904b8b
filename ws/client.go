package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket bağlantı sabitleri
const (
	// writeWait: bir mesajı yazmak için maksimum bekleme süresi.
	writeWait = 10 * time.Second

	// pongWait: client'ın heartbeat göndermesi için beklenen maksimum süre.
	// 3 heartbeat kaçırma = 30s × 3 = 90s.
	pongWait = 90 * time.Second

	// maxMessageSize: arama payload'ları küçüktür.
	maxMessageSize = 4096

	// sendBufferSize: buffer dolarsa (client yavaş) client düşürülür.
	sendBufferSize = 64
)

// Client, tek bir WebSocket bağlantısı.
//
// Her bağlantı için iki goroutine çalışır:
//   - ReadPump: client'dan gelen event'leri okur, Hub callback'lerine iletir
//   - WritePump: send channel'ındaki mesajları bağlantıya yazar
//
// gorilla/websocket aynı anda tek okuyucu ve tek yazıcı destekler.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	log    *logrus.Entry
	send   chan []byte
	mu     sync.Mutex // conn.WriteMessage çağrılarını korur
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		log:    hub.log.WithField("user", userID),
		send:   make(chan []byte, sendBufferSize),
	}
}

// ReadPump, bağlantı kapanana kadar gelen mesajları okur.
// Bittiğinde client'ı Hub'dan çıkarır ve bağlantıyı kapatır.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("failed to set read deadline")
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Info("unexpected close")
			}
			return
		}

		var event InboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.WithError(err).Warn("invalid message")
			continue
		}

		c.handleEvent(event)
	}
}

// handleEvent, client'dan gelen event'leri türüne göre işler.
func (c *Client) handleEvent(event InboundEvent) {
	switch event.Op {
	case OpHeartbeat:
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Warn("failed to set read deadline")
			return
		}
		c.hub.sendTo(c, Event{Op: OpHeartbeatAck})

	case OpCallUser, OpAnswerCall, OpCallRejected, OpEndCall:
		if c.hub.onCallSignal != nil {
			c.hub.onCallSignal(c.userID, event)
		}

	default:
		c.log.WithField("op", event.Op).Debug("unknown op")
		c.hub.sendTo(c, Event{Op: OpError, Data: ErrorData{Op: event.Op, Message: "unknown op"}})
	}
}

// WritePump, send channel'ındaki mesajları WebSocket'e yazar.
// Channel kapanınca (Hub client'ı çıkardı) close frame gönderir ve döner.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.writeMessage(websocket.CloseMessage, nil)
}

// writeMessage, mutex altında deadline'lı yazar.
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
