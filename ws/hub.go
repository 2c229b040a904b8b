package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/frostbyte73/core"
	"github.com/sirupsen/logrus"
)

// EventPublisher, service katmanının kullanıcılara event göndermek için
// kullandığı interface. Service'ler Hub'ın concrete struct'ına değil buna bağımlıdır.
type EventPublisher interface {
	// BroadcastToUser, kullanıcının tüm bağlantılarına gönderir.
	// Kullanıcının hiç bağlantısı yoksa false döner.
	BroadcastToUser(userID string, event Event) bool
	IsOnline(userID string) bool
	GetOnlineUserIDs() []string
}

// Hub, tüm WebSocket bağlantılarını yöneten merkezi yapı.
//
// Kayıt handler goroutine'inde senkron yapılır; çıkışlar unregister channel'ı
// üzerinden Run goroutine'inde işlenir. clients map'i RWMutex ile korunur.
type Hub struct {
	// clients: userID → Client set (bir kullanıcının birden fazla cihazı olabilir).
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	unregister chan *Client
	closed     core.Fuse

	// seq: her outbound event'e verilen artan sayaç.
	seq atomic.Int64

	log *logrus.Entry

	// Callback'ler main.go'da (init_callbacks.go) bağlanır. Hub service'leri tanımaz.
	onUserFirstConnect      func(userID string)
	onUserFullyDisconnected func(userID string)
	onCallSignal            func(userID string, event InboundEvent)
}

// NewHub, yeni bir Hub oluşturur.
func NewHub(logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		log:        logger.WithField("component", "ws"),
	}
}

// OnUserFirstConnect, kullanıcının ilk bağlantısında çağrılır (ayrı goroutine).
func (h *Hub) OnUserFirstConnect(fn func(userID string)) { h.onUserFirstConnect = fn }

// OnUserFullyDisconnected, kullanıcının son bağlantısı kapanınca çağrılır (ayrı goroutine).
func (h *Hub) OnUserFullyDisconnected(fn func(userID string)) { h.onUserFullyDisconnected = fn }

// OnCallSignal, client'tan gelen arama event'leri için çağrılır.
// Aynı bağlantıdan gelen event'lerin sırası korunur: callback ReadPump
// goroutine'inde senkron çalışır ve Hub kilidi tutulmaz.
func (h *Hub) OnCallSignal(fn func(userID string, event InboundEvent)) { h.onCallSignal = fn }

// Run, Hub'ın ana event loop'u. main.go'da `go hub.Run()` ile başlatılır.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.closed.Watch():
			return
		}
	}
}

// addClient, client'ı kaydeder. Hub kapandıysa false döner.
func (h *Hub) addClient(client *Client) bool {
	h.mu.Lock()
	if h.closed.IsBroken() {
		h.mu.Unlock()
		return false
	}
	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	count := len(h.clients[client.userID])
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"user": client.userID, "connections": count}).Info("client connected")

	if count == 1 && h.onUserFirstConnect != nil {
		go h.onUserFirstConnect(client.userID)
	}
	return true
}

// removeClient, client'ı Hub'dan çıkarır ve send channel'ını kapatır.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.userID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.send)
	remaining := len(clients)
	if remaining == 0 {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	log := h.log.WithField("user", client.userID)
	if remaining > 0 {
		log.WithField("remaining", remaining).Info("client disconnected")
		return
	}

	log.Info("user fully disconnected")
	if h.onUserFullyDisconnected != nil {
		go h.onUserFullyDisconnected(client.userID)
	}
}

// drop, yavaş/kopmuş bir client'ı Run goroutine'i üzerinden çıkarır.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.closed.Watch():
	}
}

// BroadcastToUser, kullanıcının tüm bağlantılarına event gönderir.
func (h *Hub) BroadcastToUser(userID string, event Event) bool {
	data, ok := h.encode(event)
	if !ok {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[userID]
	if !ok || len(clients) == 0 {
		return false
	}
	for client := range clients {
		h.enqueue(client, data)
	}
	return true
}

// sendTo, tek bir bağlantıya gönderir (ready, heartbeat_ack, error).
func (h *Hub) sendTo(client *Client, event Event) {
	data, ok := h.encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[client.userID][client] {
		h.enqueue(client, data)
	}
}

// encode, event'e sıradaki seq'i verip JSON'a çevirir.
func (h *Hub) encode(event Event) ([]byte, bool) {
	event.Seq = h.seq.Add(1)
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("op", event.Op).Error("failed to marshal event")
		return nil, false
	}
	return data, true
}

// enqueue, RLock altında çağrılır. Buffer doluysa client düşürülür.
func (h *Hub) enqueue(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.WithField("user", client.userID).Warn("send buffer full, dropping connection")
		go h.drop(client)
	}
}

// IsOnline, kullanıcının en az bir bağlantısı var mı?
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// GetOnlineUserIDs, bağlı olan tüm kullanıcı ID'lerini döner.
func (h *Hub) GetOnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		ids = append(ids, userID)
	}
	return ids
}

// Shutdown, Run'ı durdurur ve tüm bağlantıları kapatır (graceful shutdown).
func (h *Hub) Shutdown() {
	h.closed.Break()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
	h.log.Info("hub shut down, all connections closed")
}
