package ws

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/akinalp/mqvicall/models"
)

// TokenValidator, WebSocket handler'ın JWT doğrulaması için kullandığı interface.
// services.AuthService bunu implicit olarak karşılar; ws → services import'u
// (ve services → ws döngüsü) oluşmaz.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
}

// Handler, WebSocket bağlantı isteklerini işleyen HTTP handler'ı.
type Handler struct {
	hub            *Hub
	tokenValidator TokenValidator
	upgrader       websocket.Upgrader
	onConnect      func(claims *models.TokenClaims)
}

// NewHandler, WebSocket handler oluşturur. allowedOrigins boş veya "*" içeriyorsa
// tüm origin'lere izin verilir (tarayıcı dışı client'lar Origin göndermez).
func NewHandler(hub *Hub, tokenValidator TokenValidator, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		hub:            hub,
		tokenValidator: tokenValidator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// OnConnect, doğrulanmış her bağlantıda (upgrade öncesi) çağrılır.
// main.go user directory upsert'ini buraya bağlar.
func (h *Handler) OnConnect(fn func(claims *models.TokenClaims)) { h.onConnect = fn }

// HandleConnection, HTTP bağlantısını WebSocket'e yükseltir ve client'ı Hub'a kaydeder.
//
// Tarayıcılar WebSocket isteğine header ekleyemediği için token query'den gelir:
//
//	ws://server/ws?token=JWT_TOKEN
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokenValidator.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.WithError(err).WithField("user", claims.UserID).Warn("upgrade failed")
		return
	}

	if h.onConnect != nil {
		h.onConnect(claims)
	}

	client := newClient(h.hub, conn, claims.UserID)

	// ready kayıttan önce kuyruğa girer: bağlantının ilk mesajı her zaman odur.
	if data, ok := h.hub.encode(Event{
		Op:   OpReady,
		Data: ReadyData{UserID: claims.UserID, Name: claims.Name()},
	}); ok {
		client.send <- data
	}

	if !h.hub.addClient(client) {
		conn.Close()
		return
	}

	// ReadPump mevcut goroutine'de bağlantı kapanana kadar bloklar.
	go client.WritePump()
	client.ReadPump()
}
