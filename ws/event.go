// Package ws, signaling kanalının wire formatını ve server tarafındaki
// WebSocket bağlantı yönetimini sağlar.
//
// Mimari:
// - Hub: Tüm bağlantıları yöneten merkezi yapı (kullanıcı başına birden fazla bağlantı)
// - Client: Her WebSocket bağlantısını temsil eder
// - Event: Client-server arası iletilen mesaj zarfı
//
// Arama akışı (A arar, B cevaplar):
// 1. A → callUser         → Hub → CallRelay → B'ye incomingCall
// 2. B → answerCall       → Hub → CallRelay → A'ya answerCall
// 3. Herhangi biri → endCall → Hub → CallRelay → karşı tarafa endCall
//
// Client tarafı (signaling paketi) aynı Event zarfını ve payload struct'larını kullanır.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/akinalp/mqvicall/models"
)

// Event, WebSocket üzerinden iletilen bir mesajı temsil eder.
//
// Op (operation): Event türü: "callUser", "heartbeat" vb.
// Data: Event'e özgü payload.
// Seq: Server'ın her outbound event'e verdiği artan sayı.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// InboundEvent, okuma tarafında kullanılan Event: payload ham JSON olarak tutulur,
// tipi op'a göre DecodeData ile belirlenir.
type InboundEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// DecodeData, payload'ı verilen struct'a çözer.
func (e InboundEvent) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("op %s: empty payload", e.Op)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("op %s: decode payload: %w", e.Op, err)
	}
	return nil
}

// ────────────────────────────────────────────
// Operation sabitleri
// ────────────────────────────────────────────

// Bağlantı operasyonları
const (
	OpHeartbeat    = "heartbeat"     // Client her 30sn'de gönderir
	OpHeartbeatAck = "heartbeat_ack" // Heartbeat'e yanıt
	OpReady        = "ready"         // Bağlantı kurulduğunda ilk gönderilen
	OpError        = "error"         // Reddedilen bir client isteği
)

// Arama operasyonları (isimler client'larla ortak protokol: camelCase)
const (
	OpCallUser     = "callUser"     // C→S: davet
	OpIncomingCall = "incomingCall" // S→C: davet iletildi
	OpAnswerCall   = "answerCall"   // iki yönlü: kabul
	OpCallRejected = "callRejected" // iki yönlü: red / meşgul / zaman aşımı
	OpEndCall      = "endCall"      // iki yönlü: kapatma
	OpCallCanceled = "callCanceled" // S→C: arayan cevaplanmadan vazgeçti
	OpCallTimeout  = "callTimeout"  // S→C: server tarafı çalma süresi doldu
)

// OpDisconnect hiçbir zaman kabloda görünmez: signaling client, transport
// koptuğunda abonelerine bu op ile sentetik bir event teslim eder.
const OpDisconnect = "disconnect"

// EndReasonDisconnect, endCall payload'ında karşı tarafın bağlantısının koptuğunu belirtir.
const EndReasonDisconnect = "disconnect"

// ────────────────────────────────────────────
// Payload struct'ları
// ────────────────────────────────────────────

// CallUserData, callUser payload'ı (arayan → server).
// From ve Name server tarafında bağlantının kimliğiyle ezilir.
type CallUserData struct {
	UserToCall string          `json:"userToCall"`
	RoomID     string          `json:"roomID"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
	CallType   models.CallKind `json:"callType"`
}

// IncomingCallData, incomingCall payload'ı (server → aranan).
type IncomingCallData struct {
	From     string          `json:"from"`
	Name     string          `json:"name"`
	CallType models.CallKind `json:"callType"`
	RoomID   string          `json:"roomID"`
}

// AnswerCallData: gönderirken {to, roomID}, alırken {roomID}.
type AnswerCallData struct {
	To     string `json:"to,omitempty"`
	RoomID string `json:"roomID"`
}

// CallRejectedData: gönderirken {to, roomID, reason}, alırken {roomID, reason}.
type CallRejectedData struct {
	To     string              `json:"to,omitempty"`
	RoomID string              `json:"roomID"`
	Reason models.RejectReason `json:"reason,omitempty"`
}

// EndCallData: gönderirken {to, roomID}, alırken {roomID, reason}.
// Reason sadece "disconnect" olabilir (karşı tarafın bağlantısı koptu).
type EndCallData struct {
	To     string `json:"to,omitempty"`
	RoomID string `json:"roomID"`
	Reason string `json:"reason,omitempty"`
}

// CallWithdrawnData, callCanceled ve callTimeout payload'ı.
type CallWithdrawnData struct {
	RoomID string `json:"roomID"`
}

// ReadyData, bağlantı kurulunca gönderilir.
type ReadyData struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ErrorData, server'ın reddettiği bir client isteğini açıklar.
type ErrorData struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
