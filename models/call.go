// Package models: 1:1 arama domain modeli.
//
// İki taraf var:
//   - Client (call paketi): CallSession + IncomingInvite, tek bir session manager'da yaşar.
//   - Server (services paketi): RelayCall, signaling relay'in in-memory arama kaydı.
//
// Tüm typed string'ler wire formatında aynen kullanılır (JSON + signaling payload).
package models

import (
	"strings"
	"time"
)

// CallKind, arama türü. Wire formatında "callType" alanı.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Valid, bilinen bir arama türü mü?
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// CallPhase, client tarafındaki session state machine'in fazı.
//
//	idle → outgoing_ringing → active → ended → idle   (arayan, cevaplandı)
//	idle → outgoing_ringing → ended → idle            (cevapsız / red / iptal)
//	idle → connecting → active → ended → idle         (aranan)
//	her faz → ended → idle                            (transport kaybı)
type CallPhase string

const (
	CallPhaseIdle            CallPhase = "idle"
	CallPhaseOutgoingRinging CallPhase = "outgoing_ringing"
	CallPhaseIncomingRinging CallPhase = "incoming_ringing"
	CallPhaseConnecting      CallPhase = "connecting"
	CallPhaseActive          CallPhase = "active"
	CallPhaseEnded           CallPhase = "ended"
)

// EndReason, bir session'ın neden bittiği.
type EndReason string

const (
	EndReasonLocalHangup         EndReason = "local_hangup"
	EndReasonRemoteHangup        EndReason = "remote_hangup"
	EndReasonRejected            EndReason = "rejected"
	EndReasonBusy                EndReason = "busy"
	EndReasonTimeout             EndReason = "timeout"
	EndReasonTransportLost       EndReason = "transport_lost"
	EndReasonPartnerDisconnected EndReason = "partner_disconnected"
	EndReasonSetupFailed         EndReason = "setup_failed"
)

// RejectReason, "callRejected" event'inin reason alanı.
// Timeout ve busy auto-reject, kullanıcının bilinçli reddinden ayrılır.
type RejectReason string

const (
	RejectReasonDeclined RejectReason = "declined"
	RejectReasonBusy     RejectReason = "busy"
	RejectReasonTimeout  RejectReason = "timeout"
	RejectReasonOffline  RejectReason = "offline"
	RejectReasonFailed   RejectReason = "failed"
)

// EndReason, karşı taraftan gelen red sebebini session bitiş sebebine çevirir.
func (r RejectReason) EndReason() EndReason {
	switch r {
	case RejectReasonBusy:
		return EndReasonBusy
	case RejectReasonTimeout:
		return EndReasonTimeout
	default:
		return EndReasonRejected
	}
}

// CallSession, client tarafındaki tek aktif aramanın gözlemlenebilir hali.
// Kaynak handle'ları (local media, room, remote stream'ler) burada değil,
// call paketinin içindeki session struct'ında tutulur.
type CallSession struct {
	ID                  string    `json:"id"`
	RoomID              string    `json:"room_id"`
	LocalParticipantID  string    `json:"local_participant_id"`
	RemoteParticipantID string    `json:"remote_participant_id"`
	RemoteDisplayName   string    `json:"remote_display_name,omitempty"`
	Kind                CallKind  `json:"kind"`
	Phase               CallPhase `json:"phase"`
	Outgoing            bool      `json:"outgoing"`
	StartedAt           time.Time `json:"started_at"`
	ConnectedAt         time.Time `json:"connected_at,omitempty"`
	EndReason           EndReason `json:"end_reason,omitempty"`
}

// IncomingInvite, henüz kabul/red edilmemiş gelen arama.
type IncomingInvite struct {
	From            string    `json:"from"`
	FromDisplayName string    `json:"from_display_name"`
	RoomID          string    `json:"room_id"`
	Kind            CallKind  `json:"kind"`
	ReceivedAt      time.Time `json:"received_at"`
}

// RoomID, iki katılımcı için deterministik oda adı üretir.
// Küçük ID önce gelir: RoomID("b", "a") == "a_b".
func RoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// RoomHasParticipant, roomID'nin userID'yi taraflardan biri olarak içerip içermediğini kontrol eder.
// ID'ler "_" içerebileceği için split yerine prefix/suffix kontrolü yapılır.
func RoomHasParticipant(roomID, userID string) bool {
	if userID == "" || len(roomID) <= len(userID)+1 {
		return false
	}
	return strings.HasPrefix(roomID, userID+"_") || strings.HasSuffix(roomID, "_"+userID)
}

// StreamID, local katılımcının yayın kimliği: {roomID}_{localID}_{kind}.
func StreamID(localID, roomID string, kind CallKind) string {
	return roomID + "_" + localID + "_" + string(kind)
}

// IsVideoStream, stream kimliği video yayını mı gösteriyor?
func IsVideoStream(streamID string) bool {
	return strings.HasSuffix(streamID, "_"+string(CallKindVideo))
}

// ─── Server tarafı ───

// RelayCallStatus, relay'in gördüğü arama durumu.
type RelayCallStatus string

const (
	RelayCallStatusRinging RelayCallStatus = "ringing"
	RelayCallStatusActive  RelayCallStatus = "active"
)

// RelayCall, signaling relay'in in-memory arama kaydı (roomID başına bir tane).
type RelayCall struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	CallerID   string          `json:"caller_id"`
	CalleeID   string          `json:"callee_id"`
	Kind       CallKind        `json:"kind"`
	Status     RelayCallStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	AnsweredAt *time.Time      `json:"answered_at,omitempty"`
}

// Other, verilen katılımcının karşı tarafını döner.
func (c *RelayCall) Other(userID string) string {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

// Involves, kullanıcı bu aramanın tarafı mı?
func (c *RelayCall) Involves(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}
