package call

import (
	"context"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

// ─── Signaling ───

// Signaler, paylaşılan signaling kanalı. Manager sadece abone olur ve emit eder;
// bağlantının sahibi dışarıdadır (signaling.Client).
//
// Subscribe'ın döndüğü cancel, Manager kapanırken çağrılır. Transport koptuğunda
// kanal ws.OpDisconnect op'lu sentetik bir event teslim etmelidir.
type Signaler interface {
	Emit(op string, data any) error
	Subscribe() (<-chan ws.InboundEvent, func())
}

// TokenProvider, bir oda için imzalı credential alır (POST /zego/token).
type TokenProvider interface {
	RoomToken(ctx context.Context, roomID, userID string) (string, error)
}

// ─── Media engine ───

// TrackKind, local veya remote track türü.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaConstraints, yakalanacak cihazlar. Audio her zaman true.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// Identity, odaya katılan local katılımcı.
type Identity struct {
	ID   string
	Name string
}

// LocalTrack, yakalanan tek bir track. SetEnabled mute/kamera kapatma içindir.
type LocalTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
}

// LocalMedia, session'ın tek sahibi olduğu yakalanmış medya.
// Stop donanımı serbest bırakır ve birden fazla çağrılabilir.
type LocalMedia interface {
	Tracks() []LocalTrack
	Stop()
}

// RemoteStream, abone olunan karşı taraf yayını.
type RemoteStream interface {
	ID() string
	ParticipantID() string
}

// RoomEventType, media engine oda olayları.
type RoomEventType int

const (
	RoomStreamAdded RoomEventType = iota + 1
	RoomStreamRemoved
	RoomDisconnected
)

func (t RoomEventType) String() string {
	switch t {
	case RoomStreamAdded:
		return "stream_added"
	case RoomStreamRemoved:
		return "stream_removed"
	case RoomDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RoomEvent, Room.Events kanalından gelen olay.
type RoomEvent struct {
	Type          RoomEventType
	StreamID      string
	ParticipantID string
}

// Room, katılınmış bir media engine odası. Her JoinRoom yeni bir handle döner;
// bayat bir handle'ın Leave'i sadece kendi bağlantısını kapatır.
// Events kanalı Leave veya bağlantı kaybından sonra kapatılır.
type Room interface {
	ID() string
	Publish(ctx context.Context, streamID string, media LocalMedia) error
	Unpublish(streamID string) error
	Subscribe(ctx context.Context, streamID string) (RemoteStream, error)
	Unsubscribe(streamID string) error
	Leave() error
	Events() <-chan RoomEvent
}

// MediaEngine, medya yakalama ve oda bağlantısı sağlayan dış bileşen.
type MediaEngine interface {
	CreateLocalMedia(ctx context.Context, c MediaConstraints) (LocalMedia, error)
	JoinRoom(ctx context.Context, roomID, credential string, identity Identity) (Room, error)
}

// ─── Sunum katmanı yetenekleri ───

// IndicatorKind, çalma sesi türü.
type IndicatorKind string

const (
	IndicatorOutgoing IndicatorKind = "outgoing"
	IndicatorIncoming IndicatorKind = "incoming"
)

// Indicator, "çalıyor" sesini çalar/durdurur. Stop idempotent olmalı.
type Indicator interface {
	Start(kind IndicatorKind)
	Stop(kind IndicatorKind)
}

// MediaSink, remote stream'leri çıkışa (hoparlör, video yüzeyi) bağlar.
type MediaSink interface {
	BindAudio(stream RemoteStream)
	BindVideo(stream RemoteStream)
	Unbind(streamID string)
}

// NoticeKind, kullanıcıya gösterilecek tek seferlik bildirim türü.
type NoticeKind string

const (
	NoticePermissionDenied    NoticeKind = "permission_denied"
	NoticeCredentialFailed    NoticeKind = "credential_failed"
	NoticeCallFailed          NoticeKind = "call_failed"
	NoticeNoAnswer            NoticeKind = "no_answer"
	NoticeDeclined            NoticeKind = "declined"
	NoticeBusy                NoticeKind = "busy"
	NoticeOffline             NoticeKind = "offline"
	NoticePartnerDisconnected NoticeKind = "partner_disconnected"
	NoticeConnectionLost      NoticeKind = "connection_lost"
	NoticeMissedCall          NoticeKind = "missed_call"
)

// Notice, UserNotifier'a iletilen bildirim.
type Notice struct {
	Kind     NoticeKind
	RemoteID string
	Err      error
}

// UserNotifier, bildirimleri sunum katmanına taşır.
type UserNotifier interface {
	Notify(n Notice)
}

// State, gözlemlenebilir durum: faz, aktif session ve bekleyen davet.
type State struct {
	Phase         models.CallPhase
	Session       *models.CallSession
	Invite        *models.IncomingInvite
	MicEnabled    bool
	CameraEnabled bool
}

// nopCapabilities, sunum katmanı verilmediğinde kullanılır.
type nopCapabilities struct{}

func (nopCapabilities) Start(IndicatorKind)    {}
func (nopCapabilities) Stop(IndicatorKind)     {}
func (nopCapabilities) BindAudio(RemoteStream) {}
func (nopCapabilities) BindVideo(RemoteStream) {}
func (nopCapabilities) Unbind(string)          {}
func (nopCapabilities) Notify(Notice)          {}
