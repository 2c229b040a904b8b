package models

import "time"

// CallOutcome, relay'in bir aramayı kapatırken kaydettiği sonuç.
type CallOutcome string

const (
	CallOutcomeCompleted CallOutcome = "completed"
	CallOutcomeRejected  CallOutcome = "rejected"
	CallOutcomeBusy      CallOutcome = "busy"
	CallOutcomeMissed    CallOutcome = "missed"
	CallOutcomeCanceled  CallOutcome = "canceled"
	CallOutcomeOffline   CallOutcome = "offline"
	CallOutcomeFailed    CallOutcome = "failed"
)

// IsMissed, aranan tarafa "cevapsız arama" bildirimi gerektiren sonuçlar.
func (o CallOutcome) IsMissed() bool {
	return o == CallOutcomeMissed || o == CallOutcomeCanceled || o == CallOutcomeOffline
}

// CallLog, call_logs tablosundaki bir satır.
type CallLog struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	CallerID   string      `json:"caller_id"`
	CalleeID   string      `json:"callee_id"`
	Kind       CallKind    `json:"kind"`
	Outcome    CallOutcome `json:"outcome"`
	StartedAt  time.Time   `json:"started_at"`
	AnsweredAt *time.Time  `json:"answered_at,omitempty"`
	EndedAt    time.Time   `json:"ended_at"`
}

// Duration, cevaplanmış aramanın konuşma süresi (cevaplanmadıysa 0).
func (l *CallLog) Duration() time.Duration {
	if l.AnsweredAt == nil {
		return 0
	}
	return l.EndedAt.Sub(*l.AnsweredAt)
}
