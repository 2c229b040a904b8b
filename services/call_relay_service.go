// Package services: CallRelayService: 1:1 arama signaling relay'i.
//
// Server medyaya dokunmaz; medya LiveKit odasında akar. Relay sadece
// davet/cevap/red/kapatma event'lerini doğru kullanıcıya yönlendirir.
//
// In-memory state:
//   - calls:     roomID → *relayCall
//   - userCalls: userID → roomID (her kullanıcı en fazla bir arama)
//
// Hub event'leri kilit dışında gönderilir. Her kapanan arama call_logs'a yazılır.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
	"github.com/akinalp/mqvicall/pkg/email"
	"github.com/akinalp/mqvicall/pkg/ratelimit"
	"github.com/akinalp/mqvicall/repository"
	"github.com/akinalp/mqvicall/ws"
)

const (
	// DefaultRingTimeout, config verilmediğinde server tarafı çalma süresi.
	DefaultRingTimeout = 30 * time.Second

	storeTimeout = 5 * time.Second
	emailTimeout = 15 * time.Second
)

// ─── ISP Interface'leri ───

// UserInfoGetter, kullanıcı bilgisi almak için minimal interface.
// repository.UserRepository bunu otomatik karşılar.
type UserInfoGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// CallMetrics, relay'in raporladığı sayaçlar. *metrics.Metrics bunu karşılar.
type CallMetrics interface {
	CallInitiated(kind models.CallKind)
	CallAnswered(kind models.CallKind, ring time.Duration)
	CallEnded(outcome models.CallOutcome)
	SetActiveCalls(n int)
}

type nopMetrics struct{}

func (nopMetrics) CallInitiated(models.CallKind)               {}
func (nopMetrics) CallAnswered(models.CallKind, time.Duration) {}
func (nopMetrics) CallEnded(models.CallOutcome)                {}
func (nopMetrics) SetActiveCalls(int)                          {}

// ─── CallRelayService Interface ───

// CallRelayService, signaling relay operasyonları.
type CallRelayService interface {
	// HandleSignal, Hub'dan gelen callUser/answerCall/callRejected/endCall event'lerini işler.
	// userID bağlantının doğrulanmış kimliğidir; payload'daki "from" yok sayılır.
	HandleSignal(userID string, event ws.InboundEvent)

	// HandleDisconnect, kullanıcının son bağlantısı kapandığında çağrılır.
	HandleDisconnect(userID string)

	// GetUserCall, kullanıcının aramasının kopyasını döner (nil = aramada değil).
	GetUserCall(userID string) *models.RelayCall

	// ActiveCount, çalan + aktif arama sayısı.
	ActiveCount() int

	// ListHistory, kullanıcının arama geçmişi (yeniden eskiye).
	ListHistory(ctx context.Context, userID string, limit int, before time.Time) ([]models.CallLog, error)

	// Shutdown, zamanlayıcıları durdurur ve bekleyen email'leri bekler.
	Shutdown()
}

// relayCall, RelayCall + çalma zamanlayıcısı.
type relayCall struct {
	models.RelayCall
	timer *time.Timer
}

type callRelayService struct {
	hub     ws.EventPublisher
	logs    repository.CallLogRepository
	users   UserInfoGetter
	mailer  email.EmailSender
	metrics CallMetrics
	limiter *ratelimit.Limiter
	cfg     config.CallConfig
	log     *logrus.Entry
	now     func() time.Time

	calls     map[string]*relayCall
	userCalls map[string]string
	mu        sync.Mutex

	mailWG sync.WaitGroup
}

// NewCallRelayService, constructor. limiter ve m nil olabilir.
func NewCallRelayService(
	hub ws.EventPublisher,
	logs repository.CallLogRepository,
	users UserInfoGetter,
	mailer email.EmailSender,
	m CallMetrics,
	limiter *ratelimit.Limiter,
	cfg config.CallConfig,
	logger *logrus.Entry,
) CallRelayService {
	if m == nil {
		m = nopMetrics{}
	}
	if mailer == nil {
		mailer = email.NewSender("", "")
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = repository.DefaultHistoryLimit
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &callRelayService{
		hub:       hub,
		logs:      logs,
		users:     users,
		mailer:    mailer,
		metrics:   m,
		limiter:   limiter,
		cfg:       cfg,
		log:       logger.WithField("component", "call_relay"),
		now:       time.Now,
		calls:     make(map[string]*relayCall),
		userCalls: make(map[string]string),
	}
}

// HandleSignal, op'a göre ilgili handler'a yönlendirir.
func (s *callRelayService) HandleSignal(userID string, event ws.InboundEvent) {
	var err error
	switch event.Op {
	case ws.OpCallUser:
		var d ws.CallUserData
		if err = event.DecodeData(&d); err == nil {
			err = s.callUser(userID, d)
		}
	case ws.OpAnswerCall:
		var d ws.AnswerCallData
		if err = event.DecodeData(&d); err == nil {
			err = s.answerCall(userID, d)
		}
	case ws.OpCallRejected:
		var d ws.CallRejectedData
		if err = event.DecodeData(&d); err == nil {
			err = s.rejectCall(userID, d)
		}
	case ws.OpEndCall:
		var d ws.EndCallData
		if err = event.DecodeData(&d); err == nil {
			err = s.endCall(userID, d)
		}
	default:
		err = fmt.Errorf("%w: unsupported op", pkg.ErrBadRequest)
	}

	if err != nil {
		s.log.WithFields(logrus.Fields{"user": userID, "op": event.Op}).WithError(err).Debug("signal rejected")
		s.hub.BroadcastToUser(userID, ws.Event{
			Op:   ws.OpError,
			Data: ws.ErrorData{Op: event.Op, Message: err.Error()},
		})
	}
}

// ─── callUser ───

func (s *callRelayService) callUser(callerID string, d ws.CallUserData) error {
	calleeID := d.UserToCall
	if calleeID == "" {
		return fmt.Errorf("%w: userToCall is required", pkg.ErrBadRequest)
	}
	if calleeID == callerID {
		return fmt.Errorf("%w: cannot call yourself", pkg.ErrBadRequest)
	}
	kind := d.CallType
	if kind == "" {
		kind = models.CallKindAudio
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown call type %q", pkg.ErrBadRequest, kind)
	}
	roomID := models.RoomID(callerID, calleeID)
	if d.RoomID != "" && d.RoomID != roomID {
		return fmt.Errorf("%w: room id does not match participants", pkg.ErrBadRequest)
	}

	now := s.now().UTC()
	call := &relayCall{RelayCall: models.RelayCall{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Kind:      kind,
		Status:    models.RelayCallStatusRinging,
		CreatedAt: now,
	}}
	s.metrics.CallInitiated(kind)

	if s.limiter != nil && !s.limiter.Allow(callerID) {
		s.log.WithField("user", callerID).Warn("call invite rate limited")
		s.sendRejected(callerID, roomID, models.RejectReasonFailed)
		s.metrics.CallEnded(models.CallOutcomeFailed)
		return nil
	}

	// Arayanın eski araması (ör: önceki client state'i) önce kapatılır.
	if stale := s.takeUserCall(callerID); stale != nil {
		s.closeAsLeaver(stale, callerID, now)
	}

	if !s.hub.IsOnline(calleeID) {
		s.sendRejected(callerID, roomID, models.RejectReasonOffline)
		s.finish(&call.RelayCall, models.CallOutcomeOffline, now)
		return nil
	}

	s.mu.Lock()
	if _, busy := s.userCalls[calleeID]; busy {
		s.mu.Unlock()
		s.sendRejected(callerID, roomID, models.RejectReasonBusy)
		s.finish(&call.RelayCall, models.CallOutcomeBusy, now)
		return nil
	}
	s.calls[roomID] = call
	s.userCalls[callerID] = roomID
	s.userCalls[calleeID] = roomID
	callID := call.ID
	call.timer = time.AfterFunc(s.cfg.RingTimeout, func() { s.ringTimeout(roomID, callID) })
	s.mu.Unlock()
	s.metrics.SetActiveCalls(s.ActiveCount())

	s.log.WithFields(logrus.Fields{
		"caller": callerID, "callee": calleeID, "room": roomID, "kind": kind,
	}).Info("call initiated")

	delivered := s.hub.BroadcastToUser(calleeID, ws.Event{
		Op: ws.OpIncomingCall,
		Data: ws.IncomingCallData{
			From:     callerID,
			Name:     s.displayName(callerID, d.Name),
			CallType: kind,
			RoomID:   roomID,
		},
	})
	if !delivered {
		// Online kontrolü ile gönderim arasında bağlantı koptu.
		if c := s.remove(roomID, callID); c != nil {
			s.sendRejected(callerID, roomID, models.RejectReasonOffline)
			s.finish(&c.RelayCall, models.CallOutcomeOffline, s.now().UTC())
		}
	}
	return nil
}

// ─── answerCall ───

func (s *callRelayService) answerCall(userID string, d ws.AnswerCallData) error {
	if d.RoomID == "" {
		return fmt.Errorf("%w: roomID is required", pkg.ErrBadRequest)
	}

	now := s.now().UTC()
	s.mu.Lock()
	call, ok := s.calls[d.RoomID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}
	if call.CalleeID != userID {
		s.mu.Unlock()
		return fmt.Errorf("%w: only the callee can answer", pkg.ErrForbidden)
	}
	if call.Status != models.RelayCallStatusRinging {
		s.mu.Unlock()
		return fmt.Errorf("%w: call is not ringing", pkg.ErrBadRequest)
	}
	call.Status = models.RelayCallStatusActive
	call.AnsweredAt = &now
	if call.timer != nil {
		call.timer.Stop()
	}
	callerID, kind, ring := call.CallerID, call.Kind, now.Sub(call.CreatedAt)
	s.mu.Unlock()

	s.metrics.CallAnswered(kind, ring)
	s.log.WithFields(logrus.Fields{"room": d.RoomID, "callee": userID}).Info("call answered")

	answered := ws.Event{Op: ws.OpAnswerCall, Data: ws.AnswerCallData{RoomID: d.RoomID}}
	s.hub.BroadcastToUser(callerID, answered)
	// Aranan'ın diğer cihazları da susar; cevaplayan cihaz bunu yok sayar.
	s.hub.BroadcastToUser(userID, answered)
	return nil
}

// ─── callRejected ───

func (s *callRelayService) rejectCall(userID string, d ws.CallRejectedData) error {
	if d.RoomID == "" {
		return fmt.Errorf("%w: roomID is required", pkg.ErrBadRequest)
	}
	reason := d.Reason
	if reason == "" {
		reason = models.RejectReasonDeclined
	}

	s.mu.Lock()
	call, ok := s.calls[d.RoomID]
	if !ok {
		s.mu.Unlock()
		// Relay state'i yoksa (ör: restart) ve oda iki tarafa aitse yine iletilir.
		if d.To != "" && d.RoomID == models.RoomID(userID, d.To) {
			s.sendRejected(d.To, d.RoomID, reason)
			return nil
		}
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}
	// Sadece aranan ve sadece çalarken reddedebilir. Arayan endCall ile vazgeçer;
	// cevaplanmış aramaya diğer cihazlardan gelen geç red yok sayılır.
	if call.CalleeID != userID {
		s.mu.Unlock()
		return fmt.Errorf("%w: only the callee can reject", pkg.ErrForbidden)
	}
	if call.Status != models.RelayCallStatusRinging {
		s.mu.Unlock()
		return fmt.Errorf("%w: call is not ringing", pkg.ErrBadRequest)
	}
	s.detachLocked(call)
	s.mu.Unlock()

	s.sendRejected(call.Other(userID), d.RoomID, reason)
	s.finish(&call.RelayCall, rejectOutcome(reason), s.now().UTC())
	return nil
}

// rejectOutcome, red sebebini call log sonucuna çevirir.
func rejectOutcome(r models.RejectReason) models.CallOutcome {
	switch r {
	case models.RejectReasonBusy:
		return models.CallOutcomeBusy
	case models.RejectReasonTimeout:
		return models.CallOutcomeMissed
	case models.RejectReasonFailed:
		return models.CallOutcomeFailed
	default:
		return models.CallOutcomeRejected
	}
}

// ─── endCall ───

func (s *callRelayService) endCall(userID string, d ws.EndCallData) error {
	if d.RoomID == "" {
		return fmt.Errorf("%w: roomID is required", pkg.ErrBadRequest)
	}

	call := s.removeIfInvolved(d.RoomID, userID)
	if call == nil {
		if d.To != "" && d.RoomID == models.RoomID(userID, d.To) {
			s.hub.BroadcastToUser(d.To, ws.Event{
				Op:   ws.OpEndCall,
				Data: ws.EndCallData{RoomID: d.RoomID},
			})
			return nil
		}
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}

	s.closeAsLeaver(call, userID, s.now().UTC())
	return nil
}

// closeAsLeaver, leaver'ın kendi isteğiyle ayrıldığı (map'ten çıkarılmış) aramayı
// kapatır ve karşı tarafa uygun event'i gönderir.
func (s *callRelayService) closeAsLeaver(call *relayCall, leaverID string, at time.Time) {
	other := call.Other(leaverID)

	switch {
	case call.Status == models.RelayCallStatusRinging && leaverID == call.CallerID:
		s.hub.BroadcastToUser(other, ws.Event{
			Op:   ws.OpCallCanceled,
			Data: ws.CallWithdrawnData{RoomID: call.RoomID},
		})
		s.finish(&call.RelayCall, models.CallOutcomeCanceled, at)

	case call.Status == models.RelayCallStatusRinging:
		// Aranan cevaplamadan kapattı: red.
		s.sendRejected(other, call.RoomID, models.RejectReasonDeclined)
		s.finish(&call.RelayCall, models.CallOutcomeRejected, at)

	default:
		s.hub.BroadcastToUser(other, ws.Event{
			Op:   ws.OpEndCall,
			Data: ws.EndCallData{RoomID: call.RoomID},
		})
		s.finish(&call.RelayCall, models.CallOutcomeCompleted, at)
	}
}

// ─── Zaman aşımı ve bağlantı kopması ───

// ringTimeout, çalma süresi dolunca her iki tarafa callTimeout gönderir.
func (s *callRelayService) ringTimeout(roomID, callID string) {
	s.mu.Lock()
	call, ok := s.calls[roomID]
	if !ok || call.ID != callID || call.Status != models.RelayCallStatusRinging {
		s.mu.Unlock()
		return
	}
	s.detachLocked(call)
	s.mu.Unlock()

	s.log.WithField("room", roomID).Info("call ring timeout")

	event := ws.Event{Op: ws.OpCallTimeout, Data: ws.CallWithdrawnData{RoomID: roomID}}
	s.hub.BroadcastToUser(call.CallerID, event)
	s.hub.BroadcastToUser(call.CalleeID, event)
	s.finish(&call.RelayCall, models.CallOutcomeMissed, s.now().UTC())
}

func (s *callRelayService) HandleDisconnect(userID string) {
	call := s.takeUserCall(userID)
	if call == nil {
		return
	}

	now := s.now().UTC()
	other := call.Other(userID)
	s.log.WithFields(logrus.Fields{"user": userID, "room": call.RoomID}).Info("call participant disconnected")

	switch {
	case call.Status == models.RelayCallStatusRinging && userID == call.CallerID:
		s.hub.BroadcastToUser(other, ws.Event{
			Op:   ws.OpCallCanceled,
			Data: ws.CallWithdrawnData{RoomID: call.RoomID},
		})
		s.finish(&call.RelayCall, models.CallOutcomeCanceled, now)

	case call.Status == models.RelayCallStatusRinging:
		s.hub.BroadcastToUser(other, ws.Event{
			Op:   ws.OpEndCall,
			Data: ws.EndCallData{RoomID: call.RoomID, Reason: ws.EndReasonDisconnect},
		})
		s.finish(&call.RelayCall, models.CallOutcomeMissed, now)

	default:
		s.hub.BroadcastToUser(other, ws.Event{
			Op:   ws.OpEndCall,
			Data: ws.EndCallData{RoomID: call.RoomID, Reason: ws.EndReasonDisconnect},
		})
		s.finish(&call.RelayCall, models.CallOutcomeCompleted, now)
	}
}

// ─── State yardımcıları ───

// detachLocked, aramayı map'lerden çıkarır ve zamanlayıcıyı durdurur. mu tutulmalı.
func (s *callRelayService) detachLocked(call *relayCall) {
	if call.timer != nil {
		call.timer.Stop()
	}
	delete(s.calls, call.RoomID)
	if s.userCalls[call.CallerID] == call.RoomID {
		delete(s.userCalls, call.CallerID)
	}
	if s.userCalls[call.CalleeID] == call.RoomID {
		delete(s.userCalls, call.CalleeID)
	}
}

func (s *callRelayService) remove(roomID, callID string) *relayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[roomID]
	if !ok || call.ID != callID {
		return nil
	}
	s.detachLocked(call)
	return call
}

func (s *callRelayService) removeIfInvolved(roomID, userID string) *relayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[roomID]
	if !ok || !call.Involves(userID) {
		return nil
	}
	s.detachLocked(call)
	return call
}

func (s *callRelayService) takeUserCall(userID string) *relayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.userCalls[userID]
	if !ok {
		return nil
	}
	call, ok := s.calls[roomID]
	if !ok {
		delete(s.userCalls, userID)
		return nil
	}
	s.detachLocked(call)
	return call
}

func (s *callRelayService) sendRejected(userID, roomID string, reason models.RejectReason) {
	s.hub.BroadcastToUser(userID, ws.Event{
		Op:   ws.OpCallRejected,
		Data: ws.CallRejectedData{RoomID: roomID, Reason: reason},
	})
}

// displayName, directory'deki ismi tercih eder; yoksa client'ın gönderdiği isim.
func (s *callRelayService) displayName(userID, fallback string) string {
	if s.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if u, err := s.users.GetByID(ctx, userID); err == nil {
			if u.DisplayName != "" {
				return u.DisplayName
			}
			if u.Username != "" {
				return u.Username
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return userID
}

// finish, kapanmış aramayı kaydeder; cevapsız sonuçlarda email gönderir.
func (s *callRelayService) finish(call *models.RelayCall, outcome models.CallOutcome, at time.Time) {
	s.metrics.CallEnded(outcome)
	s.metrics.SetActiveCalls(s.ActiveCount())

	entry := &models.CallLog{
		RoomID:     call.RoomID,
		CallerID:   call.CallerID,
		CalleeID:   call.CalleeID,
		Kind:       call.Kind,
		Outcome:    outcome,
		StartedAt:  call.CreatedAt,
		AnsweredAt: call.AnsweredAt,
		EndedAt:    at,
	}

	log := s.log.WithFields(logrus.Fields{
		"room": call.RoomID, "caller": call.CallerID, "callee": call.CalleeID, "outcome": outcome,
	})
	log.Info("call finished")

	if s.logs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := s.logs.Create(ctx, entry); err != nil {
			log.WithError(err).Error("failed to store call log")
		}
		cancel()
	}

	if outcome.IsMissed() {
		s.mailWG.Add(1)
		go func() {
			defer s.mailWG.Done()
			s.notifyMissed(entry)
		}()
	}
}

func (s *callRelayService) notifyMissed(entry *models.CallLog) {
	if s.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()

	callee, err := s.users.GetByID(ctx, entry.CalleeID)
	if err != nil {
		if !errors.Is(err, pkg.ErrNotFound) {
			s.log.WithError(err).WithField("user", entry.CalleeID).Warn("missed call lookup failed")
		}
		return
	}
	if callee.Email == "" {
		return
	}

	calleeName := callee.DisplayName
	if calleeName == "" {
		calleeName = callee.Username
	}
	err = s.mailer.SendMissedCall(ctx, callee.Email, email.MissedCall{
		CalleeName: calleeName,
		CallerName: s.displayName(entry.CallerID, ""),
		Video:      entry.Kind == models.CallKindVideo,
		At:         entry.StartedAt,
	})
	if err != nil {
		s.log.WithError(err).WithField("user", entry.CalleeID).Warn("missed call email failed")
	}
}

// ─── Sorgular ───

func (s *callRelayService) GetUserCall(userID string) *models.RelayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.userCalls[userID]
	if !ok {
		return nil
	}
	call, ok := s.calls[roomID]
	if !ok {
		return nil
	}
	cp := call.RelayCall
	return &cp
}

func (s *callRelayService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *callRelayService) ListHistory(ctx context.Context, userID string, limit int, before time.Time) ([]models.CallLog, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", pkg.ErrBadRequest)
	}
	if s.logs == nil {
		return nil, fmt.Errorf("%w: call history is disabled", pkg.ErrUnavailable)
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	return s.logs.ListByUser(ctx, userID, limit, before)
}

func (s *callRelayService) Shutdown() {
	s.mu.Lock()
	for _, call := range s.calls {
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	s.mu.Unlock()
	s.mailWG.Wait()
}
