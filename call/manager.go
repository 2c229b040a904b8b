// Package call, 1:1 sesli/görüntülü aramanın client tarafındaki koordinasyon çekirdeğidir.
//
// Manager tek bir goroutine'de (loop) çalışan bir session manager'dır:
//   - Call Session Controller: StartCall, AcceptCall, EndCall, ToggleMic, ToggleCamera
//     ve uzak/medya olaylarına tepkiler (controller.go)
//   - Incoming Call Notifier: gelen davet, Decide, 7sn zaman aşımı, geri çekilme (notifier.go)
//
// Tüm değişken state (faz, session, davet) sadece loop goroutine'inden okunur/yazılır.
// Public metodlar işi loop'a closure olarak gönderir. Bloklayan adımlar (medya yakalama,
// token isteği, odaya katılma, yayın, abonelik) loop dışında çalışır ve sonuçları loop'a
// döndüğünde session hâlâ geçerli mi diye yeniden kontrol edilir.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

// Varsayılan süreler.
const (
	DefaultInviteTimeout   = 7 * time.Second
	DefaultOutgoingTimeout = 30 * time.Second
)

// Config, Manager ayarları.
type Config struct {
	// LocalID, bu katılımcının kimliği (JWT subject ile aynı).
	LocalID string
	// DisplayName, davette karşı tarafa gösterilen isim.
	DisplayName string
	// InviteTimeout, gelen davetin karar beklediği süre. 0 → DefaultInviteTimeout.
	InviteTimeout time.Duration
	// OutgoingTimeout, giden aramanın cevap beklediği süre. 0 → DefaultOutgoingTimeout.
	OutgoingTimeout time.Duration
	Logger          *logrus.Entry
}

// Deps, Manager'ın dış bağımlılıkları. Indicator, Sink ve Notifier opsiyoneldir.
type Deps struct {
	Signaler  Signaler
	Tokens    TokenProvider
	Media     MediaEngine
	Indicator Indicator
	Sink      MediaSink
	Notifier  UserNotifier
}

// session, aktif aramanın loop'a ait iç hali.
type session struct {
	info     models.CallSession
	ctx      context.Context
	cancel   context.CancelFunc
	streamID string

	media     LocalMedia
	room      Room
	published bool
	// signaled: karşı taraf bu session'dan haberdar mı (davet gönderildi veya gelen arama).
	signaled bool
	ending   bool

	remote  map[string]RemoteStream
	pending map[string]bool

	ringTimer *time.Timer
}

// pendingInvite, bekleyen davet ve zaman aşımı timer'ı.
type pendingInvite struct {
	info  models.IncomingInvite
	timer *time.Timer
}

// Manager, katılımcı başına tek arama/davet koordinatörü.
type Manager struct {
	cfg       Config
	signaler  Signaler
	tokens    TokenProvider
	media     MediaEngine
	indicator Indicator
	sink      MediaSink
	notifier  UserNotifier
	log       *logrus.Entry

	actions  chan func()
	events   <-chan ws.InboundEvent
	unsub    func()
	closed   core.Fuse
	loopDone chan struct{}
	closeMu  sync.Once

	// loop'a ait state
	phase  models.CallPhase
	sess   *session
	invite *pendingInvite

	snapMu    sync.RWMutex
	snap      State
	observers []func(State)
}

// New, Manager'ı oluşturur, signaling kanalına abone olur ve loop'u başlatır.
// Manager kullanıcı oturumu boyunca yaşar; logout'ta Close çağrılır.
func New(cfg Config, deps Deps) (*Manager, error) {
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("call manager: local participant id is required")
	}
	if deps.Signaler == nil || deps.Tokens == nil || deps.Media == nil {
		return nil, fmt.Errorf("call manager: signaler, token provider and media engine are required")
	}
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = DefaultInviteTimeout
	}
	if cfg.OutgoingTimeout <= 0 {
		cfg.OutgoingTimeout = DefaultOutgoingTimeout
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.LocalID
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &Manager{
		cfg:       cfg,
		signaler:  deps.Signaler,
		tokens:    deps.Tokens,
		media:     deps.Media,
		indicator: deps.Indicator,
		sink:      deps.Sink,
		notifier:  deps.Notifier,
		log:       cfg.Logger.WithFields(logrus.Fields{"component": "call", "local": cfg.LocalID}),
		actions:   make(chan func()),
		loopDone:  make(chan struct{}),
		phase:     models.CallPhaseIdle,
	}
	if m.indicator == nil {
		m.indicator = nopCapabilities{}
	}
	if m.sink == nil {
		m.sink = nopCapabilities{}
	}
	if m.notifier == nil {
		m.notifier = nopCapabilities{}
	}
	m.snap = State{Phase: models.CallPhaseIdle}

	m.events, m.unsub = m.signaler.Subscribe()
	go m.run()
	return m, nil
}

// run, loop goroutine'i. Closure'lar ve signaling event'leri sırayla işlenir.
func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.actions:
			fn()
		case ev, ok := <-m.events:
			if !ok {
				m.events = nil
				continue
			}
			m.handleSignal(ev)
		case <-m.closed.Watch():
			return
		}
	}
}

// post, fn'i loop'ta çalıştırılmak üzere gönderir. Manager kapandıysa false döner.
// Loop goroutine'inin içinden çağrılmamalı.
func (m *Manager) post(fn func()) bool {
	select {
	case m.actions <- fn:
		return true
	case <-m.closed.Watch():
		return false
	}
}

// exec, fn'i loop'ta çalıştırır ve sonucunu bekler.
func (m *Manager) exec(fn func() error) error {
	errCh := make(chan error, 1)
	if !m.post(func() { errCh <- fn() }) {
		return ErrClosed
	}
	return <-errCh
}

// Close, aktif aramayı kapatır, bekleyen daveti reddeder, signaling aboneliğini
// bırakır ve loop'u durdurur. Birden fazla çağrılabilir.
func (m *Manager) Close() {
	m.closeMu.Do(func() {
		_ = m.exec(func() error {
			if m.sess != nil {
				m.teardown(m.sess, endOpts{reason: models.EndReasonLocalHangup, emit: true})
			}
			if inv := m.invite; inv != nil {
				m.clearInvite(inv)
				m.emit(ws.OpCallRejected, ws.CallRejectedData{
					To:     inv.info.From,
					RoomID: inv.info.RoomID,
					Reason: models.RejectReasonDeclined,
				})
			}
			if m.unsub != nil {
				m.unsub()
			}
			return nil
		})
		m.closed.Break()
		<-m.loopDone
		m.log.Info("call manager closed")
	})
}

// ─── Gözlemlenebilir durum ───

// State, son durumun kopyasını döner. Herhangi bir goroutine'den çağrılabilir.
func (m *Manager) State() State {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Phase, kısayol: State().Phase.
func (m *Manager) Phase() models.CallPhase {
	return m.State().Phase
}

// PendingInvite, bekleyen davet varsa döner.
func (m *Manager) PendingInvite() (models.IncomingInvite, bool) {
	st := m.State()
	if st.Invite == nil {
		return models.IncomingInvite{}, false
	}
	return *st.Invite, true
}

// OnStateChange, her durum değişikliğinde çağrılacak observer ekler.
// Observer loop goroutine'inde çağrılır: bloklamamalı ve Manager metodlarını
// senkron çağırmamalı (gerekirse goroutine açmalı). State() güvenlidir.
func (m *Manager) OnStateChange(fn func(State)) {
	m.snapMu.Lock()
	m.observers = append(m.observers, fn)
	m.snapMu.Unlock()
}

// publish, loop state'inden yeni snapshot üretir ve observer'ları çağırır.
func (m *Manager) publish() {
	st := State{Phase: m.phase}
	if s := m.sess; s != nil {
		info := s.info
		st.Session = &info
		if s.media != nil {
			st.MicEnabled = tracksEnabled(s.media, TrackKindAudio)
			st.CameraEnabled = tracksEnabled(s.media, TrackKindVideo)
		}
	}
	if inv := m.invite; inv != nil {
		info := inv.info
		st.Invite = &info
	}

	m.snapMu.Lock()
	m.snap = st
	observers := append(([]func(State))(nil), m.observers...)
	m.snapMu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}

// ─── Yardımcılar (loop) ───

func (m *Manager) newSession(remoteID, remoteName, roomID string, kind models.CallKind, outgoing bool) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		info: models.CallSession{
			ID:                  uuid.New().String(),
			RoomID:              roomID,
			LocalParticipantID:  m.cfg.LocalID,
			RemoteParticipantID: remoteID,
			RemoteDisplayName:   remoteName,
			Kind:                kind,
			Phase:               m.phase,
			Outgoing:            outgoing,
			StartedAt:           time.Now(),
		},
		ctx:      ctx,
		cancel:   cancel,
		streamID: models.StreamID(m.cfg.LocalID, roomID, kind),
		remote:   make(map[string]RemoteStream),
		pending:  make(map[string]bool),
	}
	m.sess = s
	return s
}

// isCurrent, async bir adımın devam ettiği session hâlâ canlı mı?
func (m *Manager) isCurrent(s *session) bool {
	return s != nil && m.sess == s && !s.ending
}

// sessionFor, roomID'ye uyan canlı session'ı döner. Boş roomID aktif session'a uyar.
func (m *Manager) sessionFor(roomID string) *session {
	s := m.sess
	if s == nil || s.ending {
		return nil
	}
	if roomID != "" && roomID != s.info.RoomID {
		return nil
	}
	return s
}

// emit, signaling kanalına yazar. Hata loglanır ve döner.
func (m *Manager) emit(op string, data any) error {
	if err := m.signaler.Emit(op, data); err != nil {
		m.log.WithError(err).WithField("op", op).Warn("failed to emit signaling event")
		return fmt.Errorf("%w: %v", ErrSignaling, err)
	}
	return nil
}

func (m *Manager) notify(kind NoticeKind, remoteID string, err error) {
	m.notifier.Notify(Notice{Kind: kind, RemoteID: remoteID, Err: err})
}

func tracksEnabled(media LocalMedia, kind TrackKind) bool {
	for _, t := range media.Tracks() {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

// ─── Signaling dispatch ───

// handleSignal, signaling event'ini ilgili tepkiye yönlendirir.
func (m *Manager) handleSignal(ev ws.InboundEvent) {
	log := m.log.WithField("op", ev.Op)

	switch ev.Op {
	case ws.OpIncomingCall:
		var d ws.IncomingCallData
		if err := ev.DecodeData(&d); err != nil {
			log.WithError(err).Warn("invalid signaling payload")
			return
		}
		m.onIncomingCall(d)

	case ws.OpAnswerCall:
		var d ws.AnswerCallData
		if err := ev.DecodeData(&d); err != nil {
			log.WithError(err).Warn("invalid signaling payload")
			return
		}
		if d.RoomID != "" && m.sess == nil && m.inviteMatches(d.RoomID) {
			// Aynı kullanıcının başka bir cihazı kabul etti.
			m.answeredElsewhere()
			return
		}
		m.onAnswered(d.RoomID)

	case ws.OpCallRejected:
		var d ws.CallRejectedData
		if err := ev.DecodeData(&d); err != nil {
			log.WithError(err).Warn("invalid signaling payload")
			return
		}
		if m.inviteMatches(d.RoomID) {
			m.withdrawInvite(ev.Op)
			return
		}
		m.onRejected(d.RoomID, d.Reason)

	case ws.OpEndCall:
		var d ws.EndCallData
		if err := ev.DecodeData(&d); err != nil {
			log.WithError(err).Warn("invalid signaling payload")
			return
		}
		if m.inviteMatches(d.RoomID) {
			m.withdrawInvite(ev.Op)
			return
		}
		m.onRemoteEnd(d.RoomID, d.Reason)

	case ws.OpCallCanceled, ws.OpCallTimeout:
		var d ws.CallWithdrawnData
		if err := ev.DecodeData(&d); err != nil {
			log.WithError(err).Warn("invalid signaling payload")
			return
		}
		if m.inviteMatches(d.RoomID) {
			m.withdrawInvite(ev.Op)
			return
		}
		if ev.Op == ws.OpCallTimeout {
			m.onRejected(d.RoomID, models.RejectReasonTimeout)
		} else {
			m.onRemoteEnd(d.RoomID, "")
		}

	case ws.OpDisconnect:
		m.onTransportLost()

	case ws.OpHeartbeatAck, ws.OpReady:
		// bağlantı seviyesinde, session ile ilgisi yok

	case ws.OpError:
		var d ws.ErrorData
		if err := ev.DecodeData(&d); err == nil {
			log.WithField("rejected_op", d.Op).Warn(d.Message)
		}

	default:
		log.Debug("ignoring signaling event")
	}
}

// onTransportLost: signaling bağlantısı koptu. Session transport_lost ile kapanır,
// bekleyen davet sessizce düşer (karşı tarafa ulaşamayız).
func (m *Manager) onTransportLost() {
	if inv := m.invite; inv != nil {
		m.log.WithField("room", inv.info.RoomID).Info("transport lost, dropping pending invite")
		m.clearInvite(inv)
	}
	if s := m.sessionFor(""); s != nil {
		m.teardown(s, endOpts{
			reason: models.EndReasonTransportLost,
			notice: NoticeConnectionLost,
		})
	}
}
