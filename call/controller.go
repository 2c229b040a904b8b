package call

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
	"github.com/akinalp/mqvicall/ws"
)

// ─── Call Session Controller ───

// StartCall, remoteID'ye kind türünde arama başlatır.
//
// Akış: session (outgoing_ringing) → medya yakala → oda token'ı → odaya katıl →
// yayınla → çalma sesi → callUser. Her async adımdan sonra session yeniden doğrulanır.
//
// Setup tamamlanınca (davet gönderildi) nil döner. Başarısız setup session'ı kapatır,
// tek bir Notice üretir ve error'ı döner; başka bir olay session'ı kapattıysa
// ErrSetupAborted döner.
func (m *Manager) StartCall(ctx context.Context, remoteID string, kind models.CallKind) error {
	if remoteID == "" || remoteID == m.cfg.LocalID {
		return fmt.Errorf("%w: invalid remote participant %q", pkg.ErrBadRequest, remoteID)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: invalid call kind %q", pkg.ErrBadRequest, kind)
	}

	var s *session
	err := m.exec(func() error {
		if m.phase != models.CallPhaseIdle {
			return fmt.Errorf("%w: phase is %s", ErrCallInProgress, m.phase)
		}
		s = m.newSession(remoteID, "", models.RoomID(m.cfg.LocalID, remoteID), kind, true)
		return m.transition(models.CallPhaseOutgoingRinging)
	})
	if err != nil {
		return err
	}

	m.sessionLog(s).Info("starting call")
	return m.runSetup(ctx, s)
}

// AcceptCall, bekleyen daveti kabul eder. invite.RoomID bekleyen davetle aynı olmalı.
// Davet temizlenir, session connecting fazında başlar; setup sonunda answerCall
// gönderilir ve session active olur.
func (m *Manager) AcceptCall(ctx context.Context, invite models.IncomingInvite) error {
	var s *session
	err := m.exec(func() error {
		inv := m.invite
		if inv == nil || inv.info.RoomID != invite.RoomID {
			return ErrNoPendingInvite
		}
		if m.sess != nil {
			return ErrCallInProgress
		}
		m.stopInvite(inv)
		s = m.newSession(inv.info.From, inv.info.FromDisplayName, inv.info.RoomID, inv.info.Kind, false)
		s.signaled = true
		return m.transition(models.CallPhaseConnecting)
	})
	if err != nil {
		return err
	}

	m.sessionLog(s).Info("accepting call")
	return m.runSetup(ctx, s)
}

// EndCall, aktif session'ı kapatır. Session yoksa no-op; tekrar tekrar çağrılabilir.
//
// triggeredRemotely=false ise karşı tarafa endCall (isRejection=true ise
// callRejected{declined}) gönderilir. Session yokken reddedilen bekleyen davet varsa
// o davet reddedilir.
func (m *Manager) EndCall(triggeredRemotely, isRejection bool) {
	_ = m.exec(func() error {
		s := m.sessionFor("")
		if s == nil {
			if isRejection && !triggeredRemotely && m.invite != nil {
				m.rejectInvite(m.invite, models.RejectReasonDeclined)
			}
			return nil
		}

		o := endOpts{reason: models.EndReasonLocalHangup, emit: !triggeredRemotely}
		switch {
		case isRejection:
			o.reason = models.EndReasonRejected
			o.reject = models.RejectReasonDeclined
		case triggeredRemotely:
			o.reason = models.EndReasonRemoteHangup
		}
		m.teardown(s, o)
		return nil
	})
}

// ToggleMic, mikrofon track'lerinin enabled bayrağını çevirir.
// ok=false: sahip olunan medya yok (no-op).
func (m *Manager) ToggleMic() (enabled bool, ok bool) {
	return m.toggle(TrackKindAudio)
}

// ToggleCamera, kamera track'lerinin enabled bayrağını çevirir.
func (m *Manager) ToggleCamera() (enabled bool, ok bool) {
	return m.toggle(TrackKindVideo)
}

func (m *Manager) toggle(kind TrackKind) (enabled bool, ok bool) {
	_ = m.exec(func() error {
		s := m.sessionFor("")
		if s == nil || s.media == nil {
			return nil
		}
		var tracks []LocalTrack
		for _, t := range s.media.Tracks() {
			if t.Kind() == kind {
				tracks = append(tracks, t)
			}
		}
		if len(tracks) == 0 {
			return nil
		}
		enabled = !tracks[0].Enabled()
		for _, t := range tracks {
			t.SetEnabled(enabled)
		}
		ok = true
		m.publish()
		return nil
	})
	return enabled, ok
}

// ─── Setup zinciri ───

// runSetup, StartCall ve AcceptCall'un ortak async zinciri. Çağıranın goroutine'inde
// çalışır; loop'a sadece sonuçları bağlamak için döner. callerCtx iptal edilirse
// setup durur ve session kapatılır.
func (m *Manager) runSetup(callerCtx context.Context, s *session) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(callerCtx, cancel)
	defer stop()

	fail := func(err error, notice NoticeKind) error {
		if cerr := callerCtx.Err(); cerr != nil {
			return m.failSetup(s, fmt.Errorf("%w: %v", ErrSetupAborted, cerr), "")
		}
		return m.failSetup(s, err, notice)
	}

	// 1. Local medya (audio her zaman, video sadece görüntülü aramada)
	media, err := m.media.CreateLocalMedia(ctx, MediaConstraints{
		Audio: true,
		Video: s.info.Kind == models.CallKindVideo,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err), NoticePermissionDenied)
	}
	if err := m.resume(s, func() { s.media = media; m.publish() }, media.Stop); err != nil {
		return err
	}

	// 2. Oda credential'ı
	token, err := m.tokens.RoomToken(ctx, s.info.RoomID, m.cfg.LocalID)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCredential, err), NoticeCredentialFailed)
	}
	if err := m.resume(s, func() {}, nil); err != nil {
		return err
	}

	// 3. Odaya katıl
	room, err := m.media.JoinRoom(ctx, s.info.RoomID, token, Identity{ID: m.cfg.LocalID, Name: m.cfg.DisplayName})
	if err != nil {
		return fail(fmt.Errorf("%w: join: %v", ErrRoomSetup, err), NoticeCallFailed)
	}
	leave := func() {
		if err := room.Leave(); err != nil {
			m.sessionLog(s).WithError(err).Debug("leave stale room")
		}
	}
	if err := m.resume(s, func() { s.room = room; m.watchRoom(s, room) }, leave); err != nil {
		return err
	}

	// 4. Yayınla
	if err := room.Publish(ctx, s.streamID, media); err != nil {
		return fail(fmt.Errorf("%w: publish: %v", ErrRoomSetup, err), NoticeCallFailed)
	}

	// 5. Davet (arayan) veya cevap (aranan)
	var finishErr error
	err = m.exec(func() error {
		if !m.isCurrent(s) {
			return ErrSetupAborted
		}
		s.published = true
		if s.info.Outgoing {
			finishErr = m.finishOutgoing(s)
		} else {
			finishErr = m.finishIncoming(s)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if finishErr != nil {
		return fail(finishErr, NoticeCallFailed)
	}

	m.sessionLog(s).Info("call setup complete")
	return nil
}

// resume, async bir adımın sonucunu loop üzerinde session'a bağlar.
// Session bu arada kapandıysa attach çalışmaz, release çağrılır ve ErrSetupAborted döner.
func (m *Manager) resume(s *session, attach func(), release func()) error {
	err := m.exec(func() error {
		if !m.isCurrent(s) {
			return ErrSetupAborted
		}
		attach()
		return nil
	})
	if err != nil {
		if release != nil {
			release()
		}
		m.sessionLog(s).Debug("session ended during setup step")
	}
	return err
}

// failSetup, setup hatasını teardown + tek bildirime çevirir.
// Session zaten başka bir sebeple kapandıysa ErrSetupAborted döner.
func (m *Manager) failSetup(s *session, cause error, notice NoticeKind) error {
	aborted := false
	err := m.exec(func() error {
		if !m.isCurrent(s) {
			aborted = true
			return nil
		}
		o := endOpts{reason: models.EndReasonSetupFailed, notice: notice, err: cause}
		if !s.info.Outgoing {
			// Arayan hâlâ çalıyor; durması için reddediyoruz.
			o.emit = true
			o.reject = models.RejectReasonFailed
		}
		m.teardown(s, o)
		return nil
	})
	if err != nil {
		return err
	}
	if aborted {
		return ErrSetupAborted
	}

	m.sessionLog(s).WithError(cause).Warn("call setup failed")
	return cause
}

// finishOutgoing (loop): çalma sesi + callUser + cevap bekleme timer'ı.
func (m *Manager) finishOutgoing(s *session) error {
	m.indicator.Start(IndicatorOutgoing)
	if err := m.emit(ws.OpCallUser, ws.CallUserData{
		UserToCall: s.info.RemoteParticipantID,
		RoomID:     s.info.RoomID,
		From:       m.cfg.LocalID,
		Name:       m.cfg.DisplayName,
		CallType:   s.info.Kind,
	}); err != nil {
		return err
	}
	s.signaled = true
	s.ringTimer = time.AfterFunc(m.cfg.OutgoingTimeout, func() {
		m.post(func() { m.onOutgoingTimeout(s) })
	})
	return nil
}

// finishIncoming (loop): answerCall + active.
func (m *Manager) finishIncoming(s *session) error {
	if err := m.emit(ws.OpAnswerCall, ws.AnswerCallData{
		To:     s.info.RemoteParticipantID,
		RoomID: s.info.RoomID,
	}); err != nil {
		return err
	}
	s.info.ConnectedAt = time.Now()
	return m.transition(models.CallPhaseActive)
}

// ─── Uzak tepkiler (loop) ───

func (m *Manager) onOutgoingTimeout(s *session) {
	if !m.isCurrent(s) || m.phase != models.CallPhaseOutgoingRinging {
		return
	}
	m.teardown(s, endOpts{
		reason: models.EndReasonTimeout,
		emit:   true,
		notice: NoticeNoAnswer,
	})
}

// onAnswered: karşı taraf kabul etti. Sadece outgoing_ringing fazında anlamlı.
func (m *Manager) onAnswered(roomID string) {
	s := m.sessionFor(roomID)
	if s == nil || !s.info.Outgoing || m.phase != models.CallPhaseOutgoingRinging {
		m.log.WithField("room", roomID).Debug("ignoring answer without ringing session")
		return
	}
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	m.indicator.Stop(IndicatorOutgoing)
	s.info.ConnectedAt = time.Now()
	if err := m.transition(models.CallPhaseActive); err != nil {
		return
	}
	m.sessionLog(s).Info("call answered")
}

// onRejected: karşı taraf reddetti, meşgul, zaman aşımı veya çevrimdışı.
func (m *Manager) onRejected(roomID string, reason models.RejectReason) {
	s := m.sessionFor(roomID)
	if s == nil {
		return
	}
	m.teardown(s, endOpts{reason: reason.EndReason(), notice: rejectNotice(reason)})
}

// onRemoteEnd: karşı taraf kapattı veya (reason=disconnect) bağlantısı koptu.
func (m *Manager) onRemoteEnd(roomID, reason string) {
	s := m.sessionFor(roomID)
	if s == nil {
		return
	}
	o := endOpts{reason: models.EndReasonRemoteHangup}
	if reason == ws.EndReasonDisconnect {
		o.reason = models.EndReasonPartnerDisconnected
		o.notice = NoticePartnerDisconnected
	}
	m.teardown(s, o)
}

func rejectNotice(reason models.RejectReason) NoticeKind {
	switch reason {
	case models.RejectReasonBusy:
		return NoticeBusy
	case models.RejectReasonTimeout:
		return NoticeNoAnswer
	case models.RejectReasonOffline:
		return NoticeOffline
	case models.RejectReasonFailed:
		return NoticeCallFailed
	default:
		return NoticeDeclined
	}
}

// ─── Media engine olayları ───

// watchRoom, odanın olaylarını loop'a taşır. Kanalın kapanması oda kaybı
// sayılır; Leave sonrası session artık güncel olmadığından yok sayılır.
func (m *Manager) watchRoom(s *session, room Room) {
	events := room.Events()
	go func() {
		for ev := range events {
			if !m.post(func() { m.handleRoomEvent(s, room, ev) }) {
				return
			}
		}
		m.post(func() { m.handleRoomEvent(s, room, RoomEvent{Type: RoomDisconnected}) })
	}()
}

func (m *Manager) handleRoomEvent(s *session, room Room, ev RoomEvent) {
	if !m.isCurrent(s) || s.room != room {
		return
	}
	m.sessionLog(s).WithFields(logrus.Fields{"event": ev.Type, "stream": ev.StreamID}).Debug("room event")

	switch ev.Type {
	case RoomStreamAdded:
		m.onStreamAdded(s, room, ev.StreamID)
	case RoomStreamRemoved:
		m.onStreamRemoved(s, room, ev.StreamID)
	case RoomDisconnected:
		m.teardown(s, endOpts{
			reason: models.EndReasonTransportLost,
			emit:   true,
			notice: NoticeConnectionLost,
		})
	}
}

// onStreamAdded: yeni uzak yayına async abone olunur.
func (m *Manager) onStreamAdded(s *session, room Room, streamID string) {
	if streamID == "" || streamID == s.streamID {
		return
	}
	if _, ok := s.remote[streamID]; ok || s.pending[streamID] {
		return
	}
	s.pending[streamID] = true

	ctx := s.ctx
	go func() {
		stream, err := room.Subscribe(ctx, streamID)
		if !m.post(func() { m.onSubscribed(s, room, streamID, stream, err) }) && err == nil {
			_ = room.Unsubscribe(streamID)
		}
	}()
}

func (m *Manager) onSubscribed(s *session, room Room, streamID string, stream RemoteStream, err error) {
	log := m.sessionLog(s).WithField("stream", streamID)
	wanted := s.pending[streamID]
	delete(s.pending, streamID)

	if !m.isCurrent(s) || !wanted {
		if err == nil {
			if uerr := room.Unsubscribe(streamID); uerr != nil {
				log.WithError(uerr).Debug("unsubscribe stale stream")
			}
		}
		return
	}
	if err != nil {
		log.WithError(err).Warn("failed to subscribe to remote stream")
		return
	}

	s.remote[streamID] = stream
	m.sink.BindAudio(stream)
	if models.IsVideoStream(streamID) {
		m.sink.BindVideo(stream)
	}
	log.Info("remote stream bound")
	m.publish()
}

// onStreamRemoved: abonelik ve bağlamalar kaldırılır. Aktif aramada hiç uzak
// yayın kalmadıysa karşı taraf gitmiş sayılır.
func (m *Manager) onStreamRemoved(s *session, room Room, streamID string) {
	wasPending := s.pending[streamID]
	delete(s.pending, streamID)

	if _, ok := s.remote[streamID]; ok {
		if err := room.Unsubscribe(streamID); err != nil {
			m.sessionLog(s).WithError(err).Debug("unsubscribe removed stream")
		}
		m.sink.Unbind(streamID)
		delete(s.remote, streamID)
	} else if !wasPending {
		return
	}

	if m.phase == models.CallPhaseActive && len(s.remote) == 0 && len(s.pending) == 0 {
		m.teardown(s, endOpts{
			reason: models.EndReasonPartnerDisconnected,
			notice: NoticePartnerDisconnected,
		})
		return
	}
	m.publish()
}

// ─── Teardown ───

// endOpts, teardown'un nasıl yapılacağı.
type endOpts struct {
	reason models.EndReason
	// emit: karşı taraf haberdarsa sonlandırma sinyali gönderilsin mi.
	emit bool
	// reject boş değilse endCall yerine callRejected{reason} gönderilir.
	reject models.RejectReason
	notice NoticeKind
	err    error
}

// teardown, TEK sonlandırma yolu. Loop'ta senkron çalışır, idempotenttir:
// çalma sesini durdurur, gerekirse sinyal gönderir, yayını kaldırır, uzak
// abonelikleri ve bağlamaları kaldırır, odadan çıkar, local medyayı serbest bırakır
// ve fazı idle'a döndürür. Hiç edinilmemiş kaynaklar atlanır.
func (m *Manager) teardown(s *session, o endOpts) {
	if !m.isCurrent(s) {
		return
	}
	s.ending = true
	s.info.EndReason = o.reason
	log := m.sessionLog(s).WithField("reason", o.reason)

	_ = m.transition(models.CallPhaseEnded)
	s.cancel()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	m.indicator.Stop(IndicatorOutgoing)

	if o.emit && s.signaled {
		if o.reject != "" {
			_ = m.emit(ws.OpCallRejected, ws.CallRejectedData{
				To:     s.info.RemoteParticipantID,
				RoomID: s.info.RoomID,
				Reason: o.reject,
			})
		} else {
			_ = m.emit(ws.OpEndCall, ws.EndCallData{
				To:     s.info.RemoteParticipantID,
				RoomID: s.info.RoomID,
			})
		}
	}

	if room := s.room; room != nil {
		if s.published {
			if err := room.Unpublish(s.streamID); err != nil {
				log.WithError(err).Warn("failed to unpublish local stream")
			}
		}
		for id := range s.remote {
			if err := room.Unsubscribe(id); err != nil {
				log.WithError(err).WithField("stream", id).Warn("failed to unsubscribe")
			}
			m.sink.Unbind(id)
		}
		if err := room.Leave(); err != nil {
			log.WithError(err).Warn("failed to leave room")
		}
	}
	if s.media != nil {
		s.media.Stop()
	}

	s.media, s.room, s.published = nil, nil, false
	s.remote = map[string]RemoteStream{}
	m.sess = nil
	_ = m.transition(models.CallPhaseIdle)

	var talked time.Duration
	if !s.info.ConnectedAt.IsZero() {
		talked = time.Since(s.info.ConnectedAt)
	}
	log.WithField("talked", talked.Round(time.Second)).Info("call ended")

	if o.notice != "" {
		m.notify(o.notice, s.info.RemoteParticipantID, o.err)
	}
}

func (m *Manager) sessionLog(s *session) *logrus.Entry {
	return m.log.WithFields(logrus.Fields{
		"session": s.info.ID,
		"room":    s.info.RoomID,
		"remote":  s.info.RemoteParticipantID,
	})
}
