package call

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

// ─── Incoming Call Notifier ───

// onIncomingCall (loop): gelen davet.
//
// Meşgulken (faz idle değil) davet hiç gösterilmeden callRejected{busy} ile
// reddedilir. Aynı davetin tekrarı yok sayılır. Aksi halde davet bekleyen olur,
// zil çalar ve InviteTimeout sonunda zaman aşımı reddi gönderilir.
func (m *Manager) onIncomingCall(d ws.IncomingCallData) {
	log := m.log.WithFields(logrus.Fields{"from": d.From, "room": d.RoomID})

	if d.From == "" || d.RoomID == "" || d.From == m.cfg.LocalID {
		log.Warn("ignoring malformed incoming call")
		return
	}
	kind := d.CallType
	if !kind.Valid() {
		kind = models.CallKindAudio
	}

	if inv := m.invite; inv != nil && inv.info.RoomID == d.RoomID && inv.info.From == d.From {
		log.Debug("duplicate incoming call")
		return
	}

	if m.phase != models.CallPhaseIdle {
		log.WithField("phase", m.phase).Info("busy, auto-rejecting incoming call")
		_ = m.emit(ws.OpCallRejected, ws.CallRejectedData{
			To:     d.From,
			RoomID: d.RoomID,
			Reason: models.RejectReasonBusy,
		})
		return
	}

	name := d.Name
	if name == "" {
		name = d.From
	}
	inv := &pendingInvite{info: models.IncomingInvite{
		From:            d.From,
		FromDisplayName: name,
		RoomID:          d.RoomID,
		Kind:            kind,
		ReceivedAt:      time.Now(),
	}}
	inv.timer = time.AfterFunc(m.cfg.InviteTimeout, func() {
		m.post(func() { m.expireInvite(inv) })
	})
	m.invite = inv

	if err := m.transition(models.CallPhaseIncomingRinging); err != nil {
		inv.timer.Stop()
		m.invite = nil
		return
	}
	m.indicator.Start(IndicatorIncoming)
	log.WithField("kind", kind).Info("incoming call")
}

// Decide, bekleyen davete kullanıcının kararı.
// accept=true → AcceptCall; accept=false → callRejected{declined}.
func (m *Manager) Decide(ctx context.Context, accept bool) error {
	if !accept {
		return m.exec(func() error {
			inv := m.invite
			if inv == nil {
				return ErrNoPendingInvite
			}
			m.rejectInvite(inv, models.RejectReasonDeclined)
			return nil
		})
	}

	invite, ok := m.PendingInvite()
	if !ok {
		return ErrNoPendingInvite
	}
	return m.AcceptCall(ctx, invite)
}

// inviteMatches, roomID bekleyen davete mi ait? Boş roomID, bekleyen davet varken
// ve aktif session yokken ona uyar.
func (m *Manager) inviteMatches(roomID string) bool {
	inv := m.invite
	if inv == nil {
		return false
	}
	if roomID == "" {
		return m.sess == nil
	}
	return inv.info.RoomID == roomID
}

// stopInvite, timer'ı ve zili durdurur, daveti bırakır. Fazı değiştirmez
// (kabulde incoming_ringing → connecting geçişi çağırana kalır).
func (m *Manager) stopInvite(inv *pendingInvite) {
	if inv.timer != nil {
		inv.timer.Stop()
	}
	m.indicator.Stop(IndicatorIncoming)
	if m.invite == inv {
		m.invite = nil
	}
}

// clearInvite, stopInvite + incoming_ringing'den idle'a dönüş.
func (m *Manager) clearInvite(inv *pendingInvite) {
	m.stopInvite(inv)
	if m.phase == models.CallPhaseIncomingRinging {
		_ = m.transition(models.CallPhaseIdle)
		return
	}
	m.publish()
}

// rejectInvite, daveti temizler ve arayana callRejected{reason} gönderir.
func (m *Manager) rejectInvite(inv *pendingInvite, reason models.RejectReason) {
	m.clearInvite(inv)
	_ = m.emit(ws.OpCallRejected, ws.CallRejectedData{
		To:     inv.info.From,
		RoomID: inv.info.RoomID,
		Reason: reason,
	})
	m.log.WithFields(logrus.Fields{"from": inv.info.From, "room": inv.info.RoomID, "reason": reason}).
		Info("incoming call rejected")
}

// expireInvite: karar süresi doldu. Zaman aşımı reddi gönderilir, cevapsız arama
// bildirimi üretilir. Timer eski bir davete aitse yok sayılır.
func (m *Manager) expireInvite(inv *pendingInvite) {
	if m.invite != inv {
		return
	}
	m.rejectInvite(inv, models.RejectReasonTimeout)
	m.notify(NoticeMissedCall, inv.info.From, nil)
}

// withdrawInvite: arayan vazgeçti, sunucu zaman aşımı verdi veya davet başka
// bir yoldan düştü. Karşı tarafa bir şey gönderilmez.
// answeredElsewhere, davet başka bir cihazda cevaplandı: zil susar, davet
// sessizce kalkar. Cevaplanmış bir arama kaçırılmış sayılmaz.
func (m *Manager) answeredElsewhere() {
	inv := m.invite
	if inv == nil {
		return
	}
	m.clearInvite(inv)
	m.log.WithFields(logrus.Fields{"from": inv.info.From, "room": inv.info.RoomID}).
		Info("incoming call answered on another device")
}

func (m *Manager) withdrawInvite(op string) {
	inv := m.invite
	if inv == nil {
		return
	}
	m.clearInvite(inv)
	m.log.WithFields(logrus.Fields{"from": inv.info.From, "room": inv.info.RoomID, "op": op}).
		Info("incoming call withdrawn")
	m.notify(NoticeMissedCall, inv.info.From, nil)
}
