package call

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/models"
)

// validTransitions, katılımcı başına tek FSM'in izin verilen geçişleri.
// incoming_ringing bekleyen bir daveti, diğer fazlar aktif session'ı temsil eder;
// idle dışındaki her faz "meşgul" demektir.
var validTransitions = map[models.CallPhase][]models.CallPhase{
	models.CallPhaseIdle: {
		models.CallPhaseOutgoingRinging,
		models.CallPhaseIncomingRinging,
		models.CallPhaseConnecting,
	},
	models.CallPhaseOutgoingRinging: {
		models.CallPhaseActive,
		models.CallPhaseEnded,
	},
	models.CallPhaseIncomingRinging: {
		models.CallPhaseConnecting,
		models.CallPhaseIdle,
	},
	models.CallPhaseConnecting: {
		models.CallPhaseActive,
		models.CallPhaseEnded,
	},
	models.CallPhaseActive: {
		models.CallPhaseEnded,
	},
	models.CallPhaseEnded: {
		models.CallPhaseIdle,
	},
}

// canTransition, from → to geçişi tabloda var mı?
func canTransition(from, to models.CallPhase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// transition, fazı değiştiren TEK fonksiyon. Sadece loop goroutine'inden çağrılır.
// Geçerli her geçişten sonra snapshot yenilenir ve observer'lar bilgilendirilir.
func (m *Manager) transition(to models.CallPhase) error {
	from := m.phase
	if !canTransition(from, to) {
		m.log.WithFields(logrus.Fields{"from": from, "to": to}).Error("rejected phase transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.phase = to
	if m.sess != nil {
		m.sess.info.Phase = to
	}
	m.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("phase changed")
	m.publish()
	return nil
}
