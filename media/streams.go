package media

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/call"
)

// streamTable, remote publication'ları stream'lere gruplar.
// İlk publication stream'i "ekler", sonuncusu "kaldırır".
type streamTable struct {
	mu      sync.Mutex
	pubs    map[string]pubRef            // pubSID → ref
	streams map[string]map[string]string // streamID → pubSID → participant
}

type pubRef struct {
	streamID    string
	participant string
}

func newStreamTable() *streamTable {
	return &streamTable{
		pubs:    make(map[string]pubRef),
		streams: make(map[string]map[string]string),
	}
}

// add, publication'ı kaydeder. Stream ilk kez görüldüyse true döner.
func (t *streamTable) add(pubSID, name, participant string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	streamID := streamOf(name)
	if _, ok := t.pubs[pubSID]; ok {
		return streamID, false
	}
	t.pubs[pubSID] = pubRef{streamID: streamID, participant: participant}

	group, ok := t.streams[streamID]
	if !ok {
		group = make(map[string]string)
		t.streams[streamID] = group
	}
	group[pubSID] = participant
	return streamID, !ok
}

// remove, publication'ı siler. Stream'in son publication'ıysa true döner.
func (t *streamTable) remove(pubSID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ref, ok := t.pubs[pubSID]
	if !ok {
		return "", false
	}
	delete(t.pubs, pubSID)

	group := t.streams[ref.streamID]
	delete(group, pubSID)
	if len(group) > 0 {
		return ref.streamID, false
	}
	delete(t.streams, ref.streamID)
	return ref.streamID, true
}

// removeParticipant, katılımcının tüm stream'lerini siler ve kaldırılanları döner.
func (t *streamTable) removeParticipant(participant string) []string {
	t.mu.Lock()
	var sids []string
	for sid, ref := range t.pubs {
		if ref.participant == participant {
			sids = append(sids, sid)
		}
	}
	t.mu.Unlock()

	var removed []string
	for _, sid := range sids {
		if streamID, gone := t.remove(sid); gone {
			removed = append(removed, streamID)
		}
	}
	return removed
}

// publications, stream'e ait publication SID'leri.
func (t *streamTable) publications(streamID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	group := t.streams[streamID]
	out := make([]string, 0, len(group))
	for sid := range group {
		out = append(out, sid)
	}
	return out
}

// participant, stream'in sahibi.
func (t *streamTable) participant(streamID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.streams[streamID] {
		return p, true
	}
	return "", false
}

// eventQueue, lksdk callback'lerinden gelen olayları Room.Events kanalına taşır.
// emit hiçbir zaman bloklamaz; buffer doluysa olay düşürülür ve loglanır.
// disconnect ise her zaman teslim edilir. close sonrası emit no-op'tur.
type eventQueue struct {
	mu     sync.Mutex
	ch     chan call.RoomEvent
	closed core.Fuse
	log    *logrus.Entry
}

const eventBufferSize = 64

func newEventQueue(log *logrus.Entry) *eventQueue {
	return &eventQueue{ch: make(chan call.RoomEvent, eventBufferSize), log: log}
}

func (q *eventQueue) emit(ev call.RoomEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.IsBroken() {
		return
	}
	select {
	case q.ch <- ev:
	default:
		q.log.WithFields(logrus.Fields{"event": ev.Type, "stream": ev.StreamID}).Warn("room event buffer full, dropping event")
	}
}

// disconnect, RoomDisconnected'ı kuyruğa koyar ve kanalı kapatır. Buffer
// doluysa en eski olay yer açmak için atılır.
func (q *eventQueue) disconnect() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.IsBroken() {
		return
	}
	ev := call.RoomEvent{Type: call.RoomDisconnected}
	for {
		select {
		case q.ch <- ev:
			q.closed.Break()
			close(q.ch)
			return
		default:
		}
		select {
		case dropped := <-q.ch:
			q.log.WithField("event", dropped.Type).Warn("room event buffer full, dropping oldest event")
		default:
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.IsBroken() {
		return
	}
	q.closed.Break()
	close(q.ch)
}
