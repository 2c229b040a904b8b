package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/call"
)

type publishedTrack struct {
	track *LocalTrack
	pub   *lksdk.LocalTrackPublication
}

// Room, katılınmış bir LiveKit odası (call.Room).
type Room struct {
	id  string
	lk  *lksdk.Room
	log *logrus.Entry

	streams *streamTable
	events  *eventQueue

	mu         sync.Mutex
	remotePubs map[string]*lksdk.RemoteTrackPublication // pubSID → publication
	subscribed map[string]*RemoteStream                 // streamID → stream
	published  map[string][]publishedTrack              // streamID → local publications

	leaving core.Fuse
}

func newRoom(id string, log *logrus.Entry) *Room {
	return &Room{
		id:         id,
		log:        log,
		streams:    newStreamTable(),
		events:     newEventQueue(log),
		remotePubs: make(map[string]*lksdk.RemoteTrackPublication),
		subscribed: make(map[string]*RemoteStream),
		published:  make(map[string][]publishedTrack),
	}
}

// callback, lksdk olaylarını oda olaylarına çevirir.
func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			for _, streamID := range r.streams.removeParticipant(rp.Identity()) {
				r.forgetStream(streamID)
				r.events.emit(call.RoomEvent{Type: call.RoomStreamRemoved, StreamID: streamID, ParticipantID: rp.Identity()})
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.trackPublished(pub, rp)
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.mu.Lock()
				delete(r.remotePubs, pub.SID())
				r.mu.Unlock()

				if streamID, gone := r.streams.remove(pub.SID()); gone {
					r.forgetStream(streamID)
					r.events.emit(call.RoomEvent{Type: call.RoomStreamRemoved, StreamID: streamID, ParticipantID: rp.Identity()})
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				streamID := streamOf(pub.Name())
				r.mu.Lock()
				stream := r.subscribed[streamID]
				r.mu.Unlock()
				if stream == nil {
					r.log.WithField("stream", streamID).Debug("track subscribed without a subscription, ignoring")
					return
				}
				stream.addTrack(track)
				r.log.WithFields(logrus.Fields{"stream": streamID, "kind": track.Kind().String()}).Debug("remote track subscribed")
			},
		},
		OnDisconnected: func() {
			if r.leaving.IsBroken() {
				return
			}
			r.log.Warn("media room disconnected")
			r.events.disconnect()
		},
	}
}

func (r *Room) trackPublished(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	r.remotePubs[pub.SID()] = pub
	r.mu.Unlock()

	if streamID, added := r.streams.add(pub.SID(), pub.Name(), rp.Identity()); added {
		r.events.emit(call.RoomEvent{Type: call.RoomStreamAdded, StreamID: streamID, ParticipantID: rp.Identity()})
	}
}

// syncExisting, katılmadan önce yayınlanmış track'leri kaydeder.
func (r *Room) syncExisting() {
	for _, rp := range r.lk.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
				r.trackPublished(remote, rp)
			}
		}
	}
}

func (r *Room) forgetStream(streamID string) {
	r.mu.Lock()
	delete(r.subscribed, streamID)
	r.mu.Unlock()
}

func (r *Room) ID() string { return r.id }

func (r *Room) Events() <-chan call.RoomEvent { return r.events.ch }

// Publish, LocalMedia'nın track'lerini streamID altında yayınlar.
func (r *Room) Publish(ctx context.Context, streamID string, m call.LocalMedia) error {
	local, ok := m.(*LocalMedia)
	if !ok {
		return fmt.Errorf("publish %s: unsupported media type %T", streamID, m)
	}
	if r.leaving.IsBroken() {
		return fmt.Errorf("publish %s: room left", streamID)
	}

	var done []publishedTrack
	for _, t := range local.tracks {
		if err := ctx.Err(); err != nil {
			r.unpublishAll(done)
			return err
		}
		source := livekit.TrackSource_MICROPHONE
		if t.kind == call.TrackKindVideo {
			source = livekit.TrackSource_CAMERA
		}
		pub, err := r.lk.LocalParticipant.PublishTrack(t.rtc, &lksdk.TrackPublicationOptions{
			Name:   trackName(streamID, t.kind),
			Source: source,
		})
		if err != nil {
			r.unpublishAll(done)
			return fmt.Errorf("publish %s track: %w", t.kind, err)
		}
		t.attach(pub)
		done = append(done, publishedTrack{track: t, pub: pub})
	}

	r.mu.Lock()
	r.published[streamID] = append(r.published[streamID], done...)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"stream": streamID, "tracks": len(done)}).Info("stream published")
	return nil
}

func (r *Room) Unpublish(streamID string) error {
	r.mu.Lock()
	tracks := r.published[streamID]
	delete(r.published, streamID)
	r.mu.Unlock()

	if len(tracks) == 0 {
		return nil
	}
	return r.unpublishAll(tracks)
}

func (r *Room) unpublishAll(tracks []publishedTrack) error {
	var firstErr error
	for _, p := range tracks {
		p.track.detach(p.pub)
		if err := r.lk.LocalParticipant.UnpublishTrack(p.pub.SID()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unpublish %s: %w", p.pub.SID(), err)
		}
	}
	return firstErr
}

// Subscribe, stream'in tüm publication'larına abone olur.
func (r *Room) Subscribe(ctx context.Context, streamID string) (call.RemoteStream, error) {
	participant, ok := r.streams.participant(streamID)
	if !ok {
		return nil, fmt.Errorf("subscribe %s: stream not found", streamID)
	}

	r.mu.Lock()
	stream, exists := r.subscribed[streamID]
	if !exists {
		stream = &RemoteStream{id: streamID, participant: participant}
		r.subscribed[streamID] = stream
	}
	pubs := r.remotePublications(streamID)
	r.mu.Unlock()

	for _, pub := range pubs {
		if err := ctx.Err(); err != nil {
			_ = r.Unsubscribe(streamID)
			return nil, err
		}
		if err := pub.SetSubscribed(true); err != nil {
			_ = r.Unsubscribe(streamID)
			return nil, fmt.Errorf("subscribe %s: %w", pub.SID(), err)
		}
	}
	return stream, nil
}

func (r *Room) Unsubscribe(streamID string) error {
	r.mu.Lock()
	delete(r.subscribed, streamID)
	pubs := r.remotePublications(streamID)
	r.mu.Unlock()

	var firstErr error
	for _, pub := range pubs {
		if err := pub.SetSubscribed(false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribe %s: %w", pub.SID(), err)
		}
	}
	return firstErr
}

// remotePublications, r.mu altında çağrılır.
func (r *Room) remotePublications(streamID string) []*lksdk.RemoteTrackPublication {
	var out []*lksdk.RemoteTrackPublication
	for _, sid := range r.streams.publications(streamID) {
		if pub, ok := r.remotePubs[sid]; ok {
			out = append(out, pub)
		}
	}
	return out
}

// Leave, odadan ayrılır ve Events kanalını kapatır. Birden fazla çağrılabilir.
func (r *Room) Leave() error {
	if r.leaving.IsBroken() {
		return nil
	}
	r.leaving.Break()

	r.mu.Lock()
	for _, tracks := range r.published {
		for _, p := range tracks {
			p.track.detach(p.pub)
		}
	}
	r.published = make(map[string][]publishedTrack)
	r.subscribed = make(map[string]*RemoteStream)
	r.mu.Unlock()

	r.lk.Disconnect()
	r.events.close()
	r.log.Info("left media room")
	return nil
}
