// Package media, call.MediaEngine'in LiveKit üzerindeki implementasyonu.
//
// Yerel yakalama platforma göre değişir: linux+cgo'da pion/mediadevices
// (kamera + mikrofon), diğer build'lerde sentetik pion/webrtc sample track'leri.
// Odaya bağlantı, yayın ve abonelik lksdk ile yapılır.
//
// Bir "stream" aynı katılımcının aynı streamID ile yayınladığı track grubudur;
// LiveKit'te her track ayrı publication olduğu için track adı
// "<streamID>/<kind>" şeklinde kodlanır.
package media

import (
	"strings"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/akinalp/mqvicall/call"
)

// trackName, publication adı: streamID + "/" + kind.
func trackName(streamID string, kind call.TrackKind) string {
	return streamID + "/" + string(kind)
}

// streamOf, publication adından streamID'yi çıkarır. Ayraç yoksa ad olduğu gibi
// stream kabul edilir (tarayıcı client'ları tek track yayınlayabilir).
func streamOf(name string) string {
	if i := strings.LastIndex(name, "/"); i > 0 {
		return name[:i]
	}
	return name
}

// LocalTrack, yakalanmış tek bir track. Yayınlandığı publication'ların mute
// durumu SetEnabled ile senkron tutulur.
type LocalTrack struct {
	kind call.TrackKind
	rtc  webrtc.TrackLocal

	mu       sync.Mutex
	enabled  bool
	pubs     map[*lksdk.LocalTrackPublication]struct{}
	onEnable func(enabled bool)
}

func newLocalTrack(kind call.TrackKind, rtc webrtc.TrackLocal, onEnable func(bool)) *LocalTrack {
	return &LocalTrack{
		kind:     kind,
		rtc:      rtc,
		enabled:  true,
		pubs:     make(map[*lksdk.LocalTrackPublication]struct{}),
		onEnable: onEnable,
	}
}

func (t *LocalTrack) Kind() call.TrackKind { return t.kind }

// RTC, lksdk'ya verilecek pion track'i.
func (t *LocalTrack) RTC() webrtc.TrackLocal { return t.rtc }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled, track'i susturur/açar. Yayındaysa publication da mute edilir.
func (t *LocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	pubs := make([]*lksdk.LocalTrackPublication, 0, len(t.pubs))
	for p := range t.pubs {
		pubs = append(pubs, p)
	}
	hook := t.onEnable
	t.mu.Unlock()

	for _, p := range pubs {
		p.SetMuted(!enabled)
	}
	if hook != nil {
		hook(enabled)
	}
}

// attach, yayınlanan publication'ı kaydeder ve mevcut mute durumunu uygular.
func (t *LocalTrack) attach(pub *lksdk.LocalTrackPublication) {
	t.mu.Lock()
	t.pubs[pub] = struct{}{}
	muted := !t.enabled
	t.mu.Unlock()

	if muted {
		pub.SetMuted(true)
	}
}

func (t *LocalTrack) detach(pub *lksdk.LocalTrackPublication) {
	t.mu.Lock()
	delete(t.pubs, pub)
	t.mu.Unlock()
}

// LocalMedia, bir yakalama oturumunun track'leri. Stop idempotent.
type LocalMedia struct {
	tracks []*LocalTrack
	once   sync.Once
	stop   func()
}

func newLocalMedia(tracks []*LocalTrack, stop func()) *LocalMedia {
	return &LocalMedia{tracks: tracks, stop: stop}
}

func (m *LocalMedia) Tracks() []call.LocalTrack {
	out := make([]call.LocalTrack, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

// Stop, donanımı/sentetik üreticileri serbest bırakır.
func (m *LocalMedia) Stop() {
	m.once.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// RemoteStream, abone olunan karşı taraf stream'i. Track'ler LiveKit abonelik
// tamamlandıkça eklenir; sink'ler Tracks ile okur.
type RemoteStream struct {
	id          string
	participant string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) ID() string            { return s.id }
func (s *RemoteStream) ParticipantID() string { return s.participant }

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

func (s *RemoteStream) addTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}
