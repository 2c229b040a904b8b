package media

import (
	"context"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/call"
)

// CaptureFunc, yerel medya yakalayıcı.
type CaptureFunc func(ctx context.Context, c call.MediaConstraints) (*LocalMedia, error)

// EngineConfig, LiveKit engine ayarları.
type EngineConfig struct {
	// URL, LiveKit sunucusu (ör: ws://localhost:7880).
	URL string
	// Capture, boşsa platformun varsayılan yakalayıcısı kullanılır.
	Capture CaptureFunc
	Logger  *logrus.Entry
}

// Engine, call.MediaEngine implementasyonu.
type Engine struct {
	url     string
	capture CaptureFunc
	log     *logrus.Entry
}

// NewEngine, LiveKit engine oluşturur.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("media: livekit url is required")
	}
	if cfg.Capture == nil {
		cfg.Capture = DefaultCapture
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		url:     cfg.URL,
		capture: cfg.Capture,
		log:     cfg.Logger.WithField("component", "media"),
	}, nil
}

// CreateLocalMedia, mikrofon (ve istenirse kamera) yakalar.
func (e *Engine) CreateLocalMedia(ctx context.Context, c call.MediaConstraints) (call.LocalMedia, error) {
	m, err := e.capture(ctx, c)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"audio": c.Audio, "video": c.Video, "tracks": len(m.tracks)}).Debug("local media captured")
	return m, nil
}

// JoinRoom, credential ile odaya katılır. Otomatik abonelik kapalıdır;
// stream'lere Room.Subscribe ile abone olunur.
func (e *Engine) JoinRoom(ctx context.Context, roomID, credential string, identity call.Identity) (call.Room, error) {
	log := e.log.WithFields(logrus.Fields{"room": roomID, "identity": identity.ID})
	r := newRoom(roomID, log)
	lk := lksdk.NewRoom(r.callback())

	done := make(chan error, 1)
	go func() {
		done <- lk.JoinWithToken(e.url, credential, lksdk.WithAutoSubscribe(false))
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("join room %s: %w", roomID, err)
		}
	case <-ctx.Done():
		// Join sonradan başarılı olursa bağlantı bırakılır.
		go func() {
			if err := <-done; err == nil {
				lk.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	r.lk = lk
	r.syncExisting()
	log.Info("joined media room")
	return r, nil
}
