package media

import (
	"context"
	"fmt"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/akinalp/mqvicall/call"
)

const frameDuration = 20 * time.Millisecond

// opusSilence, tek bir 20ms'lik opus sessizlik frame'i.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticCapture, donanım olmadan yayınlanabilir track'ler üretir:
// opus sessizlik üreten bir audio track ve (istenirse) boş bir VP8 track.
// Headless client ve cihazı olmayan ortamlar için.
func SyntheticCapture(ctx context.Context, c call.MediaConstraints) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "mqvicall",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	gen := newSilenceGenerator(audio)
	tracks := []*LocalTrack{newLocalTrack(call.TrackKindAudio, audio, gen.setEnabled)}

	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "mqvicall",
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, newLocalTrack(call.TrackKindVideo, video, nil))
	}

	go gen.run()
	return newLocalMedia(tracks, gen.stop), nil
}

// silenceGenerator, track açıkken her frame süresinde sessizlik yazar.
type silenceGenerator struct {
	track   *webrtc.TrackLocalStaticSample
	enabled chan bool
	closed  core.Fuse
	done    chan struct{}
}

func newSilenceGenerator(track *webrtc.TrackLocalStaticSample) *silenceGenerator {
	return &silenceGenerator{
		track:   track,
		enabled: make(chan bool, 1),
		done:    make(chan struct{}),
	}
}

func (g *silenceGenerator) run() {
	defer close(g.done)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	on := true
	for {
		select {
		case <-ticker.C:
			if on {
				_ = g.track.WriteSample(pmedia.Sample{Data: opusSilence, Duration: frameDuration})
			}
		case on = <-g.enabled:
		case <-g.closed.Watch():
			return
		}
	}
}

func (g *silenceGenerator) setEnabled(enabled bool) {
	select {
	case <-g.enabled:
	default:
	}
	select {
	case g.enabled <- enabled:
	case <-g.closed.Watch():
	}
}

func (g *silenceGenerator) stop() {
	g.closed.Break()
	<-g.done
}
