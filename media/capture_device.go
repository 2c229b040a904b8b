//go:build linux && cgo

package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/akinalp/mqvicall/call"
)

// DefaultCapture, linux+cgo build'lerinde gerçek cihazları kullanır.
var DefaultCapture CaptureFunc = DeviceCapture

// DeviceCapture, mikrofonu (ve istenirse kamerayı) pion/mediadevices ile açar.
// GetUserMedia bir bütün olarak başarısız olur; kısmi yakalama yapılmaz.
func DeviceCapture(ctx context.Context, c call.MediaConstraints) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	selectors := []mediadevices.CodecSelectorOption{mediadevices.WithAudioEncoders(&opusParams)}

	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}

	if c.Video {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			return nil, fmt.Errorf("vp8 params: %w", err)
		}
		vpxParams.BitRate = 1_000_000
		selectors = append(selectors, mediadevices.WithVideoEncoders(&vpxParams))

		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG hariç: bozuk frame'ler VP8 encoder'ı kilitleyebiliyor.
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	constraints.Codec = mediadevices.NewCodecSelector(selectors...)

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("capture devices: %w", err)
	}

	devTracks := stream.GetTracks()
	tracks := make([]*LocalTrack, 0, len(devTracks))
	for _, t := range devTracks {
		kind := call.TrackKindAudio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			kind = call.TrackKindVideo
		}
		tracks = append(tracks, newLocalTrack(kind, t, nil))
	}

	return newLocalMedia(tracks, func() {
		for _, t := range devTracks {
			_ = t.Close()
		}
	}), nil
}
