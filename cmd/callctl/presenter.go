package main

import (
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/call"
)

var (
	_ call.Indicator    = presenter{}
	_ call.MediaSink    = presenter{}
	_ call.UserNotifier = presenter{}
)

// presenter, Indicator/MediaSink/UserNotifier'ı loga yazan terminal sunumu.
// Remote stream'ler bağlanmaz; sadece bağlandıkları loglanır.
type presenter struct {
	log *logrus.Entry
}

func (p presenter) Start(kind call.IndicatorKind) {
	p.log.WithField("indicator", kind).Info("ringing")
}

func (p presenter) Stop(kind call.IndicatorKind) {
	p.log.WithField("indicator", kind).Debug("ringing stopped")
}

func (p presenter) BindAudio(s call.RemoteStream) {
	p.log.WithFields(logrus.Fields{"stream": s.ID(), "participant": s.ParticipantID()}).Info("remote audio")
}

func (p presenter) BindVideo(s call.RemoteStream) {
	p.log.WithFields(logrus.Fields{"stream": s.ID(), "participant": s.ParticipantID()}).Info("remote video")
}

func (p presenter) Unbind(streamID string) {
	p.log.WithField("stream", streamID).Info("remote stream removed")
}

func (p presenter) Notify(n call.Notice) {
	entry := p.log.WithFields(logrus.Fields{"notice": n.Kind, "remote": n.RemoteID})
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	entry.Warn(noticeText(n.Kind))
}

func noticeText(k call.NoticeKind) string {
	switch k {
	case call.NoticePermissionDenied:
		return "microphone or camera permission denied"
	case call.NoticeCredentialFailed:
		return "could not get room credentials"
	case call.NoticeNoAnswer:
		return "no answer"
	case call.NoticeDeclined:
		return "call declined"
	case call.NoticeBusy:
		return "user is busy"
	case call.NoticeOffline:
		return "user is offline"
	case call.NoticePartnerDisconnected:
		return "the other side disconnected"
	case call.NoticeConnectionLost:
		return "connection to relay lost"
	case call.NoticeMissedCall:
		return "missed call"
	default:
		return "call failed"
	}
}
