package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
	"github.com/akinalp/mqvicall/ws"
)

func TestStartCall_SendsInviteAfterPublishing(t *testing.T) {
	h := newHarness(t, "alice")

	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindVideo))

	st := h.m.State()
	require.Equal(t, models.CallPhaseOutgoingRinging, st.Phase)
	require.NotNil(t, st.Session)
	assert.Equal(t, "alice_bob", st.Session.RoomID)
	assert.Equal(t, "bob", st.Session.RemoteParticipantID)
	assert.True(t, st.Session.Outgoing)
	assert.True(t, st.MicEnabled)
	assert.True(t, st.CameraEnabled)

	room := h.engine.lastRoom()
	require.NotNil(t, room)
	assert.Equal(t, "alice_bob", room.ID())
	published, _, _, _ := room.snapshot()
	assert.Equal(t, []string{"alice_bob_alice_video"}, published)

	invites := h.sig.ops(ws.OpCallUser)
	require.Len(t, invites, 1)
	assert.Equal(t, ws.CallUserData{
		UserToCall: "bob",
		RoomID:     "alice_bob",
		From:       "alice",
		Name:       "Local alice",
		CallType:   models.CallKindVideo,
	}, invites[0])
	assert.True(t, h.indicator.playing(IndicatorOutgoing))
}

func TestStartCall_AudioCapturesNoVideo(t *testing.T) {
	h := newHarness(t, "alice")

	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))

	media := h.engine.lastMedia()
	require.NotNil(t, media)
	require.Len(t, media.Tracks(), 1)
	assert.Equal(t, TrackKindAudio, media.Tracks()[0].Kind())
	assert.False(t, h.m.State().CameraEnabled)
}

func TestStartCall_Preconditions(t *testing.T) {
	h := newHarness(t, "alice")

	err := h.m.StartCall(context.Background(), "alice", models.CallKindAudio)
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	err = h.m.StartCall(context.Background(), "bob", models.CallKind("screen"))
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))
	err = h.m.StartCall(context.Background(), "carol", models.CallKindAudio)
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, 1, h.engine.roomCount())
}

func TestStartCall_RejectedWhileInvitePending(t *testing.T) {
	h := newHarness(t, "alice")
	h.invite(t, "bob", models.CallKindAudio)

	err := h.m.StartCall(context.Background(), "carol", models.CallKindAudio)
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, models.CallPhaseIncomingRinging, h.m.Phase())
}

func TestStartCall_SetupFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness)
		wantErr    error
		wantNotice NoticeKind
		wantJoin   bool
	}{
		{
			name:       "permission denied",
			setup:      func(h *harness) { h.engine.mediaErr = errors.New("no camera") },
			wantErr:    ErrPermissionDenied,
			wantNotice: NoticePermissionDenied,
		},
		{
			name:       "credential failure",
			setup:      func(h *harness) { h.tokens.err = errors.New("503") },
			wantErr:    ErrCredential,
			wantNotice: NoticeCredentialFailed,
		},
		{
			name:       "join failure",
			setup:      func(h *harness) { h.engine.joinErr = errors.New("sfu down") },
			wantErr:    ErrRoomSetup,
			wantNotice: NoticeCallFailed,
		},
		{
			name:       "publish failure",
			setup:      func(h *harness) { h.engine.publishErr = errors.New("ice failed") },
			wantErr:    ErrRoomSetup,
			wantNotice: NoticeCallFailed,
			wantJoin:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, "alice")
			tc.setup(h)

			err := h.m.StartCall(context.Background(), "bob", models.CallKindVideo)
			require.ErrorIs(t, err, tc.wantErr)
			assert.False(t, IsAborted(err))

			assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
			assert.Nil(t, h.m.State().Session)
			assert.Equal(t, []NoticeKind{tc.wantNotice}, h.notifier.kinds())
			assert.Empty(t, h.sig.events(), "nothing may be sent before the invite")
			assert.False(t, h.indicator.playing(IndicatorOutgoing))

			if media := h.engine.lastMedia(); media != nil {
				assert.True(t, media.stopped())
			}
			if tc.wantJoin {
				room := h.engine.lastRoom()
				require.NotNil(t, room)
				assert.True(t, room.hasLeft())
			} else {
				assert.Zero(t, h.engine.roomCount())
			}
		})
	}
}

func TestStartCall_SignalingFailureTearsDown(t *testing.T) {
	h := newHarness(t, "alice")
	h.sig.emitErr = errors.New("socket closed")

	err := h.m.StartCall(context.Background(), "bob", models.CallKindAudio)
	require.ErrorIs(t, err, ErrSignaling)

	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
	assert.True(t, h.engine.lastMedia().stopped())
	assert.True(t, h.engine.lastRoom().hasLeft())
	assert.False(t, h.indicator.playing(IndicatorOutgoing))
	assert.Equal(t, []NoticeKind{NoticeCallFailed}, h.notifier.kinds())
}

func TestStartCall_EndCallDuringSetupReleasesMedia(t *testing.T) {
	h := newHarness(t, "alice")
	h.tokens.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.StartCall(context.Background(), "bob", models.CallKindVideo) }()

	require.Eventually(t, func() bool {
		h.tokens.mu.Lock()
		defer h.tokens.mu.Unlock()
		return h.tokens.calls == 1
	}, waitFor, tick)

	h.m.EndCall(false, false)

	var err error
	select {
	case err = <-errCh:
	case <-time.After(waitFor):
		t.Fatal("StartCall did not return after EndCall")
	}
	assert.True(t, IsAborted(err), "got %v", err)

	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
	assert.True(t, h.engine.lastMedia().stopped())
	assert.Zero(t, h.engine.roomCount())
	assert.Empty(t, h.sig.events(), "peer never heard of the call")
	assert.Empty(t, h.notifier.kinds())

	h.tokens.mu.Lock()
	assert.Error(t, h.tokens.lastCtx.Err(), "setup context must be canceled")
	h.tokens.mu.Unlock()

	// Yeni arama hemen başlatılabilir.
	h.tokens.mu.Lock()
	h.tokens.block = nil
	h.tokens.mu.Unlock()
	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))
}

func TestStartCall_CallerContextCanceled(t *testing.T) {
	h := newHarness(t, "alice")
	h.tokens.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.m.StartCall(ctx, "bob", models.CallKindAudio) }()

	require.Eventually(t, func() bool {
		h.tokens.mu.Lock()
		defer h.tokens.mu.Unlock()
		return h.tokens.calls == 1
	}, waitFor, tick)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, IsAborted(err), "got %v", err)
	case <-time.After(waitFor):
		t.Fatal("StartCall did not return after cancel")
	}
	h.waitPhase(t, models.CallPhaseIdle)
	assert.True(t, h.engine.lastMedia().stopped())
	assert.Empty(t, h.notifier.kinds())
}

func TestAnswerCall_ActivatesOutgoingSession(t *testing.T) {
	h := newHarness(t, "alice")
	h.startActiveCall(t, "bob", models.CallKindAudio)

	st := h.m.State()
	require.NotNil(t, st.Session)
	assert.False(t, st.Session.ConnectedAt.IsZero())
	assert.False(t, h.indicator.playing(IndicatorOutgoing))
}

func TestAnswerCall_ForOtherRoomIgnored(t *testing.T) {
	h := newHarness(t, "alice")
	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))

	h.sig.deliver(t, ws.OpAnswerCall, ws.AnswerCallData{RoomID: "alice_carol"})

	assert.Never(t, func() bool { return h.m.Phase() != models.CallPhaseOutgoingRinging },
		100*time.Millisecond, tick)
}

func TestEndCall_IsIdempotent(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindVideo)

	h.m.EndCall(false, false)
	h.m.EndCall(false, false)
	h.m.EndCall(true, false)

	ends := h.sig.ops(ws.OpEndCall)
	require.Len(t, ends, 1)
	assert.Equal(t, ws.EndCallData{To: "bob", RoomID: "alice_bob"}, ends[0])

	_, unpublished, _, _ := room.snapshot()
	assert.Equal(t, []string{"alice_bob_alice_video"}, unpublished)
	assert.True(t, room.hasLeft())
	assert.True(t, h.engine.lastMedia().stopped())
	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
	assert.Nil(t, h.m.State().Session)
}

func TestEndCall_WithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t, "alice")

	h.m.EndCall(false, false)

	assert.Empty(t, h.sig.events())
	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
}

func TestEndCall_RemotelyTriggeredSendsNothing(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	h.m.EndCall(true, false)

	assert.Empty(t, h.sig.ops(ws.OpEndCall))
	assert.True(t, room.hasLeft())
	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
}

func TestEndCall_RejectionSendsDeclined(t *testing.T) {
	h := newHarness(t, "alice")
	h.startActiveCall(t, "bob", models.CallKindAudio)

	h.m.EndCall(false, true)

	rejects := h.sig.ops(ws.OpCallRejected)
	require.Len(t, rejects, 1)
	assert.Equal(t, ws.CallRejectedData{To: "bob", RoomID: "alice_bob", Reason: models.RejectReasonDeclined}, rejects[0])
	assert.Empty(t, h.sig.ops(ws.OpEndCall))
}

func TestEndCall_WhileRingingCancelsInvite(t *testing.T) {
	h := newHarness(t, "alice")
	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))

	h.m.EndCall(false, false)

	require.Len(t, h.sig.ops(ws.OpEndCall), 1)
	assert.False(t, h.indicator.playing(IndicatorOutgoing))
	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
}

func TestRemoteRejection(t *testing.T) {
	tests := []struct {
		reason models.RejectReason
		notice NoticeKind
		end    models.EndReason
	}{
		{models.RejectReasonDeclined, NoticeDeclined, models.EndReasonRejected},
		{models.RejectReasonBusy, NoticeBusy, models.EndReasonBusy},
		{models.RejectReasonTimeout, NoticeNoAnswer, models.EndReasonTimeout},
		{models.RejectReasonOffline, NoticeOffline, models.EndReasonRejected},
		{models.RejectReasonFailed, NoticeCallFailed, models.EndReasonRejected},
	}

	for _, tc := range tests {
		t.Run(string(tc.reason), func(t *testing.T) {
			h := newHarness(t, "alice")

			var ended models.EndReason
			h.m.OnStateChange(func(st State) {
				if st.Phase == models.CallPhaseEnded && st.Session != nil {
					ended = st.Session.EndReason
				}
			})

			require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))
			h.sig.deliver(t, ws.OpCallRejected, ws.CallRejectedData{RoomID: "alice_bob", Reason: tc.reason})
			h.waitPhase(t, models.CallPhaseIdle)
			require.NoError(t, h.m.exec(func() error { return nil }))

			assert.Equal(t, tc.end, ended)
			assert.Equal(t, []NoticeKind{tc.notice}, h.notifier.kinds())
			assert.Empty(t, h.sig.ops(ws.OpEndCall), "rejection needs no reply")
			assert.True(t, h.engine.lastRoom().hasLeft())
			assert.False(t, h.indicator.playing(IndicatorOutgoing))
		})
	}
}

func TestRemoteEndCall(t *testing.T) {
	t.Run("hangup", func(t *testing.T) {
		h := newHarness(t, "alice")
		room := h.startActiveCall(t, "bob", models.CallKindAudio)

		h.sig.deliver(t, ws.OpEndCall, ws.EndCallData{RoomID: "alice_bob"})
		h.waitPhase(t, models.CallPhaseIdle)

		assert.True(t, room.hasLeft())
		assert.Empty(t, h.sig.ops(ws.OpEndCall))
		assert.Empty(t, h.notifier.kinds())
	})

	t.Run("partner disconnected", func(t *testing.T) {
		h := newHarness(t, "alice")
		h.startActiveCall(t, "bob", models.CallKindAudio)

		h.sig.deliver(t, ws.OpEndCall, ws.EndCallData{RoomID: "alice_bob", Reason: ws.EndReasonDisconnect})
		h.waitPhase(t, models.CallPhaseIdle)
		require.NoError(t, h.m.exec(func() error { return nil }))

		assert.Equal(t, []NoticeKind{NoticePartnerDisconnected}, h.notifier.kinds())
	})

	t.Run("server timeout while ringing", func(t *testing.T) {
		h := newHarness(t, "alice")
		require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))

		h.sig.deliver(t, ws.OpCallTimeout, ws.CallWithdrawnData{RoomID: "alice_bob"})
		h.waitPhase(t, models.CallPhaseIdle)
		require.NoError(t, h.m.exec(func() error { return nil }))

		assert.Equal(t, []NoticeKind{NoticeNoAnswer}, h.notifier.kinds())
	})
}

func TestOutgoingTimeout(t *testing.T) {
	h := newHarness(t, "alice", func(c *Config) { c.OutgoingTimeout = 30 * time.Millisecond })

	require.NoError(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio))
	h.waitPhase(t, models.CallPhaseIdle)
	require.NoError(t, h.m.exec(func() error { return nil }))

	require.Len(t, h.sig.ops(ws.OpEndCall), 1)
	assert.Equal(t, []NoticeKind{NoticeNoAnswer}, h.notifier.kinds())
	assert.False(t, h.indicator.playing(IndicatorOutgoing))
}

func TestOutgoingTimeout_StoppedByAnswer(t *testing.T) {
	h := newHarness(t, "alice", func(c *Config) { c.OutgoingTimeout = 50 * time.Millisecond })
	h.startActiveCall(t, "bob", models.CallKindAudio)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.CallPhaseActive, h.m.Phase())
	assert.Empty(t, h.sig.ops(ws.OpEndCall))
}

func TestTransportLoss(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	h.sig.deliver(t, ws.OpDisconnect, nil)
	h.waitPhase(t, models.CallPhaseIdle)
	require.NoError(t, h.m.exec(func() error { return nil }))

	assert.True(t, room.hasLeft())
	assert.True(t, h.engine.lastMedia().stopped())
	assert.Empty(t, h.sig.ops(ws.OpEndCall))
	assert.Equal(t, []NoticeKind{NoticeConnectionLost}, h.notifier.kinds())
}

func TestRoomStreams(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindVideo)

	room.events <- RoomEvent{Type: RoomStreamAdded, StreamID: "alice_bob_alice_video"}
	room.events <- RoomEvent{Type: RoomStreamAdded, StreamID: "alice_bob_bob_video", ParticipantID: "bob"}
	room.events <- RoomEvent{Type: RoomStreamAdded, StreamID: "alice_bob_bob_video", ParticipantID: "bob"}

	require.Eventually(t, func() bool {
		audio, video := h.sink.bound("alice_bob_bob_video")
		return audio && video
	}, waitFor, tick)

	_, _, subscribed, _ := room.snapshot()
	assert.Equal(t, []string{"alice_bob_bob_video"}, subscribed, "own stream and duplicates are skipped")

	room.events <- RoomEvent{Type: RoomStreamRemoved, StreamID: "alice_bob_bob_video"}
	h.waitPhase(t, models.CallPhaseIdle)
	require.NoError(t, h.m.exec(func() error { return nil }))

	audio, video := h.sink.bound("alice_bob_bob_video")
	assert.False(t, audio)
	assert.False(t, video)
	assert.Equal(t, []NoticeKind{NoticePartnerDisconnected}, h.notifier.kinds())
	assert.Empty(t, h.sig.ops(ws.OpEndCall))
}

func TestRoomStreams_AudioOnlyBindsAudio(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	room.events <- RoomEvent{Type: RoomStreamAdded, StreamID: "alice_bob_bob_audio"}
	require.Eventually(t, func() bool {
		audio, _ := h.sink.bound("alice_bob_bob_audio")
		return audio
	}, waitFor, tick)

	_, video := h.sink.bound("alice_bob_bob_audio")
	assert.False(t, video)

	h.m.EndCall(false, false)
	_, _, _, unsubscribed := room.snapshot()
	assert.Equal(t, []string{"alice_bob_bob_audio"}, unsubscribed)
	audio, _ := h.sink.bound("alice_bob_bob_audio")
	assert.False(t, audio)
}

func TestRoomDisconnected(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	room.events <- RoomEvent{Type: RoomDisconnected}
	h.waitPhase(t, models.CallPhaseIdle)
	require.NoError(t, h.m.exec(func() error { return nil }))

	require.Len(t, h.sig.ops(ws.OpEndCall), 1)
	assert.Equal(t, []NoticeKind{NoticeConnectionLost}, h.notifier.kinds())
}

func TestRoomEventsClosedEndsCall(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	room.vanish()
	h.waitPhase(t, models.CallPhaseIdle)
	require.NoError(t, h.m.exec(func() error { return nil }))

	require.Len(t, h.sig.ops(ws.OpEndCall), 1)
	assert.Equal(t, []NoticeKind{NoticeConnectionLost}, h.notifier.kinds())
	assert.True(t, room.hasLeft())
}

func TestLeaveDoesNotReportConnectionLoss(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	h.m.EndCall(false, false)
	require.True(t, room.hasLeft())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.m.exec(func() error { return nil }))
	assert.Empty(t, h.notifier.kinds())
	assert.Equal(t, models.CallPhaseIdle, h.m.Phase())
}

func TestToggles(t *testing.T) {
	h := newHarness(t, "alice")

	_, ok := h.m.ToggleMic()
	assert.False(t, ok, "no media without a session")

	h.startActiveCall(t, "bob", models.CallKindVideo)

	enabled, ok := h.m.ToggleMic()
	require.True(t, ok)
	assert.False(t, enabled)
	assert.False(t, h.m.State().MicEnabled)

	enabled, ok = h.m.ToggleMic()
	require.True(t, ok)
	assert.True(t, enabled)

	enabled, ok = h.m.ToggleCamera()
	require.True(t, ok)
	assert.False(t, enabled)
	assert.False(t, h.m.State().CameraEnabled)
	assert.True(t, h.m.State().MicEnabled)
}

func TestToggleCamera_AudioCallIsNoop(t *testing.T) {
	h := newHarness(t, "alice")
	h.startActiveCall(t, "bob", models.CallKindAudio)

	_, ok := h.m.ToggleCamera()
	assert.False(t, ok)
}

func TestClose_EndsSession(t *testing.T) {
	h := newHarness(t, "alice")
	room := h.startActiveCall(t, "bob", models.CallKindAudio)

	h.m.Close()

	assert.True(t, room.hasLeft())
	assert.Len(t, h.sig.ops(ws.OpEndCall), 1)
	assert.ErrorIs(t, h.m.StartCall(context.Background(), "bob", models.CallKindAudio), ErrClosed)
}
