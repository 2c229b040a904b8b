package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomID(t *testing.T) {
	assert.Equal(t, "alice_bob", RoomID("alice", "bob"))
	assert.Equal(t, "alice_bob", RoomID("bob", "alice"))
	assert.Equal(t, RoomID("u-17", "u-3"), RoomID("u-3", "u-17"))
}

func TestRoomHasParticipant(t *testing.T) {
	room := RoomID("alice", "bob")
	assert.True(t, RoomHasParticipant(room, "alice"))
	assert.True(t, RoomHasParticipant(room, "bob"))
	assert.False(t, RoomHasParticipant(room, "carol"))
	assert.False(t, RoomHasParticipant(room, "ali"))
	assert.False(t, RoomHasParticipant(room, ""))
	assert.False(t, RoomHasParticipant("alice", "alice"))
}

func TestStreamID(t *testing.T) {
	id := StreamID("alice", "alice_bob", CallKindVideo)
	assert.Equal(t, "alice_bob_alice_video", id)
	assert.True(t, IsVideoStream(id))
	assert.False(t, IsVideoStream(StreamID("alice", "alice_bob", CallKindAudio)))
}

func TestRejectReasonEndReason(t *testing.T) {
	assert.Equal(t, EndReasonBusy, RejectReasonBusy.EndReason())
	assert.Equal(t, EndReasonTimeout, RejectReasonTimeout.EndReason())
	assert.Equal(t, EndReasonRejected, RejectReasonDeclined.EndReason())
	assert.Equal(t, EndReasonRejected, RejectReasonOffline.EndReason())
}

func TestCallLogDuration(t *testing.T) {
	l := CallLog{Outcome: CallOutcomeMissed}
	assert.Zero(t, l.Duration())
	assert.True(t, l.Outcome.IsMissed())
	assert.False(t, CallOutcomeCompleted.IsMissed())
}
