package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// ─── Signaler ───

type emitted struct {
	op   string
	data any
}

type fakeSignaler struct {
	mu      sync.Mutex
	sent    []emitted
	emitErr error
	in      chan ws.InboundEvent
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan ws.InboundEvent, 16)}
}

func (f *fakeSignaler) Emit(op string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.sent = append(f.sent, emitted{op: op, data: data})
	return nil
}

func (f *fakeSignaler) Subscribe() (<-chan ws.InboundEvent, func()) {
	return f.in, func() {}
}

func (f *fakeSignaler) deliver(t *testing.T, op string, data any) {
	t.Helper()
	ev := ws.InboundEvent{Op: op}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		ev.Data = raw
	}
	f.in <- ev
}

func (f *fakeSignaler) events() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.sent...)
}

func (f *fakeSignaler) ops(op string) []any {
	var out []any
	for _, e := range f.events() {
		if e.op == op {
			out = append(out, e.data)
		}
	}
	return out
}

// ─── Token provider ───

type fakeTokens struct {
	err     error
	block   chan struct{}
	mu      sync.Mutex
	calls   int
	lastCtx context.Context
}

func (f *fakeTokens) RoomToken(ctx context.Context, roomID, userID string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "token-" + roomID + "-" + userID, nil
}

// ─── Media engine ───

type fakeTrack struct {
	mu      sync.Mutex
	kind    TrackKind
	enabled bool
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

type fakeMedia struct {
	tracks []LocalTrack
	mu     sync.Mutex
	stops  int
}

func (m *fakeMedia) Tracks() []LocalTrack { return m.tracks }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *fakeMedia) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops > 0
}

type fakeStream struct {
	id, participant string
}

func (s fakeStream) ID() string            { return s.id }
func (s fakeStream) ParticipantID() string { return s.participant }

type fakeRoom struct {
	id     string
	events chan RoomEvent

	mu           sync.Mutex
	published    []string
	unpublished  []string
	subscribed   []string
	unsubscribed []string
	left         bool
	eventsClosed bool
	publishErr   error
}

func newFakeRoom(id string) *fakeRoom {
	return &fakeRoom{id: id, events: make(chan RoomEvent, 16)}
}

func (r *fakeRoom) ID() string { return r.id }

func (r *fakeRoom) Publish(_ context.Context, streamID string, _ LocalMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.published = append(r.published, streamID)
	return nil
}

func (r *fakeRoom) Unpublish(streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpublished = append(r.unpublished, streamID)
	return nil
}

func (r *fakeRoom) Subscribe(_ context.Context, streamID string) (RemoteStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, streamID)
	return fakeStream{id: streamID, participant: "remote"}, nil
}

func (r *fakeRoom) Unsubscribe(streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed = append(r.unsubscribed, streamID)
	return nil
}

func (r *fakeRoom) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = true
	r.closeEvents()
	return nil
}

// push, kanal açıksa ve yer varsa olayı bırakır.
func (r *fakeRoom) push(ev RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventsClosed {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

// vanish, bağlantı olay bırakmadan koptuğunda kanalın kapanmasını taklit eder.
func (r *fakeRoom) vanish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeEvents()
}

func (r *fakeRoom) closeEvents() {
	if !r.eventsClosed {
		r.eventsClosed = true
		close(r.events)
	}
}

func (r *fakeRoom) Events() <-chan RoomEvent { return r.events }

func (r *fakeRoom) hasLeft() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left
}

func (r *fakeRoom) snapshot() (published, unpublished, subscribed, unsubscribed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.published...),
		append([]string(nil), r.unpublished...),
		append([]string(nil), r.subscribed...),
		append([]string(nil), r.unsubscribed...)
}

type fakeEngine struct {
	mu         sync.Mutex
	mediaErr   error
	joinErr    error
	publishErr error
	medias     []*fakeMedia
	rooms      []*fakeRoom
	joins      []string
}

func (e *fakeEngine) CreateLocalMedia(_ context.Context, c MediaConstraints) (LocalMedia, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaErr != nil {
		return nil, e.mediaErr
	}
	m := &fakeMedia{}
	if c.Audio {
		m.tracks = append(m.tracks, &fakeTrack{kind: TrackKindAudio, enabled: true})
	}
	if c.Video {
		m.tracks = append(m.tracks, &fakeTrack{kind: TrackKindVideo, enabled: true})
	}
	e.medias = append(e.medias, m)
	return m, nil
}

func (e *fakeEngine) JoinRoom(_ context.Context, roomID, credential string, _ Identity) (Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinErr != nil {
		return nil, e.joinErr
	}
	if credential == "" {
		return nil, errors.New("empty credential")
	}
	r := newFakeRoom(roomID)
	r.publishErr = e.publishErr
	e.rooms = append(e.rooms, r)
	e.joins = append(e.joins, roomID)
	return r, nil
}

func (e *fakeEngine) lastMedia() *fakeMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.medias) == 0 {
		return nil
	}
	return e.medias[len(e.medias)-1]
}

func (e *fakeEngine) lastRoom() *fakeRoom {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rooms) == 0 {
		return nil
	}
	return e.rooms[len(e.rooms)-1]
}

// released, edinilen her oda terk edildi ve her medya durduruldu mu?
func (e *fakeEngine) released() bool {
	e.mu.Lock()
	rooms := append([]*fakeRoom(nil), e.rooms...)
	medias := append([]*fakeMedia(nil), e.medias...)
	e.mu.Unlock()

	for _, r := range rooms {
		if !r.hasLeft() {
			return false
		}
	}
	for _, m := range medias {
		if !m.stopped() {
			return false
		}
	}
	return true
}

func (e *fakeEngine) roomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

// ─── Sunum yetenekleri ───

type fakeIndicator struct {
	mu     sync.Mutex
	active map[IndicatorKind]bool
	starts map[IndicatorKind]int
}

func newFakeIndicator() *fakeIndicator {
	return &fakeIndicator{active: map[IndicatorKind]bool{}, starts: map[IndicatorKind]int{}}
}

func (i *fakeIndicator) Start(kind IndicatorKind) {
	i.mu.Lock()
	i.active[kind] = true
	i.starts[kind]++
	i.mu.Unlock()
}

func (i *fakeIndicator) Stop(kind IndicatorKind) {
	i.mu.Lock()
	i.active[kind] = false
	i.mu.Unlock()
}

func (i *fakeIndicator) playing(kind IndicatorKind) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active[kind]
}

func (i *fakeIndicator) started(kind IndicatorKind) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.starts[kind]
}

type fakeSink struct {
	mu    sync.Mutex
	audio map[string]bool
	video map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{audio: map[string]bool{}, video: map[string]bool{}}
}

func (s *fakeSink) BindAudio(stream RemoteStream) {
	s.mu.Lock()
	s.audio[stream.ID()] = true
	s.mu.Unlock()
}

func (s *fakeSink) BindVideo(stream RemoteStream) {
	s.mu.Lock()
	s.video[stream.ID()] = true
	s.mu.Unlock()
}

func (s *fakeSink) Unbind(streamID string) {
	s.mu.Lock()
	delete(s.audio, streamID)
	delete(s.video, streamID)
	s.mu.Unlock()
}

func (s *fakeSink) bound(streamID string) (audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio[streamID], s.video[streamID]
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *fakeNotifier) Notify(notice Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *fakeNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

// ─── Harness ───

type harness struct {
	m         *Manager
	sig       *fakeSignaler
	tokens    *fakeTokens
	engine    *fakeEngine
	indicator *fakeIndicator
	sink      *fakeSink
	notifier  *fakeNotifier
}

func newHarness(t *testing.T, localID string, opts ...func(*Config)) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := Config{
		LocalID:     localID,
		DisplayName: "Local " + localID,
		Logger:      logrus.NewEntry(logger),
	}
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		sig:       newFakeSignaler(),
		tokens:    &fakeTokens{},
		engine:    &fakeEngine{},
		indicator: newFakeIndicator(),
		sink:      newFakeSink(),
		notifier:  &fakeNotifier{},
	}
	m, err := New(cfg, Deps{
		Signaler:  h.sig,
		Tokens:    h.tokens,
		Media:     h.engine,
		Indicator: h.indicator,
		Sink:      h.sink,
		Notifier:  h.notifier,
	})
	require.NoError(t, err)
	h.m = m
	t.Cleanup(m.Close)
	return h
}

func (h *harness) waitPhase(t *testing.T, phase models.CallPhase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Phase() == phase }, waitFor, tick,
		"phase did not become %s (now %s)", phase, h.m.Phase())
}

// startActiveCall, alice → bob aramasını kurar ve cevaplandırır.
func (h *harness) startActiveCall(t *testing.T, remote string, kind models.CallKind) *fakeRoom {
	t.Helper()
	require.NoError(t, h.m.StartCall(context.Background(), remote, kind))
	h.sig.deliver(t, ws.OpAnswerCall, ws.AnswerCallData{RoomID: h.m.State().Session.RoomID})
	h.waitPhase(t, models.CallPhaseActive)
	return h.engine.lastRoom()
}

// invite, bob'un alice'e gönderdiği daveti teslim eder ve incoming_ringing'i bekler.
func (h *harness) invite(t *testing.T, from string, kind models.CallKind) string {
	t.Helper()
	roomID := models.RoomID(from, h.m.cfg.LocalID)
	h.sig.deliver(t, ws.OpIncomingCall, ws.IncomingCallData{
		From:     from,
		Name:     "User " + from,
		CallType: kind,
		RoomID:   roomID,
	})
	h.waitPhase(t, models.CallPhaseIncomingRinging)
	return roomID
}
