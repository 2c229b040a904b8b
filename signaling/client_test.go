package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/ws"
)

const waitFor = 2 * time.Second

// relayStub, gelen event'leri kaydeden ve istenince bağlantıyı koparan bir test sunucusu.
type relayStub struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []ws.InboundEvent
	tokens   []string
	reject   bool
}

func newRelayStub(t *testing.T) *relayStub {
	r := &relayStub{t: t}
	r.srv = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relayStub) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func (r *relayStub) handle(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.tokens = append(r.tokens, req.URL.Query().Get("token"))
	reject := r.reject
	r.mu.Unlock()
	if reject {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	ready, _ := json.Marshal(ws.Event{Op: ws.OpReady, Data: ws.ReadyData{UserID: "u1", Name: "Ayşe"}})
	_ = conn.WriteMessage(websocket.TextMessage, ready)

	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev ws.InboundEvent
		if json.Unmarshal(raw, &ev) == nil {
			r.mu.Lock()
			r.received = append(r.received, ev)
			r.mu.Unlock()
		}
	}
}

func (r *relayStub) send(op string, data any) {
	raw, err := json.Marshal(ws.Event{Op: op, Data: data})
	require.NoError(r.t, err)

	require.Eventually(r.t, func() bool { return r.connCount() > 0 }, waitFor, 5*time.Millisecond)
	r.mu.Lock()
	conn := r.conns[len(r.conns)-1]
	r.mu.Unlock()
	require.NoError(r.t, conn.WriteMessage(websocket.TextMessage, raw))
}

func (r *relayStub) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
}

func (r *relayStub) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.received))
	for _, ev := range r.received {
		out = append(out, ev.Op)
	}
	return out
}

func (r *relayStub) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func testConfig(url string) Config {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return Config{
		URL:    url,
		Token:  "secret-token",
		Logger: logrus.NewEntry(logger),
	}
}

func next(t *testing.T, ch <-chan ws.InboundEvent) ws.InboundEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event received")
		return ws.InboundEvent{}
	}
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://localhost:1/ws"})
	assert.Error(t, err)

	_, err = Dial(context.Background(), Config{Token: "x"})
	assert.Error(t, err)
}

func TestDial_SendsTokenAndReceivesReady(t *testing.T) {
	relay := newRelayStub(t)

	c, err := Dial(context.Background(), testConfig(relay.url()))
	require.NoError(t, err)
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	assert.Eventually(t, func() bool { return c.Ready().UserID == "u1" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Ayşe", c.Ready().Name)
	assert.True(t, c.Connected())

	relay.mu.Lock()
	assert.Equal(t, []string{"secret-token"}, relay.tokens)
	relay.mu.Unlock()

	relay.send(ws.OpIncomingCall, ws.IncomingCallData{From: "u2", RoomID: "u1_u2", CallType: models.CallKindAudio})
	ev := next(t, events)
	for ev.Op == ws.OpReady {
		ev = next(t, events)
	}
	require.Equal(t, ws.OpIncomingCall, ev.Op)

	var d ws.IncomingCallData
	require.NoError(t, ev.DecodeData(&d))
	assert.Equal(t, "u2", d.From)
	assert.Equal(t, "u1_u2", d.RoomID)
}

func TestDial_Unauthorized(t *testing.T) {
	relay := newRelayStub(t)
	relay.reject = true

	_, err := Dial(context.Background(), testConfig(relay.url()))
	assert.Error(t, err)
}

func TestEmit(t *testing.T) {
	relay := newRelayStub(t)

	c, err := Dial(context.Background(), testConfig(relay.url()))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Emit(ws.OpCallUser, ws.CallUserData{UserToCall: "u2", RoomID: "u1_u2", From: "u1", CallType: models.CallKindVideo}))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{ws.OpCallUser}, relay.ops())
	}, waitFor, 5*time.Millisecond)
}

func TestHeartbeat(t *testing.T) {
	relay := newRelayStub(t)

	cfg := testConfig(relay.url())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool {
		for _, op := range relay.ops() {
			if op == ws.OpHeartbeat {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
}

func TestDisconnect_DeliversSyntheticEvent(t *testing.T) {
	relay := newRelayStub(t)

	c, err := Dial(context.Background(), testConfig(relay.url()))
	require.NoError(t, err)
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	relay.dropAll()

	for {
		ev := next(t, events)
		if ev.Op == ws.OpDisconnect {
			break
		}
	}
	assert.Eventually(t, func() bool { return !c.Connected() }, waitFor, 5*time.Millisecond)
	assert.ErrorIs(t, c.Emit(ws.OpEndCall, ws.EndCallData{To: "u2"}), ErrNotConnected)
}

func TestReconnect(t *testing.T) {
	relay := newRelayStub(t)

	cfg := testConfig(relay.url())
	cfg.Reconnect = true
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	relay.dropAll()

	assert.Eventually(t, func() bool { return relay.connCount() == 2 && c.Connected() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Emit(ws.OpAnswerCall, ws.AnswerCallData{To: "u2", RoomID: "u1_u2"}))
	assert.Eventually(t, func() bool {
		for _, op := range relay.ops() {
			if op == ws.OpAnswerCall {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	relay := newRelayStub(t)

	c, err := Dial(context.Background(), testConfig(relay.url()))
	require.NoError(t, err)

	events, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Emit(ws.OpHeartbeat, nil), ErrClosed)

	// Close sonrası kanal kapanır; sentetik disconnect teslim edilmez.
	assert.Eventually(t, func() bool {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return true
				}
				assert.NotEqual(t, ws.OpDisconnect, ev.Op)
			default:
				return false
			}
		}
	}, waitFor, 5*time.Millisecond)
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	relay := newRelayStub(t)

	c, err := Dial(context.Background(), testConfig(relay.url()))
	require.NoError(t, err)
	defer c.Close()

	_, cancelA := c.Subscribe()
	b, cancelB := c.Subscribe()
	defer cancelB()
	cancelA()
	cancelA()

	// A hiç okunmuyor; iptal edildiği için B'ye teslimat bloklanmaz.
	for i := 0; i < 40; i++ {
		relay.send(ws.OpCallTimeout, ws.CallWithdrawnData{RoomID: "u1_u2"})
	}
	got := 0
	for got < 40 {
		if next(t, b).Op == ws.OpCallTimeout {
			got++
		}
	}
}
