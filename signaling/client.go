// Package signaling, relay sunucusuna client tarafı WebSocket bağlantısıdır.
//
// Client tek bir bağlantıyı paylaşır: call.Manager abone olur ve emit eder.
// Bağlantı koptuğunda her aboneye ws.OpDisconnect op'lu sentetik bir event
// teslim edilir, ardından (Reconnect açıksa) exponential backoff ile yeniden bağlanılır.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/ws"
)

const (
	// DefaultHeartbeatInterval, sunucunun 90sn'lik okuma deadline'ı ile uyumlu.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultReconnectTimeout, yeniden bağlanma denemelerinin toplam süresi.
	DefaultReconnectTimeout = 2 * time.Minute

	writeWait = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("signaling: not connected")
	ErrClosed       = errors.New("signaling: client closed")
)

// Config, signaling client ayarları.
type Config struct {
	// URL, relay WebSocket adresi (ör: ws://localhost:9090/ws). Token query'ye eklenir.
	URL   string
	Token string

	HeartbeatInterval time.Duration
	// Reconnect: bağlantı koptuğunda yeniden bağlan. Kapalıysa client kopuşta durur.
	Reconnect        bool
	ReconnectTimeout time.Duration

	Dialer *websocket.Dialer
	Logger *logrus.Entry
}

type subscriber struct {
	ch   chan ws.InboundEvent
	done chan struct{}
}

// Client, call.Signaler implementasyonu.
type Client struct {
	cfg    Config
	target string
	log    *logrus.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   ws.ReadyData
	subs    map[int]*subscriber
	nextSub int

	writeMu sync.Mutex

	closed  core.Fuse
	runDone chan struct{}
}

// Dial, ilk bağlantıyı kurar ve okuma döngüsünü başlatır.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("signaling: url and token are required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("signaling: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = DefaultReconnectTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Client{
		cfg:     cfg,
		target:  u.String(),
		log:     cfg.Logger.WithFields(logrus.Fields{"component": "signaling", "host": u.Host}),
		subs:    make(map[int]*subscriber),
		runDone: make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			// Token geçersiz; tekrar denemek anlamsız.
			return nil, backoff.Permanent(fmt.Errorf("signaling: dial rejected: %s", resp.Status))
		}
		return nil, fmt.Errorf("signaling: dial: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// run, bağlantı başına okuma döngüsü + kopuşta yeniden bağlanma.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.runDone)

	for {
		err := c.readLoop(conn)
		c.setConn(nil)
		conn.Close()

		if c.closed.IsBroken() {
			return
		}
		c.log.WithError(err).Warn("signaling connection lost")
		c.deliver(ws.InboundEvent{Op: ws.OpDisconnect})

		if !c.cfg.Reconnect {
			return
		}
		next, rerr := c.reconnect()
		if rerr != nil {
			if !c.closed.IsBroken() {
				c.log.WithError(rerr).Error("giving up reconnecting")
			}
			return
		}
		c.setConn(next)
		conn = next
		c.log.Info("signaling reconnected")
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed.Watch():
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return c.dial(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.cfg.ReconnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.WithError(err).WithField("retry_in", next).Debug("reconnect attempt failed")
		}),
	)
}

// readLoop, bağlantı kapanana kadar okur; heartbeat goroutine'ini yönetir.
func (c *Client) readLoop(conn *websocket.Conn) error {
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go c.heartbeat(conn, stopHeartbeat)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev ws.InboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.WithError(err).Warn("invalid message from relay")
			continue
		}

		if ev.Op == ws.OpReady {
			var d ws.ReadyData
			if err := ev.DecodeData(&d); err == nil {
				c.mu.Lock()
				c.ready = d
				c.mu.Unlock()
				c.log.WithField("user", d.UserID).Info("signaling ready")
			}
		}
		c.deliver(ev)
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(conn, ws.Event{Op: ws.OpHeartbeat}); err != nil {
				c.log.WithError(err).Debug("heartbeat failed")
				return
			}
		case <-stop:
			return
		}
	}
}

// deliver, event'i tüm abonelere sırayla teslim eder. Yavaş abone okuma
// döngüsünü bekletir; event düşürülmez.
func (c *Client) deliver(ev ws.InboundEvent) {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-c.closed.Watch():
			return
		}
	}
}

// Subscribe, event akışına abone olur. Dönen cancel aboneliği bırakır.
func (c *Client) Subscribe() (<-chan ws.InboundEvent, func()) {
	s := &subscriber{
		ch:   make(chan ws.InboundEvent, 16),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(s.done)
		})
	}
}

// Emit, relay'e event gönderir.
func (c *Client) Emit(op string, data any) error {
	if c.closed.IsBroken() {
		return ErrClosed
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, ws.Event{Op: op, Data: data})
}

func (c *Client) write(conn *websocket.Conn, ev ws.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", ev.Op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Ready, sunucunun bağlantıda bildirdiği kimlik.
func (c *Client) Ready() ws.ReadyData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Connected, şu an açık bir bağlantı var mı?
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close, bağlantıyı kapatır ve okuma döngüsünün bitmesini bekler.
// Abone kanalları kapatılır.
func (c *Client) Close() error {
	if c.closed.IsBroken() {
		return nil
	}
	c.closed.Break()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-c.runDone

	c.mu.Lock()
	for id, s := range c.subs {
		close(s.ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.log.Info("signaling closed")
	return nil
}
