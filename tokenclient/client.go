// Package tokenclient, oda credential'ını backend'den alan HTTP client.
//
//	POST {base}/zego/token  Authorization: Bearer <access token>
//	{"roomID": "...", "userID": "..."} → {"success": true, "data": {"token": "...", "url": "..."}}
//
// GET {base}/api/calls aynı zarfla arama geçmişini döner.
//
// Alınan token kısa süre cache'lenir; aynı oda için art arda gelen
// istekler (ör: yeniden katılma) backend'e gitmez.
package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
	"github.com/akinalp/mqvicall/pkg/cache"
)

const (
	// TokenPath, backend token endpoint'i.
	TokenPath = "/zego/token"
	// HistoryPath, arama geçmişi endpoint'i.
	HistoryPath = "/api/calls"

	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 2 * time.Minute
	maxBodySize     = 64 << 10
)

// Config, token client ayarları.
type Config struct {
	BaseURL     string // ör: http://localhost:9090
	AccessToken string
	// CacheTTL, sıfırsa varsayılan kullanılır; negatifse cache kapalıdır.
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Client, call.TokenProvider implementasyonu.
type Client struct {
	base        string
	endpoint    string
	accessToken string
	http        *http.Client
	cache       *cache.TTLCache[string, models.RoomTokenResponse]
	log         *logrus.Entry
}

// New, token client oluşturur.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", pkg.ErrBadRequest)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	c := &Client{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + TokenPath,
		accessToken: cfg.AccessToken,
		http:        cfg.HTTPClient,
		log:         cfg.Logger.WithField("component", "tokenclient"),
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.New[string, models.RoomTokenResponse](cfg.CacheTTL, cfg.CacheTTL)
	}
	return c, nil
}

// RoomToken, roomID odası için imzalı token döner.
func (c *Client) RoomToken(ctx context.Context, roomID, userID string) (string, error) {
	resp, err := c.Fetch(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Fetch, token'ı media sunucu URL'i ile birlikte döner.
func (c *Client) Fetch(ctx context.Context, roomID, userID string) (models.RoomTokenResponse, error) {
	if roomID == "" || userID == "" {
		return models.RoomTokenResponse{}, fmt.Errorf("%w: roomID and userID are required", pkg.ErrBadRequest)
	}

	key := roomID + "|" + userID
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	body, err := json.Marshal(models.RoomTokenRequest{RoomID: roomID, UserID: userID})
	if err != nil {
		return models.RoomTokenResponse{}, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.RoomTokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	data, err := roundTrip[models.RoomTokenResponse](c, req)
	if err != nil {
		return models.RoomTokenResponse{}, err
	}
	if data.Token == "" {
		return models.RoomTokenResponse{}, fmt.Errorf("%w: empty token in response", pkg.ErrInternal)
	}
	if data.RoomID == "" {
		data.RoomID = roomID
	}

	if c.cache != nil {
		c.cache.Set(key, data)
	}
	return data, nil
}

// History, oturum sahibinin arama geçmişini döner (GET /api/calls).
// limit 0 ise sunucu varsayılanı; before sıfır değilse o andan öncekiler.
func (c *Client) History(ctx context.Context, limit int, before time.Time) ([]models.CallLog, error) {
	u, err := url.Parse(c.base + HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("build history url: %w", err)
	}
	q := u.Query()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	return roundTrip[[]models.CallLog](c, req)
}

// roundTrip, isteği gönderir ve {success, data, error} zarfını çözer.
func roundTrip[T any](c *Client, req *http.Request) (T, error) {
	var zero T

	httpResp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%w: %s %s: %v", pkg.ErrUnavailable, req.Method, req.URL.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return zero, fmt.Errorf("%w: read response: %v", pkg.ErrUnavailable, err)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Data    T      `json:"data"`
		Error   string `json:"error"`
	}
	decodeErr := json.Unmarshal(raw, &envelope)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		c.log.WithFields(logrus.Fields{"path": req.URL.Path, "status": httpResp.StatusCode}).Warn("request rejected")
		return zero, pkg.StatusError(httpResp.StatusCode, envelope.Error)
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("%w: decode response: %v", pkg.ErrInternal, decodeErr)
	}
	if !envelope.Success {
		return zero, fmt.Errorf("%w: unsuccessful response", pkg.ErrInternal)
	}
	return envelope.Data, nil
}

// Invalidate, cache'teki token'ı siler (ör: join reddedildiğinde).
func (c *Client) Invalidate(roomID, userID string) {
	if c.cache != nil {
		c.cache.Delete(roomID + "|" + userID)
	}
}

// Close, cache temizleyicisini durdurur.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
