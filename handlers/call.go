package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
	"github.com/akinalp/mqvicall/pkg/ratelimit"
	"github.com/akinalp/mqvicall/services"
)

// CallHandler, arama HTTP endpoint'leri: oda token'ı, geçmiş, aktif arama.
type CallHandler struct {
	relay        services.CallRelayService
	roomTokens   services.RoomTokenService
	tokenLimiter *ratelimit.Limiter
}

// NewCallHandler, constructor. tokenLimiter nil ise limit uygulanmaz.
func NewCallHandler(relay services.CallRelayService, roomTokens services.RoomTokenService, tokenLimiter *ratelimit.Limiter) *CallHandler {
	return &CallHandler{
		relay:        relay,
		roomTokens:   roomTokens,
		tokenLimiter: tokenLimiter,
	}
}

// Token, oda credential'ı üretir.
//
//	POST /zego/token  (ve /api/call/token)
//	Request:  { "roomID": "a_b", "userID": "a" }
//	Response: { "token": "eyJ...", "url": "wss://...", "roomID": "a_b" }
func (h *CallHandler) Token(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	if h.tokenLimiter != nil && !h.tokenLimiter.Allow(claims.UserID) {
		w.Header().Set("Retry-After", strconv.Itoa(h.tokenLimiter.RetryAfter(claims.UserID)))
		pkg.ErrorWithMessage(w, http.StatusTooManyRequests, "too many token requests")
		return
	}

	var req models.RoomTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.roomTokens.IssueRoomToken(claims, req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, resp)
}

// History, kullanıcının arama geçmişi.
//
//	GET /api/calls?limit=20&before=2026-03-01T12:00:00Z
//
// before RFC3339 ya da unix milisaniye olabilir.
func (h *CallHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	before, err := parseBefore(q.Get("before"))
	if err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.relay.ListHistory(r.Context(), claims.UserID, limit, before)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, logs)
}

// Active, kullanıcının relay'deki aramasını döner; yoksa data null.
//
//	GET /api/calls/active
func (h *CallHandler) Active(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}
	pkg.JSON(w, http.StatusOK, h.relay.GetUserCall(claims.UserID))
}

func parseBefore(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid before: %q", v)
	}
	return t, nil
}
