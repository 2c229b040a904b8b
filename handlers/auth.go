// Package handlers, HTTP request/response işlemlerini yönetir.
//
// Handler "ince" olmalı: request'i parse et, service'i çağır, yanıtı yaz.
// İş mantığı ve DB erişimi service katmanında kalır.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

// contextKey, context.WithValue için özel tip (string çakışmalarını önler).
type contextKey string

// ClaimsContextKey, auth middleware'ın doğrulanmış claims'i koyduğu anahtar.
const ClaimsContextKey contextKey = "claims"

// WithClaims, claims'i context'e ekler.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// ClaimsFromContext, middleware'ın eklediği claims'i döner.
func ClaimsFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.TokenClaims)
	return claims, ok && claims != nil
}

// UserGetter, directory kaydını okumak için minimal interface.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthHandler, oturum sahibinin bilgisini döner.
type AuthHandler struct {
	users UserGetter
}

// NewAuthHandler, constructor.
func NewAuthHandler(users UserGetter) *AuthHandler {
	return &AuthHandler{users: users}
}

// Me godoc
// GET /api/users/me
// Directory'de kayıt yoksa (henüz ws bağlantısı açılmamış) claims'ten üretilir.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, pkg.ErrNotFound) {
		user = models.UserFromClaims(claims)
	} else if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, user)
}
