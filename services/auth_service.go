// Package services, relay sunucusunun business logic katmanını barındırır.
//
// Handler (HTTP/WS) ile Repository (DB) arasında oturur:
//   - Access token doğrulama
//   - Oda credential'ı üretme
//   - Arama relay'i, call log ve cevapsız arama bildirimi
//
// Service ASLA http.Request/Response bilmez, sadece domain modelleri alır/verir.
// Service ASLA doğrudan SQL çalıştırmaz, Repository interface'i kullanır.
package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

const tokenIssuer = "mqvi"

// AuthService, access token işlemleri.
// Token'lar kimlik sağlayıcıda üretilir; relay sadece doğrular.
// IssueAccessToken aynı secret ile development/test token'ı üretir.
type AuthService interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
	IssueAccessToken(user models.User, ttl time.Duration) (string, error)
}

type authService struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthService, constructor.
func NewAuthService(jwtSecret string) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// ValidateAccessToken, JWT access token'ı doğrular ve claims'i döner.
// user_id yoksa subject kullanılır; ikisi de boşsa token geçersizdir.
func (s *authService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", pkg.ErrUnauthorized)
	}

	return claims, nil
}

// IssueAccessToken, kullanıcı için HS256 imzalı access token üretir.
func (s *authService) IssueAccessToken(user models.User, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("%w: user id is required", pkg.ErrBadRequest)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", pkg.ErrBadRequest)
	}

	now := s.now()
	claims := &models.TokenClaims{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
