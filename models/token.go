package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims, access token'ın payload'ı.
//
// Token'ı kimlik sağlayıcı üretir, bu servis sadece doğrular.
// Subject ile UserID aynı değeri taşır; eski token'larda sadece user_id olabilir.
type TokenClaims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Name, UI'da gösterilecek isim: display_name yoksa username.
func (c *TokenClaims) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Username
}

// RoomTokenRequest, POST /zego/token gövdesi.
type RoomTokenRequest struct {
	RoomID string `json:"roomID"`
	UserID string `json:"userID"`
}

// RoomTokenResponse, media engine odasına katılmak için imzalı credential.
type RoomTokenResponse struct {
	Token  string `json:"token"`
	URL    string `json:"url"`
	RoomID string `json:"roomID"`
}
