// Package models, uygulamanın domain modellerini (veri yapıları) tanımlar.
//
// `json:"..."` tag'leri API ve signaling payload'larında kullanılır.
package models

import "time"

// User, user_directory tablosundaki bir kullanıcı.
// Kayıt her WebSocket bağlantısında JWT claim'lerinden güncellenir;
// cevapsız arama email'i için gereken adres buradan okunur.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"-"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	LastCallAt  *time.Time `json:"last_call_at,omitempty"`
}

// UserFromClaims, doğrulanmış token'dan directory kaydı oluşturur.
func UserFromClaims(c *TokenClaims) *User {
	return &User{
		ID:          c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		LastSeenAt:  time.Now().UTC(),
	}
}
