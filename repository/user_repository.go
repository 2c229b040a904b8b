// Package repository, veritabanı erişim katmanını tanımlar.
//
// Service katmanı SQL yazmaz; bu paketteki interface'ler üzerinden çalışır.
// Testlerde interface'in sahte implementasyonu verilir.
package repository

import (
	"context"

	"github.com/akinalp/mqvicall/models"
)

// UserRepository, user_directory tablosu için interface.
//
// Kullanıcılar burada oluşturulmaz; kimlik doğrulama ayrı bir serviste.
// Relay her bağlantıda claim'lerden gelen bilgiyi Upsert eder.
type UserRepository interface {
	// Upsert, kaydı oluşturur ya da isim/email/last_seen alanlarını günceller.
	// last_call_at dokunulmaz.
	Upsert(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
}
