package repository

import (
	"context"
	"time"

	"github.com/akinalp/mqvicall/models"
)

// DefaultHistoryLimit, ListByUser'a limit verilmediğinde kullanılır.
const DefaultHistoryLimit = 50

// MaxHistoryLimit, tek sayfada dönebilecek en fazla kayıt.
const MaxHistoryLimit = 200

// CallLogRepository, call_logs tablosu için interface.
type CallLogRepository interface {
	// Create, kaydı yazar ve iki tarafın last_call_at alanını aynı
	// transaction içinde günceller. ID boşsa üretilir.
	Create(ctx context.Context, log *models.CallLog) error
	GetByID(ctx context.Context, id string) (*models.CallLog, error)
	// ListByUser, kullanıcının arayan ya da aranan olduğu kayıtları
	// yeniden eskiye döner. before sıfır değilse o andan önce başlayanlar.
	ListByUser(ctx context.Context, userID string, limit int, before time.Time) ([]models.CallLog, error)
}
