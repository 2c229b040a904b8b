package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/mqvicall/database"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

const callLogColumns = `id, room_id, caller_id, callee_id, kind, outcome, started_at, answered_at, ended_at`

type sqliteCallLogRepo struct {
	db *sql.DB
}

// NewSQLiteCallLogRepo, Create transaction kullandığı için *sql.DB alır.
func NewSQLiteCallLogRepo(db *sql.DB) CallLogRepository {
	return &sqliteCallLogRepo{db: db}
}

func (r *sqliteCallLogRepo) Create(ctx context.Context, log *models.CallLog) error {
	if log.CallerID == "" || log.CalleeID == "" || log.RoomID == "" {
		return fmt.Errorf("%w: call log needs caller, callee and room", pkg.ErrBadRequest)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.EndedAt.IsZero() {
		log.EndedAt = time.Now().UTC()
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = log.EndedAt
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_logs (`+callLogColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.ID, log.RoomID, log.CallerID, log.CalleeID, string(log.Kind), string(log.Outcome),
			toMillis(log.StartedAt), toNullMillis(log.AnsweredAt), toMillis(log.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert call log: %w", err)
		}

		// Dizinde olmayan kullanıcı satır üretmez; UPDATE 0 satır etkiler.
		_, err = tx.ExecContext(ctx, `
			UPDATE user_directory SET last_call_at = ?
			WHERE id IN (?, ?) AND (last_call_at IS NULL OR last_call_at < ?)`,
			toMillis(log.StartedAt), log.CallerID, log.CalleeID, toMillis(log.StartedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to update last_call_at: %w", err)
		}
		return nil
	})
}

func (r *sqliteCallLogRepo) GetByID(ctx context.Context, id string) (*models.CallLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+callLogColumns+` FROM call_logs WHERE id = ?`, id)
	log, err := scanCallLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return log, nil
}

func (r *sqliteCallLogRepo) ListByUser(ctx context.Context, userID string, limit int, before time.Time) ([]models.CallLog, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	// İki index ayrı kullanılsın diye OR yerine UNION ALL.
	cutoff := int64(1<<63 - 1)
	if !before.IsZero() {
		cutoff = toMillis(before)
	}
	query := `
		SELECT ` + callLogColumns + ` FROM (
			SELECT ` + callLogColumns + ` FROM call_logs WHERE caller_id = ? AND started_at < ?
			UNION ALL
			SELECT ` + callLogColumns + ` FROM call_logs WHERE callee_id = ? AND caller_id != ? AND started_at < ?
		)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, cutoff, userID, userID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.CallLog, 0)
	for rows.Next() {
		log, err := scanCallLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call logs: %w", err)
	}
	return logs, nil
}

// rowScanner, *sql.Row ve *sql.Rows için ortak Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallLog(s rowScanner) (*models.CallLog, error) {
	var (
		log            models.CallLog
		kind, outcome  string
		started, ended int64
		answered       sql.NullInt64
	)
	if err := s.Scan(
		&log.ID, &log.RoomID, &log.CallerID, &log.CalleeID, &kind, &outcome,
		&started, &answered, &ended,
	); err != nil {
		return nil, err
	}
	log.Kind = models.CallKind(kind)
	log.Outcome = models.CallOutcome(outcome)
	log.StartedAt = fromMillis(started)
	log.AnsweredAt = fromNullMillis(answered)
	log.EndedAt = fromMillis(ended)
	return &log, nil
}
