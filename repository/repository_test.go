package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/mqvicall/database"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), database.Migrations(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUserRepo_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteUserRepo(newTestDB(t).Conn)

	require.NoError(t, repo.Upsert(ctx, &models.User{
		ID: "u1", Username: "ayse", DisplayName: "Ayşe", Email: "ayse@example.com", LastSeenAt: base,
	}))

	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ayşe", got.DisplayName)
	assert.Equal(t, "ayse@example.com", got.Email)
	assert.True(t, base.Equal(got.LastSeenAt))
	assert.Nil(t, got.LastCallAt)

	// Boş email mevcut adresi silmez.
	require.NoError(t, repo.Upsert(ctx, &models.User{
		ID: "u1", Username: "ayse", DisplayName: "Ayşe K.", LastSeenAt: base.Add(time.Hour),
	}))
	got, err = repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ayşe K.", got.DisplayName)
	assert.Equal(t, "ayse@example.com", got.Email)
	assert.True(t, base.Add(time.Hour).Equal(got.LastSeenAt))
}

func TestUserRepo_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteUserRepo(newTestDB(t).Conn)

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	assert.ErrorIs(t, repo.Upsert(ctx, &models.User{}), pkg.ErrBadRequest)
}

func TestCallLogRepo_CreateUpdatesDirectory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	logs := NewSQLiteCallLogRepo(db.Conn)

	require.NoError(t, users.Upsert(ctx, &models.User{ID: "a", LastSeenAt: base}))
	require.NoError(t, users.Upsert(ctx, &models.User{ID: "b", LastSeenAt: base}))

	answered := base.Add(5 * time.Second)
	entry := &models.CallLog{
		RoomID: models.RoomID("a", "b"), CallerID: "a", CalleeID: "b",
		Kind: models.CallKindVideo, Outcome: models.CallOutcomeCompleted,
		StartedAt: base, AnsweredAt: &answered, EndedAt: base.Add(time.Minute),
	}
	require.NoError(t, logs.Create(ctx, entry))
	require.NotEmpty(t, entry.ID)

	got, err := logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallKindVideo, got.Kind)
	assert.Equal(t, models.CallOutcomeCompleted, got.Outcome)
	require.NotNil(t, got.AnsweredAt)
	assert.Equal(t, 55*time.Second, got.Duration())

	for _, id := range []string{"a", "b"} {
		u, err := users.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, u.LastCallAt)
		assert.True(t, base.Equal(*u.LastCallAt))
	}
}

func TestCallLogRepo_CreateValidation(t *testing.T) {
	logs := NewSQLiteCallLogRepo(newTestDB(t).Conn)
	err := logs.Create(context.Background(), &models.CallLog{CallerID: "a"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	_, err = logs.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestCallLogRepo_ListByUser(t *testing.T) {
	ctx := context.Background()
	logs := NewSQLiteCallLogRepo(newTestDB(t).Conn)

	add := func(caller, callee string, at time.Time, outcome models.CallOutcome) {
		require.NoError(t, logs.Create(ctx, &models.CallLog{
			RoomID: models.RoomID(caller, callee), CallerID: caller, CalleeID: callee,
			Kind: models.CallKindAudio, Outcome: outcome, StartedAt: at, EndedAt: at.Add(time.Second),
		}))
	}
	add("a", "b", base, models.CallOutcomeMissed)
	add("b", "a", base.Add(time.Minute), models.CallOutcomeCompleted)
	add("c", "d", base.Add(2*time.Minute), models.CallOutcomeBusy)
	add("a", "c", base.Add(3*time.Minute), models.CallOutcomeRejected)

	got, err := logs.ListByUser(ctx, "a", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].CalleeID)
	assert.Equal(t, "b", got[1].CallerID)
	assert.Equal(t, models.CallOutcomeMissed, got[2].Outcome)

	page, err := logs.ListByUser(ctx, "a", 1, got[0].StartedAt)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, got[1].ID, page[0].ID)

	none, err := logs.ListByUser(ctx, "zzz", 10, time.Time{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
