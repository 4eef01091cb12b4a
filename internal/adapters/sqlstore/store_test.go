package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	apperrors "github.com/target/sessionkeeper/internal/errors"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/testutil"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleState() domainauth.PersistedState {
	return domainauth.PersistedState{
		User:            domainauth.NewUser("u1", "Ann", "ann@example.com"),
		Token:           testutil.StringPtr("tok"),
		IsAuthenticated: true,
		TokenExpiresAt:  testutil.Int64Ptr(1_700_000_900_000),
	}
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	s, err := New(Options{DB: openSQLite(t), Key: "auth-storage", Now: func() time.Time { return now }})
	require.NoError(t, err)

	_, err = s.Load(ctx)
	require.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.Save(ctx, sampleState()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.User.ID)
	assert.True(t, got.IsAuthenticated)
	assert.Equal(t, "tok", *got.Token)
	assert.Equal(t, int64(1_700_000_900_000), *got.TokenExpiresAt)

	updated, err := s.UpdatedAt(ctx)
	require.NoError(t, err)
	assert.True(t, now.Equal(updated))
}

func TestStore_SQLiteUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := New(Options{DB: openSQLite(t), Key: "auth-storage"})
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleState()))
	require.NoError(t, s.Save(ctx, domainauth.PersistedState{}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.User)
	assert.Nil(t, got.Token)
	assert.False(t, got.IsAuthenticated)
}

func TestStore_KeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	a, err := New(Options{DB: db, Key: "a"})
	require.NoError(t, err)
	b, err := New(Options{DB: db, Key: "b"})
	require.NoError(t, err)

	require.NoError(t, a.Save(ctx, sampleState()))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_UpdatedAtMissing(t *testing.T) {
	s, err := New(Options{DB: openSQLite(t), Key: "none"})
	require.NoError(t, err)
	_, err = s.UpdatedAt(context.Background())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Key: "k"})
	require.Error(t, err)
	_, err = New(Options{DB: openSQLite(t)})
	require.Error(t, err)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "pgx", DialectPostgres.DriverName())
	assert.Equal(t, "sqlite", DialectSQLite.DriverName())
	assert.Equal(t, "$2", DialectPostgres.placeholder(2))
	assert.Equal(t, "?", DialectSQLite.placeholder(2))
}

func TestStore_PostgresRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS session_state")
	require.NoError(t, err)

	s, err := New(Options{DB: db, Dialect: DialectPostgres, Key: "auth-storage"})
	require.NoError(t, err)

	// Missing table reads as an empty store.
	_, err = s.Load(ctx)
	require.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, EnsureSchema(ctx, db))
	require.NoError(t, s.Save(ctx, sampleState()))
	require.NoError(t, s.Save(ctx, sampleState()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.User.ID)
}
