package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elysion/user-service/internal/core/domain"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

var userRowColumns = []string{
	"id", "email", "pending_email", "password_hash", "password_salt",
	"role", "active", "first_name", "last_name", "created_at", "updated_at",
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+audit_log\b`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		return s.Audit().Insert(ctx, &domain.AuditRecord{ID: "a1", Action: domain.AuditPromoteRole, At: time.Now()})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s, mock := newStoreWithMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error { return nil })
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "nested call must not begin a second transaction")
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+users\b`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uniq_users_email"})
	mock.ExpectRollback()

	err := s.Users().Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrEmailInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateClaimsPrimaryAndPending(t *testing.T) {
	s, mock := newStoreWithMock(t)
	pending := "new@example.com"

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+users\b`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+email_claims`).
		WithArgs("u1", "a@example.com", pending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+email_claims`).
		WithArgs("a@example.com", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+email_claims`).
		WithArgs(pending, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Users().Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", PendingEmail: &pending, Role: domain.RoleUser})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpdatePendingClaimedByAnotherUser(t *testing.T) {
	s, mock := newStoreWithMock(t)
	pending := "bob@example.com"

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^\s*UPDATE\s+users\b`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+email_claims`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+email_claims`).
		WithArgs("alice@example.com", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+email_claims`).
		WithArgs(pending, "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Users().Update(context.Background(), &domain.User{ID: "u1", Email: "alice@example.com", PendingEmail: &pending})
	assert.ErrorIs(t, err, domain.ErrEmailInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "a@example.com", nil, "hash", "salt", "Admin", true, "Ann", "Lee", created, created)
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	u, err := s.Users().FindByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.Nil(t, u.PendingEmail)
	assert.True(t, u.Active)
	assert.Equal(t, "Ann", u.FirstName)
}

func TestUserRepository_FindByIDNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Users().FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_UpdateMissing(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^\s*UPDATE\s+users\b`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Users().Update(context.Background(), &domain.User{ID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_FindOpen(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	confirmed := created.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "value", "created_at", "confirmed_at", "used_at"}).
		AddRow("t1", "u1", "ACTIVATION", "abc", created, confirmed, nil)
	mock.ExpectQuery(`(?s)WHERE\s+lower\(value\)\s*=\s*\$1\s+AND\s+type\s*=\s*\$2\s+AND\s+used_at\s+IS\s+NULL\s+FOR\s+UPDATE`).
		WithArgs("abc", "ACTIVATION").
		WillReturnRows(rows)

	tok, err := s.Tokens().FindOpen(context.Background(), "abc", domain.TokenActivation)
	require.NoError(t, err)
	assert.True(t, tok.Open())
	require.NotNil(t, tok.ConfirmedAt)
	assert.True(t, tok.ConfirmedAt.Equal(confirmed))
}

func TestTokenRepository_CreateConflict(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+tokens\b`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Tokens().Create(context.Background(), &domain.Token{ID: "t1", UserID: "u1", Type: domain.TokenActivation, Value: "abc"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestTokenRepository_MarkUsedLosesRace(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)UPDATE\s+tokens\s+SET\s+used_at\s*=\s*\$2,\s*confirmed_at\s*=\s*COALESCE`).
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Tokens().MarkUsed(context.Background(), "t1", time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
}

func TestTokenRepository_CloseOpen(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)UPDATE\s+tokens\s+SET\s+used_at\s*=\s*\$3`).
		WithArgs("u1", "EMAIL_CHANGE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.Tokens().CloseOpen(context.Background(), "u1", domain.TokenEmailChange, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestClock_UsesDatabaseTime(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	serverNow := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT now\(\)`).WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(serverNow))
	mock.ExpectQuery(`SELECT now\(\)`).WillReturnError(errors.New("db down"))

	clock := NewClock(db, zerolog.Nop())
	assert.True(t, clock.Now(context.Background()).Equal(serverNow))
	assert.False(t, clock.Now(context.Background()).IsZero(), "falls back to local time")
}

func TestMigrate_UsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUp
	defer func() { gooseUp = orig }()

	var gotDir string
	gooseUp = func(_ context.Context, _ *sql.DB, dir string) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestFilterRepository_List(t *testing.T) {
	s, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"id", "filter_key", "label", "icon", "description", "examples"}).
		AddRow("f1", "bio", "Bio/Organic", "leaf", "organic", "cotton").
		AddRow("f4", "vegan", "Vegan", "sprout", "no animals", "plant leather")
	mock.ExpectQuery(`(?s)FROM\s+sustainability_filters\s+ORDER\s+BY\s+filter_key`).
		WillReturnRows(rows)

	filters, err := s.Filters().List(context.Background())
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "bio", filters[0].Key)
	assert.Equal(t, "sprout", filters[1].Icon)
}

func TestFilterRepository_FindByKeyUnknown(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+sustainability_filters\s+WHERE\s+filter_key\s*=\s*\$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Filters().FindByKey(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownFilter)
}

func TestPreferenceRepository_Upsert(t *testing.T) {
	s, mock := newStoreWithMock(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+user_preferences.*ON\s+CONFLICT\s+\(user_id,\s*filter_key\)`).
		WithArgs("u1", "vegan", "IMPORTANT", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Preferences().Upsert(context.Background(), &domain.Preference{
		UserID: "u1", FilterKey: "vegan", Importance: domain.ImportanceImportant, UpdatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepository_ListAndFind(t *testing.T) {
	s, mock := newStoreWithMock(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"user_id", "filter_key", "importance", "updated_at"}

	mock.ExpectQuery(`(?s)FROM\s+user_preferences\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+filter_key`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "bio", "SOMEWHAT_IMPORTANT", at).
			AddRow("u1", "vegan", "VERY_IMPORTANT", at))
	mock.ExpectQuery(`(?s)FROM\s+user_preferences\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+filter_key\s*=\s*\$2`).
		WithArgs("u1", "local").
		WillReturnError(sql.ErrNoRows)

	prefs, err := s.Preferences().ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, domain.ImportanceVeryImportant, prefs[1].Importance)

	_, err = s.Preferences().Find(context.Background(), "u1", "local")
	assert.ErrorIs(t, err, domain.ErrPreferenceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepository_DeleteReportsRemoval(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)DELETE\s+FROM\s+user_preferences`).
		WithArgs("u1", "vegan").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+user_preferences`).
		WithArgs("u1", "vegan").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := s.Preferences().Delete(context.Background(), "u1", "vegan")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Preferences().Delete(context.Background(), "u1", "vegan")
	require.NoError(t, err)
	assert.False(t, removed)
}
