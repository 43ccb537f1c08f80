// Package postgres implements the store on PostgreSQL through database/sql
// and the pgx driver. Schema changes are applied with goose from embedded
// migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/ports"
	"github.com/elysion/user-service/internal/infrastructure/db/postgres/migrations"
)

const (
	defaultTimeout      = 5 * time.Second
	uniqueViolationCode = "23505"
)

// DBTX is the subset of database/sql used by the repositories. Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects with the pgx driver and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type txKey struct{}

// Store implements ports.Store. The active *sql.Tx travels in the context so
// repositories join it transparently.
type Store struct {
	db *sql.DB

	users   *UserRepository
	tokens  *TokenRepository
	audit   *AuditRepository
	filters *FilterRepository
	prefs   *PreferenceRepository
}

func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.users = &UserRepository{store: s}
	s.tokens = &TokenRepository{store: s}
	s.audit = &AuditRepository{store: s}
	s.filters = &FilterRepository{store: s}
	s.prefs = &PreferenceRepository{store: s}
	return s
}

var _ ports.Store = (*Store)(nil)

func (s *Store) Users() ports.UserRepository   { return s.users }
func (s *Store) Tokens() ports.TokenRepository { return s.tokens }
func (s *Store) Audit() ports.AuditRepository  { return s.audit }

func (s *Store) Filters() ports.FilterRepository         { return s.filters }
func (s *Store) Preferences() ports.PreferenceRepository { return s.prefs }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithinTx begins a transaction, runs fn, then commits on success or rolls
// back on error or panic. Panics are rethrown. Nested calls join the outer
// transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	return err
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// Clock reads now() from the database so every instance shares one time source.
type Clock struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewClock(db *sql.DB, log zerolog.Logger) *Clock {
	return &Clock{db: db, log: log}
}

// Now falls back to the local clock when the query fails.
func (c *Clock) Now(ctx context.Context) time.Time {
	var now time.Time
	if err := c.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		c.log.Warn().Err(err).Msg("database clock unavailable, using local time")
		return time.Now().UTC()
	}
	return now.UTC()
}
