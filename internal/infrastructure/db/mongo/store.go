package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

type txKey struct{}

// Store implements ports.Store on MongoDB. Multi-document transactions need a
// replica set; with transactions disabled each statement is still atomic and
// uniqueness is still enforced by the indexes from EnsureIndexes.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool

	users   *UserRepository
	tokens  *TokenRepository
	audit   *AuditRepository
	filters *FilterRepository
	prefs   *PreferenceRepository
}

// NewStore wires the repositories for db.
func NewStore(client *mongo.Client, db *mongo.Database, transactions bool) *Store {
	return &Store{
		client:       client,
		db:           db,
		transactions: transactions,
		users:        NewUserRepository(db),
		tokens:       NewTokenRepository(db),
		audit:        NewAuditRepository(db),
		filters:      NewFilterRepository(db),
		prefs:        NewPreferenceRepository(db),
	}
}

var _ ports.Store = (*Store)(nil)

func (s *Store) Users() ports.UserRepository   { return s.users }
func (s *Store) Tokens() ports.TokenRepository { return s.tokens }
func (s *Store) Audit() ports.AuditRepository  { return s.audit }

func (s *Store) Filters() ports.FilterRepository         { return s.filters }
func (s *Store) Preferences() ports.PreferenceRepository { return s.prefs }

// WithinTx runs fn in a session transaction. The driver retries fn on
// transient transaction errors, so fn must be idempotent. Nested calls join
// the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions || ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(context.WithValue(sc, txKey{}, true))
	})
	return err
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique and lookup indexes every repository relies
// on and seeds the filter catalogue.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}
	if err := s.tokens.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("token indexes: %w", err)
	}
	if err := s.audit.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("audit indexes: %w", err)
	}
	if err := s.filters.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("filter indexes: %w", err)
	}
	if err := s.prefs.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("preference indexes: %w", err)
	}
	if err := s.filters.Seed(ctx, domain.DefaultFilters); err != nil {
		return err
	}
	return nil
}

// ServerClock reads the time from the database server so that every instance
// agrees on expiry and cooldown decisions.
type ServerClock struct {
	db  *mongo.Database
	log zerolog.Logger
}

func NewServerClock(db *mongo.Database, log zerolog.Logger) *ServerClock {
	return &ServerClock{db: db, log: log}
}

const clockTimeout = 2 * time.Second

// Now falls back to the local clock when the server cannot be reached.
//
// hello is never sent on the caller's context: inside WithinTx that context
// carries the transaction session, and hello may not open a transaction.
func (c *ServerClock) Now(context.Context) time.Time {
	ctx, cancel := context.WithTimeout(context.Background(), clockTimeout)
	defer cancel()

	var reply struct {
		LocalTime time.Time `bson:"localTime"`
	}
	err := c.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply)
	if err != nil || reply.LocalTime.IsZero() {
		c.log.Warn().Err(err).Msg("server clock unavailable, using local time")
		return time.Now().UTC()
	}
	return reply.LocalTime.UTC()
}
