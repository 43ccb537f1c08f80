// Package memory is an in-process Store used for local development and tests.
// It enforces the same uniqueness rules as the database adapters and runs
// transactions serially under one lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
)

type state struct {
	users  map[string]*domain.User
	tokens []*domain.Token
	audit  []*domain.AuditRecord
	// prefs is keyed by user ID, then filter key.
	prefs map[string]map[string]domain.Preference
}

func newState() *state {
	return &state{
		users: make(map[string]*domain.User),
		prefs: make(map[string]map[string]domain.Preference),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:  make(map[string]*domain.User, len(s.users)),
		tokens: make([]*domain.Token, 0, len(s.tokens)),
		audit:  make([]*domain.AuditRecord, len(s.audit)),
	}
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for _, t := range s.tokens {
		c.tokens = append(c.tokens, t.Clone())
	}
	copy(c.audit, s.audit)
	c.prefs = make(map[string]map[string]domain.Preference, len(s.prefs))
	for userID, byKey := range s.prefs {
		cp := make(map[string]domain.Preference, len(byKey))
		for k, p := range byKey {
			cp[k] = p
		}
		c.prefs[userID] = cp
	}
	return c
}

type txKey struct{}

type tx struct {
	owner *Store
	st    *state
}

// Store keeps users, tokens, audit records and preferences in memory. The
// filter catalogue is fixed at construction.
type Store struct {
	mu sync.Mutex
	st *state

	users   *UserRepository
	tokens  *TokenRepository
	audit   *AuditRepository
	filters *FilterRepository
	prefs   *PreferenceRepository
}

// NewStore returns a Store with no accounts and the default filter catalogue.
func NewStore() *Store {
	s := &Store{st: newState()}
	s.users = &UserRepository{store: s}
	s.tokens = &TokenRepository{store: s}
	s.audit = &AuditRepository{store: s}
	s.filters = NewFilterRepository(domain.DefaultFilters)
	s.prefs = &PreferenceRepository{store: s}
	return s
}

var _ ports.Store = (*Store)(nil)

func (s *Store) Users() ports.UserRepository   { return s.users }
func (s *Store) Tokens() ports.TokenRepository { return s.tokens }
func (s *Store) Audit() ports.AuditRepository  { return s.audit }

func (s *Store) Filters() ports.FilterRepository         { return s.filters }
func (s *Store) Preferences() ports.PreferenceRepository { return s.prefs }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// WithinTx runs fn against a private copy of the data and publishes it only
// when fn succeeds. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok && t.owner == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{owner: s, st: s.st.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

// run hands fn the transaction state when ctx carries one, or the committed
// state under the lock otherwise.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok && t.owner == s {
		return fn(t.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// UserRepository is the in-memory ports.UserRepository.
type UserRepository struct {
	store *Store
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return r.store.run(ctx, func(st *state) error {
		if _, exists := st.users[user.ID]; exists {
			return domain.ErrConflict
		}
		if err := checkEmails(st, user); err != nil {
			return err
		}
		st.users[user.ID] = user.Clone()
		return nil
	})
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var found *domain.User
	err := r.store.run(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		found = u.Clone()
		return nil
	})
	return found, err
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findBy(ctx, func(u *domain.User) bool { return u.Email == email })
}

func (r *UserRepository) FindByPendingEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findBy(ctx, func(u *domain.User) bool {
		return u.PendingEmail != nil && *u.PendingEmail == email
	})
}

func (r *UserRepository) findBy(ctx context.Context, match func(*domain.User) bool) (*domain.User, error) {
	var found *domain.User
	err := r.store.run(ctx, func(st *state) error {
		for _, u := range st.users {
			if match(u) {
				found = u.Clone()
				return nil
			}
		}
		return domain.ErrUserNotFound
	})
	return found, err
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	return r.store.run(ctx, func(st *state) error {
		if _, ok := st.users[user.ID]; !ok {
			return domain.ErrUserNotFound
		}
		if err := checkEmails(st, user); err != nil {
			return err
		}
		st.users[user.ID] = user.Clone()
		return nil
	})
}

// checkEmails keeps every address claimed by at most one user: an address is
// claimed as a primary or as a pending email.
func checkEmails(st *state, user *domain.User) error {
	claims := claimed(user)
	for id, other := range st.users {
		if id == user.ID {
			continue
		}
		for _, theirs := range claimed(other) {
			for _, ours := range claims {
				if theirs == ours {
					return domain.ErrEmailInUse
				}
			}
		}
	}
	return nil
}

func claimed(u *domain.User) []string {
	if u.PendingEmail == nil {
		return []string{u.Email}
	}
	return []string{u.Email, *u.PendingEmail}
}

// TokenRepository is the in-memory ports.TokenRepository.
type TokenRepository struct {
	store *Store
}

func (r *TokenRepository) Create(ctx context.Context, token *domain.Token) error {
	return r.store.run(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.ID == token.ID || t.Value == token.Value {
				return domain.ErrConflict
			}
			if t.Open() && t.UserID == token.UserID && t.Type == token.Type {
				return domain.ErrConflict
			}
		}
		st.tokens = append(st.tokens, token.Clone())
		return nil
	})
}

func (r *TokenRepository) FindOpen(ctx context.Context, value string, typ domain.TokenType) (*domain.Token, error) {
	var found *domain.Token
	err := r.store.run(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.Open() && t.Type == typ && domain.NormalizeTokenValue(t.Value) == value {
				found = t.Clone()
				return nil
			}
		}
		return domain.ErrInvalidToken
	})
	return found, err
}

func (r *TokenRepository) FindLatest(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error) {
	var found *domain.Token
	err := r.store.run(ctx, func(st *state) error {
		var matches []*domain.Token
		for _, t := range st.tokens {
			if t.UserID == userID && t.Type == typ {
				matches = append(matches, t)
			}
		}
		if len(matches) == 0 {
			return domain.ErrInvalidToken
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		})
		found = matches[0].Clone()
		return nil
	})
	return found, err
}

func (r *TokenRepository) CloseOpen(ctx context.Context, userID string, typ domain.TokenType, at time.Time) (int64, error) {
	var n int64
	err := r.store.run(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.Open() && t.UserID == userID && t.Type == typ {
				used := at
				t.UsedAt = &used
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *TokenRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	return r.mark(ctx, id, func(t *domain.Token) error {
		if !t.Open() || t.Confirmed() {
			return domain.ErrAlreadyUsed
		}
		confirmed := at
		t.ConfirmedAt = &confirmed
		return nil
	})
}

func (r *TokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return r.mark(ctx, id, func(t *domain.Token) error {
		if !t.Open() {
			return domain.ErrAlreadyUsed
		}
		used := at
		t.UsedAt = &used
		if t.ConfirmedAt == nil {
			confirmed := at
			t.ConfirmedAt = &confirmed
		}
		return nil
	})
}

func (r *TokenRepository) mark(ctx context.Context, id string, apply func(*domain.Token) error) error {
	return r.store.run(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.ID == id {
				return apply(t)
			}
		}
		return domain.ErrInvalidToken
	})
}

// AuditRepository is the in-memory ports.AuditRepository.
type AuditRepository struct {
	store *Store
}

func (r *AuditRepository) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	return r.store.run(ctx, func(st *state) error {
		c := *rec
		st.audit = append(st.audit, &c)
		return nil
	})
}

// Records returns a copy of the audit trail in insertion order.
func (r *AuditRepository) Records(ctx context.Context) []domain.AuditRecord {
	var out []domain.AuditRecord
	_ = r.store.run(ctx, func(st *state) error {
		for _, rec := range st.audit {
			out = append(out, *rec)
		}
		return nil
	})
	return out
}
