package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elysion/user-service/internal/core/domain"
)

const userColumns = `id, email, pending_email, password_hash, password_salt, role, active, first_name, last_name, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// UserRepository implements ports.UserRepository.
type UserRepository struct {
	store *Store
}

// Create inserts the user and claims its addresses in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	return r.store.WithinTx(ctx, func(ctx context.Context) error {
		_, err := r.store.conn(ctx).ExecContext(ctx, query,
			user.ID, user.Email, nullString(user.PendingEmail), user.PasswordHash, user.PasswordSalt,
			string(user.Role), user.Active, user.FirstName, user.LastName, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrEmailInUse
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return r.claimEmails(ctx, user)
	})
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) FindByPendingEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE pending_email = $1`, email)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.store.conn(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// Update replaces the user and moves its address claims in one transaction.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, pending_email = $3, password_hash = $4, password_salt = $5,
		    role = $6, active = $7, first_name = $8, last_name = $9, updated_at = $10
		WHERE id = $1
	`
	return r.store.WithinTx(ctx, func(ctx context.Context) error {
		res, err := r.store.conn(ctx).ExecContext(ctx, query,
			user.ID, user.Email, nullString(user.PendingEmail), user.PasswordHash, user.PasswordSalt,
			string(user.Role), user.Active, user.FirstName, user.LastName, user.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrEmailInUse
			}
			return fmt.Errorf("update user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		return r.claimEmails(ctx, user)
	})
}

// claimEmails leaves the user holding exactly its primary and pending
// addresses. An address held by another user maps to domain.ErrEmailInUse.
func (r *UserRepository) claimEmails(ctx context.Context, user *domain.User) error {
	release := `
		DELETE FROM email_claims
		WHERE user_id = $1 AND email <> $2 AND ($3::text IS NULL OR email <> $3)
	`
	if _, err := r.store.conn(ctx).ExecContext(ctx, release, user.ID, user.Email, nullString(user.PendingEmail)); err != nil {
		return fmt.Errorf("release email claims: %w", err)
	}

	claim := `
		INSERT INTO email_claims (email, user_id) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET user_id = EXCLUDED.user_id
		WHERE email_claims.user_id = EXCLUDED.user_id
	`
	addresses := []string{user.Email}
	if user.PendingEmail != nil && *user.PendingEmail != user.Email {
		addresses = append(addresses, *user.PendingEmail)
	}
	for _, email := range addresses {
		res, err := r.store.conn(ctx).ExecContext(ctx, claim, email, user.ID)
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}
		if n == 0 {
			return domain.ErrEmailInUse
		}
	}
	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u       domain.User
		pending sql.NullString
		role    string
	)
	err := row.Scan(&u.ID, &u.Email, &pending, &u.PasswordHash, &u.PasswordSalt,
		&role, &u.Active, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pending.Valid {
		u.PendingEmail = &pending.String
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

const tokenColumns = `id, user_id, type, value, created_at, confirmed_at, used_at`

// TokenRepository implements ports.TokenRepository.
type TokenRepository struct {
	store *Store
}

func (r *TokenRepository) Create(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.store.conn(ctx).ExecContext(ctx, query,
		t.ID, t.UserID, string(t.Type), t.Value, t.CreatedAt, nullTime(t.ConfirmedAt), nullTime(t.UsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// FindOpen locks the row until the surrounding transaction ends.
func (r *TokenRepository) FindOpen(ctx context.Context, value string, typ domain.TokenType) (*domain.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE lower(value) = $1 AND type = $2 AND used_at IS NULL
		FOR UPDATE
	`
	return r.findOne(ctx, query, value, string(typ))
}

func (r *TokenRepository) FindLatest(ctx context.Context, userID string, typ domain.TokenType) (*domain.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE user_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, userID, string(typ))
}

func (r *TokenRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Token, error) {
	var (
		t         domain.Token
		typ       string
		confirmed sql.NullTime
		used      sql.NullTime
	)
	err := r.store.conn(ctx).QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.UserID, &typ, &t.Value, &t.CreatedAt, &confirmed, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	t.Type = domain.TokenType(typ)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ConfirmedAt = timePtr(confirmed)
	t.UsedAt = timePtr(used)
	return &t, nil
}

func (r *TokenRepository) CloseOpen(ctx context.Context, userID string, typ domain.TokenType, at time.Time) (int64, error) {
	query := `
		UPDATE tokens SET used_at = $3
		WHERE user_id = $1 AND type = $2 AND used_at IS NULL
	`
	res, err := r.store.conn(ctx).ExecContext(ctx, query, userID, string(typ), at)
	if err != nil {
		return 0, fmt.Errorf("close open tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *TokenRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE tokens SET confirmed_at = $2
		WHERE id = $1 AND used_at IS NULL AND confirmed_at IS NULL
	`
	return r.conditional(ctx, query, id, at)
}

func (r *TokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE tokens SET used_at = $2, confirmed_at = COALESCE(confirmed_at, $2)
		WHERE id = $1 AND used_at IS NULL
	`
	return r.conditional(ctx, query, id, at)
}

// conditional maps a guarded update that matched nothing to
// domain.ErrAlreadyUsed.
func (r *TokenRepository) conditional(ctx context.Context, query string, id string, at time.Time) error {
	res, err := r.store.conn(ctx).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyUsed
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time.UTC()
	return &at
}

// AuditRepository implements ports.AuditRepository.
type AuditRepository struct {
	store *Store
}

func (r *AuditRepository) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
		INSERT INTO audit_log (id, actor_id, target_id, action, from_role, to_role, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.store.conn(ctx).ExecContext(ctx, query,
		rec.ID, rec.ActorID, rec.TargetID, string(rec.Action), string(rec.FromRole), string(rec.ToRole), rec.At)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
