package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
	"github.com/elysion/user-service/internal/pkg/metrics"
)

// IdentityPolicy holds the expiry and throttling windows.
type IdentityPolicy struct {
	ActivationTokenTTL  time.Duration
	EmailChangeTokenTTL time.Duration
	ResendCooldown      time.Duration
	IdentExchangeWindow time.Duration
}

// DefaultIdentityPolicy returns the production windows.
func DefaultIdentityPolicy() IdentityPolicy {
	return IdentityPolicy{
		ActivationTokenTTL:  24 * time.Hour,
		EmailChangeTokenTTL: 24 * time.Hour,
		ResendCooldown:      15 * time.Minute,
		IdentExchangeWindow: 15 * time.Minute,
	}
}

// IdentityDeps are the collaborators of IdentityService. Guard and Clock are
// optional.
type IdentityDeps struct {
	Store    ports.Store
	Hasher   *CredentialHasher
	Ledger   *TokenLedger
	Sessions *SessionIssuer
	Notifier ports.MailNotifier
	Guard    ports.CooldownGuard
	Clock    ports.Clock
}

// IdentityService implements the account lifecycle: registration, double
// opt-in, credential rotation, role promotion and session issuance.
type IdentityService struct {
	store    ports.Store
	hasher   *CredentialHasher
	ledger   *TokenLedger
	sessions *SessionIssuer
	notifier ports.MailNotifier
	guard    ports.CooldownGuard
	clock    ports.Clock
	policy   IdentityPolicy
	log      zerolog.Logger
}

// NewIdentityService returns an IdentityService implementation.
func NewIdentityService(deps IdentityDeps, policy IdentityPolicy, log zerolog.Logger) *IdentityService {
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock
	}
	return &IdentityService{
		store:    deps.Store,
		hasher:   deps.Hasher,
		ledger:   deps.Ledger,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		guard:    deps.Guard,
		clock:    clock,
		policy:   policy,
		log:      log,
	}
}

var _ ports.IdentityService = (*IdentityService)(nil)

// Register creates an inactive account and sends its activation token.
func (s *IdentityService) Register(ctx context.Context, in ports.RegisterInput) (user *domain.User, err error) {
	defer s.observe("register", time.Now(), &err)

	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return nil, domain.ErrInvalidInput
	}

	// Fast path for a friendly error; the store's address claims are
	// authoritative.
	if err := s.ensureEmailFree(ctx, "", email); err != nil {
		if errors.Is(err, domain.ErrEmailInUse) {
			return nil, err
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	salt, hash, err := s.newCredentials(in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	now := s.clock.Now(ctx)
	user = &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         domain.RoleUser,
		Active:       false,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var token *domain.Token
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Users().Create(ctx, user); err != nil {
			return err
		}
		t, err := s.ledger.Issue(ctx, user.ID, domain.TokenActivation)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(domain.TokenActivation)).Inc()
	s.notifier.NotifyActivation(ctx, user, token)

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// ConfirmEmail activates the owner of an open activation token. The token is
// confirmed, not used, so it can still be exchanged once for a session.
func (s *IdentityService) ConfirmEmail(ctx context.Context, rawToken string) (user *domain.User, err error) {
	defer s.observe("confirm_email", time.Now(), &err)

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.ledger.Confirm(ctx, rawToken, domain.TokenActivation, s.policy.ActivationTokenTTL)
		if err != nil {
			return err
		}
		u, err := s.store.Users().FindByID(ctx, t.UserID)
		if err != nil {
			return err
		}
		if !u.Active {
			u.Active = true
			u.UpdatedAt = *t.ConfirmedAt
			if err := s.store.Users().Update(ctx, u); err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm email: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("email confirmed")
	return user, nil
}

// ResendActivation issues a fresh activation token for an inactive account,
// at most once per cooldown window.
func (s *IdentityService) ResendActivation(ctx context.Context, email string) (err error) {
	defer s.observe("resend_activation", time.Now(), &err)

	u, err := s.store.Users().FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("resend activation: %w", err)
	}
	if u.Active {
		return domain.ErrAlreadyActive
	}

	now := s.clock.Now(ctx)
	last, err := s.ledger.Latest(ctx, u.ID, domain.TokenActivation)
	switch {
	case err == nil:
		if now.Sub(last.CreatedAt) < s.policy.ResendCooldown {
			return domain.ErrThrottled
		}
	case !errors.Is(err, domain.ErrInvalidToken):
		return fmt.Errorf("resend activation: %w", err)
	}

	// The guard closes the window between the check above and the issuance
	// below for concurrent requests. If it is unreachable the store check
	// still applies.
	guardKey := "resend-activation:" + u.ID
	acquired := false
	if s.guard != nil {
		ok, gerr := s.guard.Acquire(ctx, guardKey, s.policy.ResendCooldown)
		switch {
		case gerr != nil:
			s.log.Warn().Err(gerr).Str("user_id", u.ID).Msg("cooldown guard failed, relying on store check")
		case !ok:
			return domain.ErrThrottled
		default:
			acquired = true
		}
	}

	token, err := s.ledger.Issue(ctx, u.ID, domain.TokenActivation)
	if err != nil {
		if acquired {
			if rerr := s.guard.Release(ctx, guardKey); rerr != nil {
				s.log.Warn().Err(rerr).Str("user_id", u.ID).Msg("cooldown guard release failed")
			}
		}
		return fmt.Errorf("resend activation: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(domain.TokenActivation)).Inc()
	s.notifier.NotifyActivation(ctx, u, token)

	s.log.Info().Str("user_id", u.ID).Msg("activation token reissued")
	return nil
}

// Authenticate checks email and password. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (user *domain.User, err error) {
	defer s.observe("authenticate", time.Now(), &err)
	return s.authenticate(ctx, email, password)
}

func (s *IdentityService) authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	u, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !s.hasher.Verify(password, u.PasswordSalt, u.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.Active {
		return nil, domain.ErrNotActivated
	}
	return u, nil
}

// Login authenticates and issues a signed session.
func (s *IdentityService) Login(ctx context.Context, email, password string) (session *ports.Session, err error) {
	defer s.observe("login", time.Now(), &err)

	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	metrics.SessionsIssuedTotal.WithLabelValues("password").Inc()
	s.log.Info().Str("user_id", u.ID).Msg("session issued")
	return &ports.Session{Token: token, User: u}, nil
}

// LoginWithIdentToken exchanges a confirmed activation token for a session,
// exactly once and only within the exchange window after confirmation.
func (s *IdentityService) LoginWithIdentToken(ctx context.Context, rawToken string) (session *ports.Session, err error) {
	defer s.observe("login_ident", time.Now(), &err)

	var user *domain.User
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.ledger.Consume(ctx, rawToken, domain.TokenActivation, s.policy.IdentExchangeWindow)
		if err != nil {
			return err
		}
		u, err := s.store.Users().FindByID(ctx, t.UserID)
		if err != nil {
			return err
		}
		if !u.Active {
			return domain.ErrNotActivated
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("login with ident token: %w", err)
	}

	token, err := s.sessions.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("login with ident token: %w", err)
	}

	metrics.SessionsIssuedTotal.WithLabelValues("ident_token").Inc()
	s.log.Info().Str("user_id", user.ID).Msg("ident token exchanged for session")
	return &ports.Session{Token: token, User: user}, nil
}

// ChangeEmail parks newEmail as pending and sends a confirmation token to it.
func (s *IdentityService) ChangeEmail(ctx context.Context, userID, newEmail string) (err error) {
	defer s.observe("change_email", time.Now(), &err)

	newEmail = strings.TrimSpace(newEmail)
	if newEmail == "" {
		return domain.ErrInvalidInput
	}

	var (
		user  *domain.User
		token *domain.Token
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.store.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.ensureEmailFree(ctx, u.ID, newEmail); err != nil {
			return err
		}

		u.PendingEmail = &newEmail
		u.UpdatedAt = s.clock.Now(ctx)
		if err := s.store.Users().Update(ctx, u); err != nil {
			return err
		}

		t, err := s.ledger.Issue(ctx, u.ID, domain.TokenEmailChange)
		if err != nil {
			return err
		}
		user, token = u, t
		return nil
	})
	if err != nil {
		return fmt.Errorf("change email: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(domain.TokenEmailChange)).Inc()
	s.notifier.NotifyEmailChange(ctx, user, token)

	s.log.Info().Str("user_id", user.ID).Msg("email change requested")
	return nil
}

// ensureEmailFree rejects an address that is any user's primary email or
// another user's pending email. The same user may re-request its own pending
// address, which reissues the token. An empty userID matches no user.
func (s *IdentityService) ensureEmailFree(ctx context.Context, userID, email string) error {
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return domain.ErrEmailInUse
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}

	other, err := s.store.Users().FindByPendingEmail(ctx, email)
	switch {
	case err == nil && other.ID != userID:
		return domain.ErrEmailInUse
	case err != nil && !errors.Is(err, domain.ErrUserNotFound):
		return err
	}
	return nil
}

// ConfirmEmailChange swaps the pending email into the primary one and
// consumes the token, atomically.
func (s *IdentityService) ConfirmEmailChange(ctx context.Context, rawToken string) (user *domain.User, err error) {
	defer s.observe("confirm_email_change", time.Now(), &err)

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.ledger.ConsumeDirect(ctx, rawToken, domain.TokenEmailChange, s.policy.EmailChangeTokenTTL)
		if err != nil {
			return err
		}
		u, err := s.store.Users().FindByID(ctx, t.UserID)
		if err != nil {
			return err
		}
		if u.PendingEmail == nil {
			return domain.ErrInvalidToken
		}

		u.Email = *u.PendingEmail
		u.PendingEmail = nil
		u.UpdatedAt = *t.UsedAt
		if err := s.store.Users().Update(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm email change: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("email changed")
	return user, nil
}

// ChangePassword re-salts and re-hashes after verifying the current password.
// A failed verification leaves the stored credentials untouched.
func (s *IdentityService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (err error) {
	defer s.observe("change_password", time.Now(), &err)

	if newPassword == "" {
		return domain.ErrInvalidInput
	}

	u, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !s.hasher.Verify(currentPassword, u.PasswordSalt, u.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	salt, hash, err := s.newCredentials(newPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		fresh, err := s.store.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		// Another request rotated the password since we verified.
		if fresh.PasswordHash != u.PasswordHash {
			return domain.ErrConflict
		}
		fresh.PasswordSalt = salt
		fresh.PasswordHash = hash
		fresh.UpdatedAt = s.clock.Now(ctx)
		return s.store.Users().Update(ctx, fresh)
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("password changed")
	return nil
}

// UpdateProfile replaces the user's names.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID string, profile domain.Profile) (user *domain.User, err error) {
	defer s.observe("update_profile", time.Now(), &err)

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.store.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		u.FirstName = strings.TrimSpace(profile.FirstName)
		u.LastName = strings.TrimSpace(profile.LastName)
		u.UpdatedAt = s.clock.Now(ctx)
		if err := s.store.Users().Update(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// Me returns the caller's own account.
func (s *IdentityService) Me(ctx context.Context, userID string) (user *domain.User, err error) {
	defer s.observe("me", time.Now(), &err)

	user, err = s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return user, nil
}

// PromoteRole raises the target's role. Requests for an equal or lower role
// leave the account unchanged; roles never go down.
func (s *IdentityService) PromoteRole(ctx context.Context, targetID string, role domain.Role) (user *domain.User, err error) {
	defer s.observe("promote_role", time.Now(), &err)

	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		u, _, err := s.promote(ctx, targetID, role)
		user = u
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("promote role: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("role promoted")
	return user, nil
}

// PromoteToAdmin requires the acting admin to re-prove their own password
// before promoting the target, and records the change in the audit trail.
func (s *IdentityService) PromoteToAdmin(ctx context.Context, actorID, targetID, actorPassword string) (user *domain.User, err error) {
	defer s.observe("promote_admin", time.Now(), &err)

	actor, err := s.store.Users().FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrReauthFailed
		}
		return nil, fmt.Errorf("promote to admin: %w", err)
	}
	if !s.hasher.Verify(actorPassword, actor.PasswordSalt, actor.PasswordHash) {
		s.log.Warn().Str("actor_id", actorID).Str("target_id", targetID).Msg("step-up reauthentication failed")
		return nil, domain.ErrReauthFailed
	}
	if actor.Role != domain.RoleAdmin || !actor.Active {
		return nil, domain.ErrForbidden
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		u, from, err := s.promote(ctx, targetID, domain.RoleAdmin)
		if err != nil {
			return err
		}
		user = u
		if from == u.Role {
			return nil
		}
		return s.store.Audit().Insert(ctx, &domain.AuditRecord{
			ID:       uuid.NewString(),
			ActorID:  actor.ID,
			TargetID: u.ID,
			Action:   domain.AuditPromoteRole,
			FromRole: from,
			ToRole:   u.Role,
			At:       u.UpdatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("promote to admin: %w", err)
	}

	s.log.Info().Str("actor_id", actor.ID).Str("target_id", user.ID).Msg("user promoted to admin")
	return user, nil
}

// promote must run inside a transaction. It returns the user and its role
// before the change.
func (s *IdentityService) promote(ctx context.Context, targetID string, role domain.Role) (*domain.User, domain.Role, error) {
	u, err := s.store.Users().FindByID(ctx, targetID)
	if err != nil {
		return nil, "", err
	}
	if !u.Active {
		return nil, "", domain.ErrNotActivated
	}

	from := u.Role
	if !role.Outranks(from) {
		return u, from, nil
	}
	u.Role = role
	u.UpdatedAt = s.clock.Now(ctx)
	if err := s.store.Users().Update(ctx, u); err != nil {
		return nil, "", err
	}
	return u, from, nil
}

func (s *IdentityService) newCredentials(password string) (salt, hash string, err error) {
	salt, err = s.hasher.NewSalt()
	if err != nil {
		return "", "", err
	}
	hash, err = s.hasher.Hash(password, salt)
	if err != nil {
		return "", "", err
	}
	return salt, hash, nil
}

func (s *IdentityService) observe(operation string, start time.Time, err *error) {
	observeOperation(operation, start, err)
}

func observeOperation(operation string, start time.Time, err *error) {
	metrics.OperationsTotal.WithLabelValues(operation, domain.Kind(*err)).Inc()
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
