package ports

import (
	"context"
	"time"

	"github.com/elysion/user-service/internal/core/domain"
)

// MailNotifier delivers tokens out-of-band. Delivery is best effort: failures
// are logged by the implementation and never reach the caller.
type MailNotifier interface {
	NotifyActivation(ctx context.Context, user *domain.User, token *domain.Token)
	NotifyEmailChange(ctx context.Context, user *domain.User, token *domain.Token)
}

// CooldownGuard grants a key at most once per ttl across all instances.
// Release hands a key back early when the guarded work did not happen.
type CooldownGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Clock is the time source for expiry and throttling decisions.
type Clock interface {
	Now(ctx context.Context) time.Time
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func(ctx context.Context) time.Time

func (f ClockFunc) Now(ctx context.Context) time.Time { return f(ctx) }

// SystemClock reads the local wall clock in UTC.
var SystemClock Clock = ClockFunc(func(context.Context) time.Time { return time.Now().UTC() })
