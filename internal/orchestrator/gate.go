package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"petdance/internal/domain"
	"petdance/internal/providers/billing"
)

// BillingClient is the slice of the billing API the gate depends on.
type BillingClient interface {
	GetSubscriber(ctx context.Context, userID string) (*billing.Subscriber, error)
	HasCredentials() bool
}

// Access is the gate's verdict for one user.
type Access struct {
	HasAccess bool
	Status    domain.SubscriptionStatus
}

// Gate decides paid access and free-tier quota. When no billing credential is
// configured at all it runs ungated, granting full access; that is a
// deliberate configuration state logged at construction, never a silent
// fallback.
type Gate struct {
	billing BillingClient
	jobs    domain.JobRepository
	users   domain.UserRepository
	limit   int
	ungated bool
	now     func() time.Time
	logger  zerolog.Logger
}

// NewGate constructs the subscription gate. billingClient may be nil or
// credential-less; both mean ungated mode.
func NewGate(billingClient BillingClient, jobs domain.JobRepository, users domain.UserRepository, freeDailyLimit int, logger zerolog.Logger) *Gate {
	ungated := billingClient == nil || !billingClient.HasCredentials()
	if ungated {
		logger.Warn().Msg("gate: no billing credential configured, running ungated with full access")
	}
	return &Gate{
		billing: billingClient,
		jobs:    jobs,
		users:   users,
		limit:   freeDailyLimit,
		ungated: ungated,
		now:     time.Now,
		logger:  logger,
	}
}

// Evaluate queries the billing vendor and reports whether the user holds paid
// access. A vendor failure fails closed for the paid check but is not fatal:
// the caller still permits the request when the free-tier quota allows it.
// The evaluated status is persisted onto the user record best-effort.
func (g *Gate) Evaluate(ctx context.Context, userID string) Access {
	if g.ungated {
		return Access{HasAccess: true, Status: domain.SubscriptionActive}
	}

	sub, err := g.billing.GetSubscriber(ctx, userID)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("gate: billing lookup failed, failing closed")
		return Access{HasAccess: false, Status: domain.SubscriptionNone}
	}

	access := Access{Status: domain.SubscriptionNone}
	if sub.HasAccess(g.now()) {
		access.HasAccess = true
		access.Status = domain.SubscriptionActive
		if sub.InTrial(g.now()) {
			access.Status = domain.SubscriptionTrial
		}
	}

	if err := g.users.SetSubscriptionStatus(ctx, userID, access.Status); err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("gate: failed to persist subscription status")
	}

	return access
}

// CheckQuota enforces the rolling 24-hour free-tier limit. Subscribed users
// are never limited. Only jobs that actually consumed inference capacity
// count, which is what CountStartedSince returns.
func (g *Gate) CheckQuota(ctx context.Context, userID string, access Access) error {
	if access.HasAccess {
		return nil
	}
	since := g.now().Add(-24 * time.Hour)
	count, err := g.jobs.CountStartedSince(ctx, userID, since)
	if err != nil {
		return err
	}
	if count >= g.limit {
		return domain.ErrQuotaExceeded
	}
	return nil
}
