package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/model"
)

// Decision is the cooldown gate's verdict
type Decision struct {
	Allowed          bool
	RemainingSeconds int
	// Cooldown is the window the ledger enforces again when it records the
	// scan; zero for anonymous identities
	Cooldown time.Duration
}

// CooldownGate decides whether a scan is currently permitted for an identity
type CooldownGate struct {
	dir         BusinessDirectory
	memberships MembershipStore
	logger      *zap.Logger
}

// NewCooldownGate creates a gate
func NewCooldownGate(dir BusinessDirectory, memberships MembershipStore, logger *zap.Logger) *CooldownGate {
	return &CooldownGate{dir: dir, memberships: memberships, logger: logger}
}

// Check applies the business cooldown to the identity's last scan. Anonymous
// identities have no stable key to track across devices and are always
// allowed. For authenticated identities any read failure denies the scan.
func (g *CooldownGate) Check(ctx context.Context, businessID string, identity model.Identity, now time.Time) (Decision, error) {
	if identity.Anonymous() {
		return Decision{Allowed: true}, nil
	}

	b, err := g.dir.GetBusiness(ctx, businessID)
	if err != nil {
		g.logger.Error("Cooldown gate cannot read business, denying scan",
			zap.String("business_id", businessID), zap.Stringer("identity", identity), zap.Error(err))
		return Decision{}, newError(KindDependencyUnavailable, err)
	}
	cooldown := b.Cooldown()
	if cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}

	m, err := g.memberships.GetMembershipByIdentity(ctx, businessID, identity.Key())
	if errors.Is(err, model.ErrNotFound) {
		return Decision{Allowed: true, Cooldown: cooldown}, nil
	}
	if err != nil {
		g.logger.Error("Cooldown gate cannot read scan history, denying scan",
			zap.String("business_id", businessID), zap.Stringer("identity", identity), zap.Error(err))
		return Decision{}, newError(KindDependencyUnavailable, err)
	}

	remaining := remainingSeconds(m.LastScanAt, cooldown, now)
	if remaining > 0 {
		return Decision{RemainingSeconds: remaining, Cooldown: cooldown}, nil
	}
	return Decision{Allowed: true, Cooldown: cooldown}, nil
}

// remainingSeconds is ceil(cooldown - elapsed) in seconds, or 0 when the
// window has passed
func remainingSeconds(lastScan *time.Time, cooldown time.Duration, now time.Time) int {
	if lastScan == nil {
		return 0
	}
	elapsed := now.Sub(*lastScan)
	if elapsed >= cooldown {
		return 0
	}
	return int(math.Ceil((cooldown - elapsed).Seconds()))
}
