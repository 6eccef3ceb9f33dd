package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BonusResolver computes how many stamps a scan is worth
type BonusResolver struct {
	dir    BusinessDirectory
	logger *zap.Logger
}

// NewBonusResolver creates a bonus resolver over dir
func NewBonusResolver(dir BusinessDirectory, logger *zap.Logger) *BonusResolver {
	return &BonusResolver{dir: dir, logger: logger}
}

// StampsFor returns the stamps for a scan at now, never less than 1. The
// business's bonus periods are checked in their configured order and the
// first one covering now wins; there is no priority field. If the business
// cannot be read the scan is worth the base stamp.
func (r *BonusResolver) StampsFor(ctx context.Context, businessID string, now time.Time) int {
	b, err := r.dir.GetBusiness(ctx, businessID)
	if err != nil {
		r.logger.Warn("Bonus periods unavailable, awarding base stamp",
			zap.String("business_id", businessID), zap.Error(err))
		return 1
	}

	local := now.In(b.Location())
	for _, p := range b.BonusPeriods {
		if !p.Valid() {
			r.logger.Warn("Skipping malformed bonus period",
				zap.String("business_id", businessID), zap.String("period_id", p.ID))
			continue
		}
		if p.ActiveAt(local) {
			return p.Stamps()
		}
	}
	return 1
}
