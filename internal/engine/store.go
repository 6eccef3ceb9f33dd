package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kkkkikiki/stampcard/internal/model"
)

// BusinessDirectory resolves business records
type BusinessDirectory interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinesses(ctx context.Context) ([]model.Business, error)
}

// MembershipStore persists memberships. Every counter change is a single
// atomic increment inside the store; nothing here reads a counter and writes
// it back.
type MembershipStore interface {
	GetMembership(ctx context.Context, id string) (*model.Membership, error)
	GetMembershipByIdentity(ctx context.Context, businessID, identityKey string) (*model.Membership, error)
	CreateMembership(ctx context.Context, nm model.NewMembership) (*model.Membership, bool, error)
	AwardStamps(ctx context.Context, membershipID string, stamps int, scanAt time.Time, cooldown time.Duration) (model.AwardResult, error)
	Redeem(ctx context.Context, membershipID string, minStamps int, now time.Time) (int, error)
	CompleteFirstStamp(ctx context.Context, grant model.ReferralGrant) (model.ReferralOutcome, error)
	BusinessStats(ctx context.Context, businessID string, now time.Time) (*model.BusinessStats, error)
}

// Store is everything the engine needs from persistence
type Store interface {
	BusinessDirectory
	MembershipStore
}

// scanDirectory memoises GetBusiness for the duration of one scan so the
// components that each read the business by id share one lookup. Failed
// lookups are not memoised.
type scanDirectory struct {
	BusinessDirectory

	mu   sync.Mutex
	seen map[string]*model.Business
}

func newScanDirectory(dir BusinessDirectory) *scanDirectory {
	return &scanDirectory{BusinessDirectory: dir, seen: make(map[string]*model.Business)}
}

func (d *scanDirectory) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	d.mu.Lock()
	b, ok := d.seen[id]
	d.mu.Unlock()
	if ok {
		cp := *b
		return &cp, nil
	}

	b, err := d.BusinessDirectory.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.seen[id] = b
	d.mu.Unlock()
	cp := *b
	return &cp, nil
}

// remember seeds the memo with a record already loaded by the resolver
func (d *scanDirectory) remember(b *model.Business) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *b
	d.seen[b.ID] = &cp
}
