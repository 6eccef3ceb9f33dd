package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/model"
	"github.com/kkkkikiki/stampcard/internal/payload"
)

// BusinessResolver maps a parsed payload to a canonical business
type BusinessResolver struct {
	dir    BusinessDirectory
	logger *zap.Logger
}

// NewBusinessResolver creates a resolver over dir
func NewBusinessResolver(dir BusinessDirectory, logger *zap.Logger) *BusinessResolver {
	return &BusinessResolver{dir: dir, logger: logger}
}

// Resolve returns the business named by p. A UUID is looked up by primary
// key. A numeric surrogate cannot be inverted, so every business is
// enumerated and its surrogate recomputed until one matches; on a surrogate
// collision the first business in directory order wins.
func (r *BusinessResolver) Resolve(ctx context.Context, p payload.Payload) (*model.Business, error) {
	if err := p.Validate(); err != nil {
		return nil, newError(KindInvalidPayload, err)
	}

	if p.HasUUID() {
		b, err := r.dir.GetBusiness(ctx, p.BusinessID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, newError(KindBusinessNotFound, fmt.Errorf("business %s", p.BusinessID))
		}
		if err != nil {
			r.logger.Error("Business lookup failed", zap.String("business_id", p.BusinessID), zap.Error(err))
			return nil, newError(KindDependencyUnavailable, err)
		}
		return b, nil
	}

	businesses, err := r.dir.ListBusinesses(ctx)
	if err != nil {
		r.logger.Error("Business enumeration failed", zap.Error(err))
		return nil, newError(KindDependencyUnavailable, err)
	}
	for i := range businesses {
		if payload.EncodeNumericSurrogate(businesses[i].ID) == p.BusinessNumericID {
			return &businesses[i], nil
		}
	}
	return nil, newError(KindBusinessNotFound, fmt.Errorf("numeric id %s", p.BusinessNumericID))
}
