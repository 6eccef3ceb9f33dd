package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/kkkkikiki/stampcard/internal/api"
	"github.com/kkkkikiki/stampcard/internal/engine"
	"github.com/kkkkikiki/stampcard/internal/model"
	"github.com/kkkkikiki/stampcard/internal/payload"
)

// BusinessRegistry stores new businesses
type BusinessRegistry interface {
	CreateBusiness(ctx context.Context, b *model.Business) error
}

// StampServer implements the stamp service
type StampServer struct {
	engine   *engine.Engine
	registry BusinessRegistry
	logger   *zap.Logger
}

// NewStampServer creates a new StampServer instance
func NewStampServer(eng *engine.Engine, registry BusinessRegistry, logger *zap.Logger) *StampServer {
	return &StampServer{engine: eng, registry: registry, logger: logger}
}

// CreateBusiness registers a business and returns the payload for its QR code
func (s *StampServer) CreateBusiness(
	ctx context.Context,
	req *connect.Request[api.CreateBusinessRequest],
) (*connect.Response[api.CreateBusinessResponse], error) {
	b := req.Msg.Business.ToModel()
	if err := validateBusiness(b); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CooldownMinutes == 0 {
		b.CooldownMinutes = model.DefaultCooldownMinutes
	}
	if b.MaxStamps == 0 {
		b.MaxStamps = model.DefaultMaxStamps
	}

	if err := s.registry.CreateBusiness(ctx, b); err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to create business: %w", err))
	}
	s.logger.Info("Business created", zap.String("business_id", b.ID), zap.String("slug", b.Slug))

	out := toAPIBusiness(b)
	qr := payload.Payload{BusinessID: b.ID, BusinessNumericID: out.NumericID}
	return connect.NewResponse(&api.CreateBusinessResponse{
		Business:  out,
		QRPayload: qr.String(),
	}), nil
}

// Scan awards stamps for a decoded QR payload
func (s *StampServer) Scan(
	ctx context.Context,
	req *connect.Request[api.ScanRequest],
) (*connect.Response[api.ScanResponse], error) {
	now := time.Now()
	res, err := s.engine.Scan(ctx, engine.ScanRequest{
		Payload:      req.Msg.Payload,
		Identity:     req.Msg.Identity.ToModel(),
		Now:          now,
		ReferralCode: req.Msg.ReferralCode,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&api.ScanResponse{
		BusinessID:    res.BusinessID,
		MembershipID:  res.MembershipID,
		StampsAwarded: res.StampsAwarded,
		NewStamps:     res.NewStamps,
		NewTotal:      res.NewTotal,
		MaxStamps:     res.MaxStamps,
		Joined:        res.Joined,
		ScannedAt:     api.NewTime(now),
	}), nil
}

// Redeem completes a reward cycle
func (s *StampServer) Redeem(
	ctx context.Context,
	req *connect.Request[api.RedeemRequest],
) (*connect.Response[api.RedeemResponse], error) {
	count, err := s.engine.Redeem(ctx, req.Msg.MembershipID)
	if err != nil {
		return nil, toConnectError(err)
	}
	m, err := s.engine.Membership(ctx, req.Msg.MembershipID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.RedeemResponse{
		RedeemedRewards: count,
		Membership:      api.FromMembership(m),
	}), nil
}

// Join creates a membership without scanning
func (s *StampServer) Join(
	ctx context.Context,
	req *connect.Request[api.JoinRequest],
) (*connect.Response[api.JoinResponse], error) {
	m, created, err := s.engine.Join(ctx, req.Msg.BusinessID, req.Msg.Identity.ToModel(), req.Msg.ReferralCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.JoinResponse{
		Membership: api.FromMembership(m),
		Created:    created,
	}), nil
}

// GetMembership returns a membership card
func (s *StampServer) GetMembership(
	ctx context.Context,
	req *connect.Request[api.GetMembershipRequest],
) (*connect.Response[api.GetMembershipResponse], error) {
	m, err := s.engine.Membership(ctx, req.Msg.MembershipID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetMembershipResponse{Membership: api.FromMembership(m)}), nil
}

// GetBusinessStats returns dashboard aggregates
func (s *StampServer) GetBusinessStats(
	ctx context.Context,
	req *connect.Request[api.GetBusinessStatsRequest],
) (*connect.Response[api.GetBusinessStatsResponse], error) {
	stats, err := s.engine.Stats(ctx, req.Msg.BusinessID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetBusinessStatsResponse{Stats: api.FromStats(stats)}), nil
}

var kindCodes = map[engine.Kind]connect.Code{
	engine.KindInvalidPayload:        connect.CodeInvalidArgument,
	engine.KindBusinessNotFound:      connect.CodeNotFound,
	engine.KindDependencyUnavailable: connect.CodeUnavailable,
	engine.KindCaptureUnavailable:    connect.CodeUnavailable,
	engine.KindDuplicateSubmission:   connect.CodeAborted,
	engine.KindCooldownActive:        connect.CodeResourceExhausted,
	engine.KindMembershipNotFound:    connect.CodeNotFound,
	engine.KindRewardNotReady:        connect.CodeFailedPrecondition,
}

// toConnectError maps engine failures to RPC codes. Cooldown denials carry
// the remaining wait as a Duration detail.
func toConnectError(err error) error {
	code, ok := kindCodes[engine.KindOf(err)]
	if !ok {
		return connect.NewError(connect.CodeInternal, err)
	}
	cerr := connect.NewError(code, err)
	if code == connect.CodeResourceExhausted {
		wait := time.Duration(engine.RemainingSeconds(err)) * time.Second
		if detail, derr := connect.NewErrorDetail(durationpb.New(wait)); derr == nil {
			cerr.AddDetail(detail)
		}
	}
	return cerr
}

// RetryAfter extracts the cooldown wait from a Scan error returned by a
// client, or 0 if the error is not a cooldown denial
func RetryAfter(err error) time.Duration {
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Code() != connect.CodeResourceExhausted {
		return 0
	}
	for _, d := range cerr.Details() {
		v, derr := d.Value()
		if derr != nil {
			continue
		}
		if dur, ok := v.(*durationpb.Duration); ok {
			return dur.AsDuration()
		}
	}
	return 0
}

func validateBusiness(b *model.Business) error {
	if strings.TrimSpace(b.Slug) == "" {
		return errors.New("slug is required")
	}
	if b.ID != "" {
		if _, err := uuid.Parse(b.ID); err != nil {
			return fmt.Errorf("malformed id %q", b.ID)
		}
	}
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", b.Timezone)
		}
	}
	if b.CooldownMinutes < 0 || b.MaxStamps < 0 || b.WelcomeStamps < 0 ||
		b.ReferralBonusPoints < 0 || b.RefereeBonusPoints < 0 {
		return errors.New("counts must not be negative")
	}
	for i, p := range b.BonusPeriods {
		if !p.Valid() {
			return fmt.Errorf("bonus period %d is malformed", i)
		}
	}
	return nil
}

func toAPIBusiness(b *model.Business) api.Business {
	return api.Business{
		ID:                   b.ID,
		NumericID:            payload.EncodeNumericSurrogate(b.ID),
		Slug:                 b.Slug,
		Name:                 b.Name,
		Timezone:             b.Timezone,
		CooldownMinutes:      b.CooldownMinutes,
		MaxStamps:            b.MaxStamps,
		BonusPeriods:         b.BonusPeriods,
		WelcomeStampsEnabled: b.WelcomeStampsEnabled,
		WelcomeStamps:        b.WelcomeStamps,
		ReferralEnabled:      b.ReferralEnabled,
		ReferralBonusPoints:  b.ReferralBonusPoints,
		RefereeBonusPoints:   b.RefereeBonusPoints,
		CreatedAt:            api.NewTime(b.CreatedAt),
	}
}
