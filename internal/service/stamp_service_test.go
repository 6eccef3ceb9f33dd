package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/api"
	"github.com/kkkkikiki/stampcard/internal/engine"
	"github.com/kkkkikiki/stampcard/internal/model"
	"github.com/kkkkikiki/stampcard/internal/repository"
)

func setupServer(t *testing.T, opts ...connect.HandlerOption) *api.StampServiceClient {
	t.Helper()
	store := repository.NewMemoryStore()
	eng := engine.New(store, zap.NewNop())
	mux := http.NewServeMux()
	path, handler := api.NewStampServiceHandler(NewStampServer(eng, store, zap.NewNop()), opts...)
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api.NewStampServiceClient(srv.Client(), srv.URL)
}

func createBusiness(t *testing.T, client *api.StampServiceClient, b api.Business) *api.CreateBusinessResponse {
	t.Helper()
	res, err := client.CreateBusiness(context.Background(), connect.NewRequest(&api.CreateBusinessRequest{Business: b}))
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	return res.Msg
}

func codeOf(err error) connect.Code {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Code()
	}
	return connect.CodeUnknown
}

func TestScanFlow(t *testing.T) {
	client := setupServer(t)
	ctx := context.Background()
	created := createBusiness(t, client, api.Business{Slug: "cafe", Name: "Cafe", MaxStamps: 2})

	if created.Business.CooldownMinutes != model.DefaultCooldownMinutes {
		t.Errorf("cooldown default not applied: %d", created.Business.CooldownMinutes)
	}
	if len(created.Business.NumericID) != 10 {
		t.Errorf("numeric id = %q", created.Business.NumericID)
	}

	// The printed numeric code resolves to the same business.
	res, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{
		Payload:  created.Business.NumericID,
		Identity: api.Identity{UserID: "u1"},
	}))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Msg.BusinessID != created.Business.ID || res.Msg.NewStamps != 1 || !res.Msg.Joined || res.Msg.ScannedAt.IsZero() {
		t.Errorf("unexpected scan response %+v", res.Msg)
	}

	_, err = client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: created.QRPayload, Identity: api.Identity{UserID: "u1"}}))
	if codeOf(err) != connect.CodeResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if wait := RetryAfter(err); wait <= 0 || wait > 2*time.Minute {
		t.Errorf("retry after = %s", wait)
	}

	_, err = client.Redeem(ctx, connect.NewRequest(&api.RedeemRequest{MembershipID: res.Msg.MembershipID}))
	if codeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("expected FailedPrecondition, got %v", err)
	}

	// A second identity scanning as anonymous is not rate-limited by cooldown.
	for i := 0; i < 2; i++ {
		if _, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: created.QRPayload, Identity: api.Identity{SessionID: "kiosk"}})); err != nil {
			t.Fatalf("anonymous scan %d: %v", i, err)
		}
	}

	stats, err := client.GetBusinessStats(ctx, connect.NewRequest(&api.GetBusinessStatsRequest{BusinessID: created.Business.ID}))
	if err != nil {
		t.Fatalf("GetBusinessStats: %v", err)
	}
	if stats.Msg.Stats.Members != 2 || stats.Msg.Stats.StampsLifetime != 3 {
		t.Errorf("unexpected stats %+v", stats.Msg.Stats)
	}
}

func TestRedeemAndMembership(t *testing.T) {
	client := setupServer(t)
	ctx := context.Background()
	created := createBusiness(t, client, api.Business{Slug: "bakery", MaxStamps: 3, WelcomeStampsEnabled: true, WelcomeStamps: 3})

	joined, err := client.Join(ctx, connect.NewRequest(&api.JoinRequest{BusinessID: created.Business.ID, Identity: api.Identity{UserID: "u1"}}))
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !joined.Msg.Created || joined.Msg.Membership.Stamps != 3 || joined.Msg.Membership.ReferralCode == "" {
		t.Errorf("unexpected join %+v", joined.Msg)
	}

	redeemed, err := client.Redeem(ctx, connect.NewRequest(&api.RedeemRequest{MembershipID: joined.Msg.Membership.ID}))
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if redeemed.Msg.RedeemedRewards != 1 || redeemed.Msg.Membership.Stamps != 0 || redeemed.Msg.Membership.TotalStampsCollected != 3 {
		t.Errorf("unexpected redeem %+v", redeemed.Msg)
	}

	got, err := client.GetMembership(ctx, connect.NewRequest(&api.GetMembershipRequest{MembershipID: joined.Msg.Membership.ID}))
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if got.Msg.Membership.RedeemedRewards != 1 {
		t.Errorf("unexpected membership %+v", got.Msg.Membership)
	}

	_, err = client.GetMembership(ctx, connect.NewRequest(&api.GetMembershipRequest{MembershipID: "00000000-0000-0000-0000-000000000000"}))
	if codeOf(err) != connect.CodeNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	client := setupServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		want    connect.Code
	}{
		{"garbage", "hello", connect.CodeInvalidArgument},
		{"empty", "", connect.CodeInvalidArgument},
		{"unknown uuid", `{"businessId":"123e4567-e89b-12d3-a456-426614174000"}`, connect.CodeNotFound},
		{"unknown numeric", "0000000001", connect.CodeNotFound},
		{"conflicting", `{"businessId":"123e4567-e89b-12d3-a456-426614174000","businessNumericId":"0000000001"}`, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: tt.payload, Identity: api.Identity{UserID: "u1"}}))
			if got := codeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}

	_, err := client.CreateBusiness(ctx, connect.NewRequest(&api.CreateBusinessRequest{Business: api.Business{
		Slug:         "bad",
		BonusPeriods: []model.BonusPeriod{{DayOfWeek: 1, StartTime: "9am", EndTime: "5pm", BonusType: model.BonusFixed, BonusValue: 1}},
	}}))
	if codeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("malformed bonus period: got %v", err)
	}
	_, err = client.CreateBusiness(ctx, connect.NewRequest(&api.CreateBusinessRequest{Business: api.Business{Slug: "tz", Timezone: "Mars/Olympus"}}))
	if codeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("bad timezone: got %v", err)
	}
}

func TestToConnectErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want connect.Code
	}{
		{engine.ErrInvalidPayload, connect.CodeInvalidArgument},
		{engine.ErrBusinessNotFound, connect.CodeNotFound},
		{engine.ErrDependencyUnavailable, connect.CodeUnavailable},
		{engine.ErrCaptureUnavailable, connect.CodeUnavailable},
		{engine.ErrDuplicateSubmission, connect.CodeAborted},
		{engine.ErrCooldownActive, connect.CodeResourceExhausted},
		{engine.ErrMembershipNotFound, connect.CodeNotFound},
		{engine.ErrRewardNotReady, connect.CodeFailedPrecondition},
		{errors.New("boom"), connect.CodeInternal},
	}
	for _, tt := range tests {
		if got := codeOf(toConnectError(tt.err)); got != tt.want {
			t.Errorf("%v: code = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestScanRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	client := setupServer(t, connect.WithInterceptors(limiter.Interceptor(zap.NewNop(), api.StampServiceScanProcedure)))
	ctx := context.Background()
	created := createBusiness(t, client, api.Business{Slug: "cafe"})

	for i := 0; i < 2; i++ {
		if _, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: created.QRPayload})); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}
	_, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: created.QRPayload}))
	if codeOf(err) != connect.CodeResourceExhausted || RetryAfter(err) != 0 {
		t.Errorf("expected rate limit denial, got %v", err)
	}

	// Other procedures are not limited.
	if _, err := client.GetBusinessStats(ctx, connect.NewRequest(&api.GetBusinessStatsRequest{BusinessID: created.Business.ID})); err != nil {
		t.Errorf("GetBusinessStats: %v", err)
	}
}

func TestScanRateLimitForwardedFor(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantDenied bool
	}{
		{"untrusted header is ignored", false, true},
		{"trusted proxy header keys buckets", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewIPRateLimiter(0.001, 2)
			limiter.TrustProxy = tt.trustProxy
			client := setupServer(t, connect.WithInterceptors(limiter.Interceptor(zap.NewNop(), api.StampServiceScanProcedure)))
			ctx := context.Background()
			created := createBusiness(t, client, api.Business{Slug: "cafe"})

			var lastErr error
			for i := 0; i < 3; i++ {
				req := connect.NewRequest(&api.ScanRequest{Payload: created.QRPayload})
				req.Header().Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
				_, lastErr = client.Scan(ctx, req)
			}
			denied := codeOf(lastErr) == connect.CodeResourceExhausted
			if denied != tt.wantDenied {
				t.Errorf("third scan denied = %v, want %v (%v)", denied, tt.wantDenied, lastErr)
			}
		})
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	clock := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 1)
	l.now = func() time.Time { return clock }

	if !l.Allow("10.0.0.1") || l.Allow("10.0.0.1") {
		t.Fatal("burst of one not enforced")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("addresses share a bucket")
	}

	clock = clock.Add(time.Minute)
	l.Allow("10.0.0.2")
	if removed := l.Sweep(30 * time.Second); removed != 1 {
		t.Errorf("swept %d, want 1", removed)
	}
	if !l.Allow("10.0.0.1") {
		t.Error("swept address should start with a full bucket")
	}
}
