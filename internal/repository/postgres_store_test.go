package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/stampcard/internal/model"
)

const (
	testBusinessID   = "550e8400-e29b-41d4-a716-446655440000"
	testMembershipID = "6f1c2d1e-8b7a-4c3d-9e0f-112233445566"
	testReferrerID   = "7a2b3c4d-5e6f-4a1b-8c2d-aabbccddeeff"
)

var membershipRowColumns = []string{
	"id", "business_id", "identity_key", "stamps", "total_stamps_collected",
	"redeemed_rewards", "referral_code", "referred_by_code", "referral_bonus_awarded",
	"first_stamp_completed", "last_scan_at", "created_at", "updated_at",
}

func setupMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock")), mock
}

func counterRows(stamps, total, redeemed int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"stamps", "total_stamps_collected", "redeemed_rewards"}).
		AddRow(stamps, total, redeemed)
}

func TestBuildIncrement(t *testing.T) {
	scanAt := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	query, args := buildIncrement("m1", Increment{Stamps: 2, Total: 2, ScanAt: &scanAt, Cooldown: 2 * time.Minute}, scanAt)
	want := "UPDATE memberships SET updated_at = $2, stamps = stamps + $3, total_stamps_collected = total_stamps_collected + $4, last_scan_at = $5" +
		" WHERE id = $1 AND (last_scan_at IS NULL OR last_scan_at <= $6)" +
		" RETURNING stamps, total_stamps_collected, redeemed_rewards"
	if query != want {
		t.Errorf("award query\n got: %s\nwant: %s", query, want)
	}
	if len(args) != 6 || args[5] != scanAt.Add(-2*time.Minute) {
		t.Errorf("unexpected args %v", args)
	}

	query, _ = buildIncrement("m1", Increment{ResetStamps: true, Redeemed: 1, MinStamps: 10}, scanAt)
	want = "UPDATE memberships SET updated_at = $2, stamps = 0, redeemed_rewards = redeemed_rewards + $3" +
		" WHERE id = $1 AND stamps >= $4" +
		" RETURNING stamps, total_stamps_collected, redeemed_rewards"
	if query != want {
		t.Errorf("redeem query\n got: %s\nwant: %s", query, want)
	}
}

func TestPostgresAwardStamps(t *testing.T) {
	store, mock := setupMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE memberships SET updated_at = $2, stamps = stamps + $3, total_stamps_collected = total_stamps_collected + $4")).
		WithArgs(testMembershipID, sqlmock.AnyArg(), 3, 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(counterRows(7, 12, 1))

	res, err := store.AwardStamps(context.Background(), testMembershipID, 3, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("AwardStamps: %v", err)
	}
	if res.NewStamps != 7 || res.NewTotal != 12 || res.MembershipID != testMembershipID {
		t.Errorf("unexpected result %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresAwardStampsCooldownLost(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE memberships SET")).
		WillReturnRows(sqlmock.NewRows([]string{"stamps", "total_stamps_collected", "redeemed_rewards"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(testMembershipID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.AwardStamps(context.Background(), testMembershipID, 1, time.Now(), 2*time.Minute)
	if !errors.Is(err, model.ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRedeem(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET updated_at = $2, stamps = 0, redeemed_rewards = redeemed_rewards + $3 WHERE id = $1 AND stamps >= $4")).
		WithArgs(testMembershipID, sqlmock.AnyArg(), 1, 10).
		WillReturnRows(counterRows(0, 25, 3))

	count, err := store.Redeem(context.Background(), testMembershipID, 10, time.Now())
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if count != 3 {
		t.Errorf("redeemed = %d, want 3", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRedeemMissingMembership(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE memberships SET")).
		WillReturnRows(sqlmock.NewRows([]string{"stamps", "total_stamps_collected", "redeemed_rewards"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if _, err := store.Redeem(context.Background(), testMembershipID, 10, time.Now()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresCreateMembershipRetriesReferralCollision(t *testing.T) {
	store, mock := setupMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO memberships")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "memberships_referral_code_key"})
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO memberships")).
		WithArgs(sqlmock.AnyArg(), testBusinessID, "user:1", 3, sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(membershipRowColumns).AddRow(
			testMembershipID, testBusinessID, "user:1", 3, 3, 0, "ABCDEF12", nil, false, false, nil, now, now))

	m, created, err := store.CreateMembership(context.Background(), model.NewMembership{
		BusinessID: testBusinessID, IdentityKey: "user:1", WelcomeStamps: 3, Now: now,
	})
	if err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	if !created || m.Stamps != 3 || m.TotalStampsCollected != 3 {
		t.Errorf("unexpected membership created=%v %+v", created, m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCreateMembershipExisting(t *testing.T) {
	store, mock := setupMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO memberships")).
		WillReturnRows(sqlmock.NewRows(membershipRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM memberships WHERE business_id = $1 AND identity_key = $2")).
		WithArgs(testBusinessID, "user:1").
		WillReturnRows(sqlmock.NewRows(membershipRowColumns).AddRow(
			testMembershipID, testBusinessID, "user:1", 4, 9, 1, "ABCDEF12", nil, false, true, now, now, now))

	m, created, err := store.CreateMembership(context.Background(), model.NewMembership{
		BusinessID: testBusinessID, IdentityKey: "user:1", Now: now,
	})
	if err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	if created || m.Stamps != 4 || m.TotalStampsCollected != 9 {
		t.Errorf("expected existing membership, got created=%v %+v", created, m)
	}
}

func TestPostgresCompleteFirstStampWithReferral(t *testing.T) {
	store, mock := setupMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET first_stamp_completed = TRUE")).
		WithArgs(testMembershipID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE business_id = $1 AND referral_code = $2")).
		WithArgs(testBusinessID, "REFCODE1").
		WillReturnRows(sqlmock.NewRows(membershipRowColumns).AddRow(
			testReferrerID, testBusinessID, "user:ref", 2, 2, 0, "REFCODE1", nil, false, true, now, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("referral_bonus_awarded = TRUE WHERE id = $1 AND referral_bonus_awarded = FALSE")).
		WithArgs(testMembershipID, sqlmock.AnyArg(), 2, 2).
		WillReturnRows(counterRows(3, 3, 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE memberships SET updated_at = $2, stamps = stamps + $3")).
		WithArgs(testReferrerID, sqlmock.AnyArg(), 5, 5).
		WillReturnRows(counterRows(7, 7, 0))
	mock.ExpectCommit()

	out, err := store.CompleteFirstStamp(context.Background(), model.ReferralGrant{
		MembershipID: testMembershipID, BusinessID: testBusinessID, ReferredBy: "REFCODE1",
		RefereeBonus: 2, ReferrerBonus: 5, Now: now,
	})
	if err != nil {
		t.Fatalf("CompleteFirstStamp: %v", err)
	}
	if !out.Transitioned || !out.Awarded || out.ReferrerID != testReferrerID || out.NewStamps != 3 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCompleteFirstStampAlreadyDone(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET first_stamp_completed = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	out, err := store.CompleteFirstStamp(context.Background(), model.ReferralGrant{
		MembershipID: testMembershipID, BusinessID: testBusinessID, ReferredBy: "REFCODE1", Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("CompleteFirstStamp: %v", err)
	}
	if out.Transitioned || out.Awarded {
		t.Errorf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresGetBusinessNotFound(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM businesses WHERE id = $1")).
		WithArgs(testBusinessID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetBusiness(context.Background(), testBusinessID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresGetBusinessScansBonusPeriods(t *testing.T) {
	store, mock := setupMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM businesses WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "name", "timezone", "cooldown_minutes", "max_stamps", "bonus_periods",
			"welcome_stamps_enabled", "welcome_stamps", "referral_enabled", "referral_bonus_points",
			"referee_bonus_points", "created_at", "updated_at",
		}).AddRow(testBusinessID, "cafe", "Cafe", "UTC", 2, 10,
			[]byte(`[{"id":"p1","dayOfWeek":3,"startTime":"09:00","endTime":"17:00","bonusType":"fixed","bonusValue":1}]`),
			true, 3, true, 5, 2, now, now))

	b, err := store.GetBusiness(context.Background(), testBusinessID)
	if err != nil {
		t.Fatalf("GetBusiness: %v", err)
	}
	if len(b.BonusPeriods) != 1 || b.BonusPeriods[0].DayOfWeek != 3 || b.WelcomeSeed() != 3 {
		t.Errorf("unexpected business %+v", b)
	}
}
