package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/stampcard/internal/api"
	"github.com/kkkkikiki/stampcard/internal/model"
	"github.com/kkkkikiki/stampcard/internal/service"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock‑contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	CooldownCount int64
	ErrorCount    int64
	RedeemCount   int64
	LatencySum    int64
	P95Latency    int64
}

// ledger is what the client believes each membership holds
type ledger struct {
	mu       sync.Mutex
	awarded  map[string]int
	redeemed map[string]int
}

func (l *ledger) award(membershipID string, stamps int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.awarded[membershipID] += stamps
}

func (l *ledger) redeem(membershipID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redeemed[membershipID]++
}

const (
	baseURL        = "http://localhost:8080"
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	// Authenticated users hit the cooldown after their first scan; kiosks
	// are anonymous and can scan continuously into one shared card.
	fixedUsers  = 2000
	fixedKiosks = 5
	maxStamps   = 10
)

func main() {
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := api.NewStampServiceClient(httpClient, baseURL)

	// ─── Business setup ──────────────────────────────────────────
	business, qrPayload, err := createBusiness(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create business: %v\n", err)
		os.Exit(1)
	}

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🚀 Stamp card scan load test")
	fmt.Println("==========================================")
	fmt.Printf("Business      : %s (%s)\n", business.ID, business.NumericID)
	fmt.Printf("RPS           : %d\n", rps)
	fmt.Printf("Duration      : %v\n", duration)
	fmt.Printf("Users/kiosks  : %d/%d\n", fixedUsers, fixedKiosks)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup
	book := &ledger{awarded: map[string]int{}, redeemed: map[string]int{}}

	latencyChan := make(chan time.Duration, 4096)
	go trackP95(latencyChan, &result)

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				doScan(client, qrPayload, randomIdentity(rng), book, &result, latencyChan)
			}
		}(int64(i))
	}

	start := time.Now()
	<-ctx.Done()

	wg.Wait()
	close(latencyChan)

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("📊 Results")
	fmt.Println("==========================================")
	fmt.Printf("Elapsed        : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Scans          : %d\n", result.TotalRequests)
	fmt.Printf("Awarded        : %d\n", result.SuccessCount)
	fmt.Printf("Cooldown       : %d\n", result.CooldownCount)
	fmt.Printf("Errors         : %d\n", result.ErrorCount)
	fmt.Printf("Redemptions    : %d\n", result.RedeemCount)

	actualRPS := float64(result.TotalRequests) / totalDur.Seconds()
	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	fmt.Printf("Actual RPS     : %.2f\n", actualRPS)
	fmt.Printf("Avg latency    : %v\n", avgLatency)
	fmt.Printf("P95 latency    : %v\n", time.Duration(atomic.LoadInt64(&result.P95Latency)))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🔍 Counter consistency")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(client, business.ID, book); err != nil {
		fmt.Printf("❌ Consistency check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Lifetime totals match every awarded stamp")
	fmt.Println("==========================================")
}

func randomIdentity(rng *rand.Rand) api.Identity {
	if rng.Intn(4) == 0 {
		return api.Identity{SessionID: fmt.Sprintf("kiosk-%d", rng.Intn(fixedKiosks))}
	}
	return api.Identity{UserID: fmt.Sprintf("perf-user-%d", rng.Intn(fixedUsers))}
}

// createBusiness registers the business under test. A bonus period covering
// every day keeps the per-scan award above one so lost updates show up as
// mismatched totals.
func createBusiness(client *api.StampServiceClient) (api.Business, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.CreateBusiness(ctx, connect.NewRequest(&api.CreateBusinessRequest{
		Business: api.Business{
			Slug:      fmt.Sprintf("perf-%d", time.Now().Unix()),
			Name:      "Load test",
			MaxStamps: maxStamps,
			BonusPeriods: []model.BonusPeriod{
				{DayOfWeek: model.EveryDay, StartTime: "00:00", EndTime: "23:59", BonusType: model.BonusMultiplier, BonusValue: 2},
			},
		},
	}))
	if err != nil {
		return api.Business{}, "", fmt.Errorf("create business failed: %w", err)
	}
	return resp.Msg.Business, resp.Msg.QRPayload, nil
}

// doScan performs a single Scan RPC, redeeming when the card fills up
func doScan(client *api.StampServiceClient, payload string, identity api.Identity, book *ledger, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: payload, Identity: identity}))
	latency := time.Since(start)

	if err != nil {
		if service.RetryAfter(err) > 0 {
			atomic.AddInt64(&result.CooldownCount, 1)
			return
		}
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	book.award(resp.Msg.MembershipID, resp.Msg.StampsAwarded)
	select {
	case latencyChan <- latency:
	default:
	}

	if resp.Msg.NewStamps >= resp.Msg.MaxStamps {
		_, err := client.Redeem(ctx, connect.NewRequest(&api.RedeemRequest{MembershipID: resp.Msg.MembershipID}))
		if err == nil {
			atomic.AddInt64(&result.RedeemCount, 1)
			book.redeem(resp.Msg.MembershipID)
		}
	}
}

// trackP95 maintains a best‑effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := append([]int64(nil), buf...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			p95Index := int(float64(len(sorted)) * 0.95)
			if p95Index >= len(sorted) {
				p95Index = len(sorted) - 1
			}
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

// verifyDataConsistency checks that every membership's lifetime total equals
// the stamps the client saw awarded and its redemption count matches
func verifyDataConsistency(client *api.StampServiceClient, businessID string, book *ledger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var expectedLifetime int64
	mismatches := 0
	for membershipID, awarded := range book.awarded {
		expectedLifetime += int64(awarded)
		resp, err := client.GetMembership(ctx, connect.NewRequest(&api.GetMembershipRequest{MembershipID: membershipID}))
		if err != nil {
			return fmt.Errorf("failed to get membership %s: %w", membershipID, err)
		}
		m := resp.Msg.Membership
		if m.TotalStampsCollected != awarded || m.RedeemedRewards != book.redeemed[membershipID] {
			mismatches++
			fmt.Printf("  %s: total=%d (want %d) redeemed=%d (want %d)\n",
				membershipID, m.TotalStampsCollected, awarded, m.RedeemedRewards, book.redeemed[membershipID])
		}
		if m.Stamps < 0 {
			return fmt.Errorf("negative stamps on %s: %d", membershipID, m.Stamps)
		}
	}

	stats, err := client.GetBusinessStats(ctx, connect.NewRequest(&api.GetBusinessStatsRequest{BusinessID: businessID}))
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	fmt.Printf("Memberships    : %d\n", len(book.awarded))
	fmt.Printf("Lifetime (DB)  : %d\n", stats.Msg.Stats.StampsLifetime)
	fmt.Printf("Lifetime (test): %d\n", expectedLifetime)

	if mismatches > 0 {
		return fmt.Errorf("%d memberships disagree with the client ledger", mismatches)
	}
	return nil
}
