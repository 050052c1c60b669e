package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"velotrack-go/internal/alert"
	"velotrack-go/internal/history"
	"velotrack-go/internal/market"
	"velotrack-go/internal/scheduler"
	"velotrack-go/internal/telegram"
	"velotrack-go/internal/velocity"
)

// Exercises the full pipeline: ticks → history → batched evaluation →
// coordinator → telegram transport, against a fake Bot API server.
func TestPipelineDeliversMomentumAlert(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		texts = append(texts, body.Text)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	transport := telegram.New(zerolog.Nop(), "itest-token", []int64{42}, telegram.Options{BaseURL: srv.URL})
	coordinator := alert.New(zerolog.Nop(), transport, 2*time.Minute, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	book := history.New([]string{"btcusdt"}, []market.Window{1}, 100)
	batcher := scheduler.New(zerolog.Nop(), book, coordinator, scheduler.Params{
		Thresholds: velocity.Thresholds{
			PercentPerMin: map[market.Window]float64{1: 0.1},
			USDPerMin:     5000,
		},
		MinCoverage: 0.5,
		BatchSize:   1,
		PoolSize:    1,
	})

	// 50000 at t=0, 50100 at t=65s, measured over a
	// 1-minute window.
	now := time.Now()
	if !book.Append("btcusdt", 50000, now.Add(-65*time.Second)) {
		t.Fatalf("first append rejected")
	}
	if !book.Append("btcusdt", 50100, now) {
		t.Fatalf("second append rejected")
	}
	batcher.MarkDirty("btcusdt")

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(texts)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for notification")
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "BTCUSDT") || !strings.Contains(texts[0], "UP") {
		t.Fatalf("unexpected notification body:\n%s", texts[0])
	}
}

// A second qualifying move inside the cooldown window must not notify again.
func TestPipelineCooldownSuppressesRepeat(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	transport := telegram.New(zerolog.Nop(), "itest-token", []int64{42}, telegram.Options{BaseURL: srv.URL})
	coordinator := alert.New(zerolog.Nop(), transport, 2*time.Minute, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	book := history.New([]string{"btcusdt"}, []market.Window{1}, 100)
	batcher := scheduler.New(zerolog.Nop(), book, coordinator, scheduler.Params{
		Thresholds: velocity.Thresholds{
			PercentPerMin: map[market.Window]float64{1: 0.1},
			USDPerMin:     5000,
		},
		MinCoverage: 0.5,
		BatchSize:   1,
		PoolSize:    1,
	})

	now := time.Now()
	book.Append("btcusdt", 50000, now.Add(-65*time.Second))
	book.Append("btcusdt", 50100, now)
	batcher.MarkDirty("btcusdt")

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits == 1
	})

	// Another qualifying alert right away: queued, then dropped by the
	// coordinator's cooldown.
	coordinator.Offer(market.Alert{
		Symbol: "btcusdt",
		Window: 1,
		Velocity: market.VelocityResult{Window: 1, EndPrice: 50200, PriceChange: 200,
			PriceChangePercent: 0.4, VelocityUSDPerMin: 180, VelocityPctPerMin: 0.36},
		Momentum:  market.MomentumResult{IsHighVelocity: true, Direction: market.Up},
		CreatedAt: now.Add(5 * time.Second),
	})

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected cooldown to suppress the repeat alert, got %d deliveries", hits)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
