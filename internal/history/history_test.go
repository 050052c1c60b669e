package history

import (
	"testing"
	"time"

	"velotrack-go/internal/market"
)

func newTestBook(capacity int) *Book {
	return New([]string{"btcusdt", "ethusdt"}, []market.Window{1, 5}, capacity)
}

func TestAppendRejectsNonPositivePrice(t *testing.T) {
	b := newTestBook(10)
	now := time.Now()

	if b.Append("btcusdt", 0, now) {
		t.Fatalf("expected zero price to be rejected")
	}
	if b.Append("btcusdt", -5, now) {
		t.Fatalf("expected negative price to be rejected")
	}
	if b.Len("btcusdt", 1) != 0 {
		t.Fatalf("expected no samples stored")
	}
}

func TestAppendUnknownSymbol(t *testing.T) {
	b := newTestBook(10)
	if b.Append("dogeusdt", 1.23, time.Now()) {
		t.Fatalf("expected unknown symbol to be rejected")
	}
}

func TestAppendEvictsOldestPastCapacity(t *testing.T) {
	const capacity = 5
	b := newTestBook(capacity)
	now := time.Now()

	for i := 0; i < capacity+3; i++ {
		if !b.Append("btcusdt", 100+float64(i), now.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("append %d failed", i)
		}
	}
	if got := b.Len("btcusdt", 5); got != capacity {
		t.Fatalf("expected %d samples after eviction, got %d", capacity, got)
	}

	snap := b.Snapshot("btcusdt", 5, now.Add(8*time.Second))
	if len(snap) != capacity {
		t.Fatalf("expected %d samples in snapshot, got %d", capacity, len(snap))
	}
	// The 3 oldest samples (prices 100..102) must be gone.
	if snap[0].Price != 103 {
		t.Fatalf("expected oldest surviving price 103, got %.2f", snap[0].Price)
	}
}

func TestSnapshotFiltersByWindow(t *testing.T) {
	b := newTestBook(100)
	now := time.Now()

	b.Append("btcusdt", 100, now.Add(-10*time.Minute))
	b.Append("btcusdt", 101, now.Add(-4*time.Minute))
	b.Append("btcusdt", 102, now.Add(-30*time.Second))

	snap := b.Snapshot("btcusdt", 5, now)
	if len(snap) != 2 {
		t.Fatalf("expected 2 in-window samples, got %d", len(snap))
	}
	if snap[0].Price != 101 || snap[1].Price != 102 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}

func TestSnapshotSortsOutOfOrderArrivals(t *testing.T) {
	b := newTestBook(100)
	now := time.Now()

	// Reconnects can deliver ticks out of timestamp order.
	b.Append("btcusdt", 102, now.Add(-30*time.Second))
	b.Append("btcusdt", 100, now.Add(-3*time.Minute))
	b.Append("btcusdt", 101, now.Add(-90*time.Second))

	snap := b.Snapshot("btcusdt", 5, now)
	if len(snap) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Ts.Before(snap[i-1].Ts) {
			t.Fatalf("snapshot not sorted by timestamp: %+v", snap)
		}
	}
	if snap[0].Price != 100 || snap[2].Price != 102 {
		t.Fatalf("unexpected sort order: %+v", snap)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	b := newTestBook(100)
	now := time.Now()
	b.Append("btcusdt", 100, now.Add(-time.Minute))
	b.Append("btcusdt", 101, now)

	first := b.Snapshot("btcusdt", 5, now)
	second := b.Snapshot("btcusdt", 5, now)
	if len(first) != len(second) {
		t.Fatalf("snapshot lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("snapshot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	b := newTestBook(100)
	now := time.Now()
	b.Append("btcusdt", 100, now.Add(-time.Minute))
	b.Append("btcusdt", 101, now)

	snap := b.Snapshot("btcusdt", 5, now)
	snap[0].Price = 999

	again := b.Snapshot("btcusdt", 5, now)
	if again[0].Price != 100 {
		t.Fatalf("mutating a snapshot leaked into the book")
	}
}

func TestCurrentAndHasData(t *testing.T) {
	b := newTestBook(100)
	if _, _, ok := b.Current("btcusdt"); ok {
		t.Fatalf("expected no current price before first append")
	}
	if b.HasData("btcusdt") {
		t.Fatalf("expected no data before appends")
	}

	now := time.Now()
	b.Append("btcusdt", 100, now.Add(-time.Second))
	if b.HasData("btcusdt") {
		t.Fatalf("one sample should not count as data")
	}
	b.Append("btcusdt", 101, now)

	px, ts, ok := b.Current("btcusdt")
	if !ok || px != 101 || !ts.Equal(now) {
		t.Fatalf("unexpected current state: %.2f %v %v", px, ts, ok)
	}
	if !b.HasData("btcusdt") {
		t.Fatalf("expected data after two appends")
	}
}

func TestMarkEvaluated(t *testing.T) {
	b := newTestBook(100)
	if !b.LastEvaluated("btcusdt").IsZero() {
		t.Fatalf("expected zero last evaluated time")
	}
	now := time.Now()
	b.MarkEvaluated("btcusdt", now)
	if !b.LastEvaluated("btcusdt").Equal(now) {
		t.Fatalf("unexpected last evaluated time")
	}
}
