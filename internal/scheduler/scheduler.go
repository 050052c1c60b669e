// Package scheduler batches velocity evaluation across symbols with fresh data.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"velotrack-go/internal/history"
	"velotrack-go/internal/market"
	"velotrack-go/internal/metrics"
	"velotrack-go/internal/velocity"
)

// Sink receives qualifying alerts. Offer must not block; it reports whether
// the alert was accepted.
type Sink interface {
	Offer(market.Alert) bool
}

// Batcher collects dirty symbols and evaluates them in bounded batches on a
// fixed-size worker pool, on both an event-driven and a periodic cadence.
type Batcher struct {
	log         zerolog.Logger
	book        *history.Book
	thresholds  velocity.Thresholds
	minCoverage float64
	reevalEvery time.Duration
	batchSize   int
	poolSize    int
	tick        time.Duration
	sink        Sink

	mu         sync.Mutex
	dirty      map[string]struct{}
	lastMarked map[string]time.Time

	now func() time.Time
}

// Params bundles Batcher tuning knobs.
type Params struct {
	Thresholds  velocity.Thresholds
	MinCoverage float64
	ReevalEvery time.Duration
	BatchSize   int
	PoolSize    int
	Tick        time.Duration
}

// New builds a Batcher over the given history book.
func New(log zerolog.Logger, book *history.Book, sink Sink, p Params) *Batcher {
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.PoolSize <= 0 {
		p.PoolSize = 4
	}
	if p.Tick <= 0 {
		p.Tick = 5 * time.Second
	}
	if p.ReevalEvery <= 0 {
		p.ReevalEvery = time.Minute
	}
	return &Batcher{
		log:         log.With().Str("component", "scheduler").Logger(),
		book:        book,
		thresholds:  p.Thresholds,
		minCoverage: p.MinCoverage,
		reevalEvery: p.ReevalEvery,
		batchSize:   p.BatchSize,
		poolSize:    p.PoolSize,
		tick:        p.Tick,
		sink:        sink,
		dirty:       make(map[string]struct{}),
		lastMarked:  make(map[string]time.Time),
		now:         time.Now,
	}
}

// MarkDirty flags a symbol for evaluation. Marks are throttled to once per
// re-evaluation interval per symbol so a fast tick stream cannot pin the CPU.
// When the dirty set reaches the batch size the batch is drained immediately.
func (b *Batcher) MarkDirty(symbol string) {
	now := b.now()

	b.mu.Lock()
	if last, ok := b.lastMarked[symbol]; ok && now.Sub(last) < b.reevalEvery {
		b.mu.Unlock()
		return
	}
	b.lastMarked[symbol] = now
	b.dirty[symbol] = struct{}{}
	full := len(b.dirty) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.drain()
	}
}

// Run drives the periodic fallback cadence until the context is canceled;
// the in-flight batch is drained before returning.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-ticker.C:
			if b.pendingCount() == 0 {
				b.scanEligible()
			}
			if b.pendingCount() > 0 {
				b.drain()
			}
		}
	}
}

func (b *Batcher) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}

// scanEligible re-arms symbols whose throttle window has lapsed and which have
// enough buffered data, so evaluation keeps flowing between dirty marks.
func (b *Batcher) scanEligible() {
	now := b.now()
	for _, sym := range b.book.Symbols() {
		if !b.book.HasData(sym) {
			continue
		}
		b.mu.Lock()
		last, marked := b.lastMarked[sym]
		if !marked || now.Sub(last) >= b.reevalEvery {
			b.lastMarked[sym] = now
			b.dirty[sym] = struct{}{}
		}
		b.mu.Unlock()
	}
}

// drain evaluates up to batchSize dirty symbols on the worker pool and waits
// for the batch to finish.
func (b *Batcher) drain() {
	b.mu.Lock()
	batch := make([]string, 0, b.batchSize)
	for sym := range b.dirty {
		if len(batch) >= b.batchSize {
			break
		}
		batch = append(batch, sym)
		delete(b.dirty, sym)
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sem := make(chan struct{}, b.poolSize)
	var wg sync.WaitGroup
	for _, sym := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			b.evaluate(symbol)
		}(sym)
	}
	wg.Wait()
}

// evaluate runs the velocity engine for one symbol across every active
// window. A panic here is contained to this symbol.
func (b *Batcher) evaluate(symbol string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("symbol", symbol).Interface("panic", r).Msg("evaluation panicked")
		}
	}()

	now := b.now()
	metrics.EvaluationsTotal.WithLabelValues(symbol).Inc()

	for _, w := range b.book.Windows() {
		snapshot := b.book.Snapshot(symbol, w, now)
		result, err := velocity.Compute(snapshot, w, b.minCoverage)
		if err != nil {
			// Expected while history warms up or trading is thin.
			b.log.Debug().Str("symbol", symbol).Stringer("window", w).Int("samples", len(snapshot)).Msg("no velocity yet")
			continue
		}

		momentum := velocity.DetectMomentum(result, b.thresholds)
		b.log.Debug().
			Str("symbol", symbol).
			Stringer("window", w).
			Float64("usd_per_min", result.VelocityUSDPerMin).
			Float64("pct_per_min", result.VelocityPctPerMin).
			Str("direction", string(momentum.Direction)).
			Bool("high", momentum.IsHighVelocity).
			Float64("threshold", momentum.ThresholdUsed).
			Msg("velocity")

		if !momentum.IsHighVelocity {
			continue
		}
		alert := market.Alert{
			Symbol:    symbol,
			Window:    w,
			Velocity:  result,
			Momentum:  momentum,
			CreatedAt: now,
		}
		if b.sink != nil && b.sink.Offer(alert) {
			metrics.AlertsTotal.WithLabelValues(symbol, w.String()).Inc()
		}
	}

	b.book.MarkEvaluated(symbol, now)
}
