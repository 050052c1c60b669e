// Package history maintains bounded per-symbol rolling price histories.
package history

import (
	"sort"
	"sync"
	"time"

	"velotrack-go/internal/market"
)

// symbolState owns one sample ring per active window plus bookkeeping for the
// scheduler. Guarded by its own mutex so symbols never contend with each other.
type symbolState struct {
	mu            sync.Mutex
	rings         map[market.Window][]market.Sample
	currentPrice  float64
	lastUpdate    time.Time
	lastEvaluated time.Time
}

// Book holds the full symbol universe. The symbol set is fixed at construction;
// the map is never mutated afterwards, so lookups need no lock.
type Book struct {
	capacity int
	windows  []market.Window
	states   map[string]*symbolState
	symbols  []string
}

// New builds a Book for the configured symbols and active windows. Capacity is
// the per-window sample bound; oldest samples are dropped past it.
func New(symbols []string, windows []market.Window, capacity int) *Book {
	if capacity <= 0 {
		capacity = 100
	}
	b := &Book{
		capacity: capacity,
		windows:  append([]market.Window(nil), windows...),
		states:   make(map[string]*symbolState, len(symbols)),
	}
	for _, sym := range symbols {
		if _, ok := b.states[sym]; ok {
			continue
		}
		st := &symbolState{rings: make(map[market.Window][]market.Sample, len(windows))}
		b.states[sym] = st
		b.symbols = append(b.symbols, sym)
	}
	return b
}

// Symbols returns the monitored symbol set in construction order.
func (b *Book) Symbols() []string {
	out := make([]string, len(b.symbols))
	copy(out, b.symbols)
	return out
}

// Windows returns the active windows.
func (b *Book) Windows() []market.Window {
	out := make([]market.Window, len(b.windows))
	copy(out, b.windows)
	return out
}

// Append records a price observation for every active window. Non-positive
// prices and unknown symbols are silently ignored. Returns whether the sample
// was stored.
func (b *Book) Append(symbol string, price float64, ts time.Time) bool {
	st, ok := b.states[symbol]
	if !ok || price <= 0 {
		return false
	}
	sample := market.Sample{Price: price, Ts: ts}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.currentPrice = price
	st.lastUpdate = ts
	for _, w := range b.windows {
		ring := append(st.rings[w], sample)
		if len(ring) > b.capacity {
			ring = ring[len(ring)-b.capacity:]
		}
		st.rings[w] = ring
	}
	return true
}

// Snapshot returns an independent copy of the samples for (symbol, window)
// whose age relative to now is at most the window length, sorted by timestamp
// ascending. Websocket delivery is not strictly ordered across reconnects, so
// ordering is established here rather than assumed from insertion order.
func (b *Book) Snapshot(symbol string, w market.Window, now time.Time) []market.Sample {
	st, ok := b.states[symbol]
	if !ok {
		return nil
	}
	cutoff := now.Add(-w.Duration())

	st.mu.Lock()
	ring := st.rings[w]
	out := make([]market.Sample, 0, len(ring))
	for _, s := range ring {
		if !s.Ts.Before(cutoff) {
			out = append(out, s)
		}
	}
	st.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out
}

// Current returns the latest observed price and update time for a symbol.
func (b *Book) Current(symbol string) (float64, time.Time, bool) {
	st, ok := b.states[symbol]
	if !ok {
		return 0, time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.currentPrice <= 0 {
		return 0, time.Time{}, false
	}
	return st.currentPrice, st.lastUpdate, true
}

// Len reports how many samples are buffered for (symbol, window).
func (b *Book) Len(symbol string, w market.Window) int {
	st, ok := b.states[symbol]
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.rings[w])
}

// HasData reports whether any active window holds enough samples for a
// velocity computation (two or more).
func (b *Book) HasData(symbol string) bool {
	st, ok := b.states[symbol]
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, w := range b.windows {
		if len(st.rings[w]) >= 2 {
			return true
		}
	}
	return false
}

// MarkEvaluated stamps the symbol's last evaluation time.
func (b *Book) MarkEvaluated(symbol string, now time.Time) {
	st, ok := b.states[symbol]
	if !ok {
		return
	}
	st.mu.Lock()
	st.lastEvaluated = now
	st.mu.Unlock()
}

// LastEvaluated returns when the symbol was last handed to the velocity engine.
func (b *Book) LastEvaluated(symbol string) time.Time {
	st, ok := b.states[symbol]
	if !ok {
		return time.Time{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastEvaluated
}
