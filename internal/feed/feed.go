// Package feed hosts connectors for upstream tick sources.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"velotrack-go/internal/market"
	"velotrack-go/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live ticker updates from Binance public websockets.
	ProviderBinance = "binance"
)

// connState tracks where the ingestor sits in its reconnect cycle.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider       string
	host           string
	symbols        []string
	log            zerolog.Logger
	connectTimeout time.Duration
	stallWarning   time.Duration
	reconnectBase  time.Duration
	reconnectMax   time.Duration
	mu             sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultHost           = "stream.binance.com:9443"
	defaultConnectTimeout = 30 * time.Second
	defaultStallWarning   = 60 * time.Second
	defaultReconnectBase  = time.Second
	defaultReconnectMax   = 60 * time.Second
)

// WithHost overrides the websocket host for the Binance provider.
func WithHost(host string) Option {
	return func(f *Feed) {
		if host != "" {
			f.host = host
		}
	}
}

// WithConnectTimeout bounds each dial attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.connectTimeout = d
		}
	}
}

// WithStallWarning sets how long the connection may go silent before the
// liveness monitor logs a warning.
func WithStallWarning(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stallWarning = d
		}
	}
}

// WithReconnectBackoff sets the base and cap of the reconnect delay.
func WithReconnectBackoff(base, max time.Duration) Option {
	return func(f *Feed) {
		if base > 0 {
			f.reconnectBase = base
		}
		if max > 0 {
			f.reconnectMax = max
		}
	}
}

// New constructs a feed backed by the requested provider.
func New(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:       strings.ToLower(provider),
		host:           defaultHost,
		log:            log,
		connectTimeout: defaultConnectTimeout,
		stallWarning:   defaultStallWarning,
		reconnectBase:  defaultReconnectBase,
		reconnectMax:   defaultReconnectMax,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- market.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- market.Tick) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var px float64 = 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.1
			for _, s := range f.snapshotSymbols() {
				tick := market.Tick{Symbol: s, Price: px, Ts: ts}
				select {
				case out <- tick:
					metrics.TicksTotal.WithLabelValues(s).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
