// Package alert owns cooldown bookkeeping and the notification queue.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"velotrack-go/internal/market"
	"velotrack-go/internal/telegram"
)

// Transport delivers a rendered message to every recipient.
type Transport interface {
	SendToAll(ctx context.Context, text string) map[int64]telegram.Status
}

type cooldownKey struct {
	symbol string
	window market.Window
}

// Coordinator filters qualifying alerts through per-(symbol, window) cooldowns
// and feeds a single consuming worker that hands messages to the transport.
type Coordinator struct {
	log       zerolog.Logger
	transport Transport
	cooldown  time.Duration
	queue     chan market.Alert
	recorder  *Recorder

	// Mutated only by the consuming worker; no lock needed.
	lastNotified map[cooldownKey]time.Time

	now func() time.Time
}

// New builds a Coordinator. The recorder is optional; pass nil to disable the
// delivery side-channel.
func New(log zerolog.Logger, transport Transport, cooldown time.Duration, queueSize int, recorder *Recorder) *Coordinator {
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Coordinator{
		log:          log.With().Str("component", "alerts").Logger(),
		transport:    transport,
		cooldown:     cooldown,
		queue:        make(chan market.Alert, queueSize),
		recorder:     recorder,
		lastNotified: make(map[cooldownKey]time.Time),
		now:          time.Now,
	}
}

// Offer enqueues a qualifying alert without blocking the caller. Alerts
// without high velocity are rejected; a full queue drops the alert.
func (c *Coordinator) Offer(a market.Alert) bool {
	if !a.Momentum.IsHighVelocity {
		return false
	}
	select {
	case c.queue <- a:
		return true
	default:
		c.log.Warn().Str("symbol", a.Symbol).Stringer("window", a.Window).Msg("alert queue full, dropping")
		return false
	}
}

// Run consumes the queue strictly in arrival order until the context is
// canceled. One alert's failure never stops the worker.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-c.queue:
			c.process(ctx, a)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, a market.Alert) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("symbol", a.Symbol).Interface("panic", r).Msg("alert processing panicked")
		}
	}()

	key := cooldownKey{symbol: a.Symbol, window: a.Window}
	now := c.now()
	if last, ok := c.lastNotified[key]; ok && now.Sub(last) < c.cooldown {
		// Inside cooldown: drop silently, never re-queue.
		return
	}

	if c.transport != nil {
		c.transport.SendToAll(ctx, Render(a))
	}
	// Cooldown governs generation rate, not delivery confirmation: the stamp
	// advances on hand-off even if some recipients fail.
	c.lastNotified[key] = now

	if c.recorder != nil {
		c.recorder.Record(a)
	}
	c.log.Info().
		Str("symbol", strings.ToUpper(a.Symbol)).
		Stringer("window", a.Window).
		Str("direction", string(a.Momentum.Direction)).
		Float64("pct_per_min", a.Velocity.VelocityPctPerMin).
		Msg("high momentum alert dispatched")
}

// Render formats the notification body with Telegram HTML markup.
func Render(a market.Alert) string {
	v := a.Velocity
	arrow := "📉"
	if a.Momentum.Direction == market.Up {
		arrow = "📈"
	}
	symbol := strings.ToUpper(a.Symbol)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>HIGH MOMENTUM ALERT - %s (%s)</b>\n\n", arrow, symbol, strings.ToUpper(a.Window.String()))
	fmt.Fprintf(&sb, "💰 <b>Current Price:</b> $%.2f\n", v.EndPrice)
	fmt.Fprintf(&sb, "📊 <b>Price Change:</b> $%+.2f (%+.4f%%)\n", v.PriceChange, v.PriceChangePercent)
	fmt.Fprintf(&sb, "⚡ <b>Velocity:</b> $%+.2f USD/min (%+.4f%%/min)\n", v.VelocityUSDPerMin, v.VelocityPctPerMin)
	fmt.Fprintf(&sb, "📅 <b>Time Window:</b> %s → %s\n", v.StartTime.Format("15:04:05"), v.EndTime.Format("15:04:05"))
	fmt.Fprintf(&sb, "🔄 <b>Direction:</b> %s\n\n", a.Momentum.Direction)
	fmt.Fprintf(&sb, "🚀 <b>Likely to continue %s</b>", a.Momentum.Direction)
	return sb.String()
}
