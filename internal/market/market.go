// Package market standardizes payloads shared between ingestion, evaluation, and alerting layers.
package market

import (
	"fmt"
	"time"
)

// Tick models the essential pieces of a live price update consumed by the tracker.
type Tick struct {
	Symbol string
	Price  float64
	Ts     time.Time
}

// Sample is one (price, timestamp) observation stored in a symbol's rolling history.
type Sample struct {
	Price float64
	Ts    time.Time
}

// Window is a nominal velocity measurement span in minutes (1, 5, 15, ...).
type Window int

// Duration returns the window's nominal length.
func (w Window) Duration() time.Duration {
	return time.Duration(w) * time.Minute
}

// String renders the window the way it appears in alerts, e.g. "5min".
func (w Window) String() string {
	return fmt.Sprintf("%dmin", int(w))
}

// Direction tells which way price moved over a window.
type Direction string

const (
	// Up means price increased over the measured span.
	Up Direction = "UP"
	// Down means price decreased (or was flat) over the measured span.
	Down Direction = "DOWN"
)

// VelocityResult captures the rate of change measured between the oldest and
// newest in-window samples. Derived on demand, never stored.
type VelocityResult struct {
	Window             Window
	StartPrice         float64
	EndPrice           float64
	StartTime          time.Time
	EndTime            time.Time
	ElapsedSeconds     float64
	PriceChange        float64
	PriceChangePercent float64
	VelocityUSDPerMin  float64
	VelocityPctPerMin  float64
}

// MomentumResult classifies a VelocityResult against configured thresholds.
type MomentumResult struct {
	IsHighVelocity bool
	Direction      Direction
	VelocityPct    float64 // absolute %/min
	VelocityUSD    float64 // absolute USD/min
	ThresholdUsed  float64 // %/min threshold applied for the window
}

// Alert is a qualifying momentum event awaiting notification.
type Alert struct {
	Symbol    string
	Window    Window
	Velocity  VelocityResult
	Momentum  MomentumResult
	CreatedAt time.Time
}
