package alert

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"velotrack-go/internal/market"
)

// recordedAlert is the flattened JSONL row written for each dispatched alert.
type recordedAlert struct {
	Symbol      string    `json:"symbol"`
	Window      string    `json:"window"`
	Direction   string    `json:"direction"`
	StartPrice  float64   `json:"start_price"`
	EndPrice    float64   `json:"end_price"`
	ChangePct   float64   `json:"change_pct"`
	USDPerMin   float64   `json:"usd_per_min"`
	PctPerMin   float64   `json:"pct_per_min"`
	Threshold   float64   `json:"threshold_pct_per_min"`
	ElapsedSecs float64   `json:"elapsed_secs"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recorder appends dispatched alerts as JSON lines for later analysis.
// Best-effort: write failures are swallowed.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewRecorder creates/opens the target file and returns a recorder.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single alert to the underlying JSONL file.
func (r *Recorder) Record(a market.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(recordedAlert{
		Symbol:      a.Symbol,
		Window:      a.Window.String(),
		Direction:   string(a.Momentum.Direction),
		StartPrice:  a.Velocity.StartPrice,
		EndPrice:    a.Velocity.EndPrice,
		ChangePct:   a.Velocity.PriceChangePercent,
		USDPerMin:   a.Velocity.VelocityUSDPerMin,
		PctPerMin:   a.Velocity.VelocityPctPerMin,
		Threshold:   a.Momentum.ThresholdUsed,
		ElapsedSecs: a.Velocity.ElapsedSeconds,
		CreatedAt:   a.CreatedAt,
	})
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
