package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"velotrack-go/internal/market"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(ProviderStub, []string{"btcusdt"}, zerolog.Nop())
	ticks := make(chan market.Tick, 1)

	go func() {
		_ = f.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "btcusdt" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
		if tk.Price <= 0 {
			t.Fatalf("expected positive price, got %.4f", tk.Price)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestParseStreamSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt@ticker": "btcusdt",
		"ETHUSDT@ticker": "ethusdt",
		"dogeusdt":       "dogeusdt",
		"":               "",
	}
	for stream, expected := range cases {
		if got := parseStreamSymbol(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

func TestParseMessage(t *testing.T) {
	f := New(ProviderBinance, []string{"btcusdt"}, zerolog.Nop())

	raw := []byte(`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"50000.12","E":1700000000000}}`)
	tick, ok := f.parseMessage(raw)
	if !ok {
		t.Fatalf("expected message to parse")
	}
	if tick.Symbol != "btcusdt" {
		t.Fatalf("unexpected symbol %s", tick.Symbol)
	}
	if tick.Price != 50000.12 {
		t.Fatalf("unexpected price %.4f", tick.Price)
	}
	if tick.Ts.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected event time %d", tick.Ts.UnixMilli())
	}
}

func TestParseMessageMalformed(t *testing.T) {
	f := New(ProviderBinance, []string{"btcusdt"}, zerolog.Nop())

	for _, raw := range []string{
		`not json`,
		`{"stream":"btcusdt@ticker","data":{"c":"not-a-number"}}`,
		`{"stream":"","data":{"c":"1.0"}}`,
	} {
		if _, ok := f.parseMessage([]byte(raw)); ok {
			t.Fatalf("expected parse failure for %q", raw)
		}
	}
}

func TestStreamURL(t *testing.T) {
	f := New(ProviderBinance, []string{"ethusdt", "btcusdt", "btcusdt"}, zerolog.Nop(), WithHost("example.test:9443"))
	want := "wss://example.test:9443/stream?streams=btcusdt@ticker/ethusdt@ticker"
	if got := f.streamURL(); got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}
