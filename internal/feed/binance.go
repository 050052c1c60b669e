package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"velotrack-go/internal/market"
	"velotrack-go/internal/metrics"
)

// binanceEnvelope is the combined-stream wrapper: one logical subscription
// multiplexes every symbol, demultiplexed by the stream identifier.
type binanceEnvelope struct {
	Stream string        `json:"stream"`
	Data   binanceTicker `json:"data"`
}

type binanceTicker struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"` // ms since epoch
}

func (f *Feed) streamURL() string {
	symbols := f.snapshotSymbols()
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = sym + "@ticker"
	}
	return fmt.Sprintf("wss://%s/stream?streams=%s", f.host, strings.Join(streams, "/"))
}

// runBinance drives the reconnect cycle: disconnected → connecting →
// connected → message loop, back to disconnected on any close or error. The
// delay doubles on each failed cycle up to the cap and resets once a
// connection is established.
func (f *Feed) runBinance(ctx context.Context, out chan<- market.Tick) error {
	url := f.streamURL()
	delay := f.reconnectBase

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Info().Str("state", stateConnecting.String()).Int("symbols", len(f.snapshotSymbols())).Msg("dialing feed")
		connected, err := f.consumeStream(ctx, url, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.reconnectBase
		}
		f.log.Warn().Err(err).Str("state", stateDisconnected.String()).Dur("retry_in", delay).Msg("feed disconnected")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > f.reconnectMax {
			delay = f.reconnectMax
		}
	}
}

// consumeStream reports whether the connection was established, plus the
// error that ended it. A timed-out dial counts as a failed attempt.
func (f *Feed) consumeStream(ctx context.Context, url string, out chan<- market.Tick) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: f.connectTimeout}
	dialCtx, dialCancel := context.WithTimeout(ctx, f.connectTimeout)
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.log.Info().Str("state", stateConnected.String()).Msg("connected market data feed")
	metrics.FeedConnected.Set(1)
	defer metrics.FeedConnected.Set(0)

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(f.stallWarning + 30*time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(f.stallWarning + 30*time.Second))
		return nil
	})

	var lastMsg atomic.Int64
	lastMsg.Store(time.Now().UnixNano())

	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()
	go f.keepalive(loopCtx, conn)
	go f.watchLiveness(loopCtx, &lastMsg)

	var count int64
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.log.Warn().Int64("messages", count).Msg("feed message loop ended")
			return true, err
		}
		lastMsg.Store(time.Now().UnixNano())
		count++
		conn.SetReadDeadline(time.Now().Add(f.stallWarning + 30*time.Second))

		tick, ok := f.parseMessage(message)
		if !ok {
			continue
		}

		select {
		case out <- tick:
			metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// parseMessage decodes one combined-stream frame. Malformed frames are logged
// and skipped; they never end the connection.
func (f *Feed) parseMessage(message []byte) (market.Tick, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode feed message")
		return market.Tick{}, false
	}

	symbol := parseStreamSymbol(env.Stream)
	if symbol == "" {
		symbol = strings.ToLower(env.Data.Symbol)
	}
	if symbol == "" {
		f.log.Warn().Str("stream", env.Stream).Msg("feed message without symbol")
		return market.Tick{}, false
	}

	px, err := strconv.ParseFloat(env.Data.LastPrice, 64)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("invalid price from feed")
		return market.Tick{}, false
	}

	ts := time.Now()
	if env.Data.EventTime > 0 {
		ts = time.UnixMilli(env.Data.EventTime)
	}
	return market.Tick{Symbol: symbol, Price: px, Ts: ts}, true
}

func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.log.Warn().Err(err).Msg("feed ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchLiveness warns when no message has arrived for the stall duration.
// Warning only: the ping/pong keepalive is the primary liveness mechanism.
func (f *Feed) watchLiveness(ctx context.Context, lastMsg *atomic.Int64) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			silent := time.Since(time.Unix(0, lastMsg.Load()))
			if silent > f.stallWarning {
				f.log.Warn().Dur("silent_for", silent).Msg("no feed messages received")
			}
		case <-ctx.Done():
			return
		}
	}
}

// parseStreamSymbol extracts the symbol from a stream id like "btcusdt@ticker".
func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 {
		return ""
	}
	return strings.ToLower(parts[0])
}
