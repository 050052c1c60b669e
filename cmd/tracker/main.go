package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"velotrack-go/internal/alert"
	"velotrack-go/internal/config"
	"velotrack-go/internal/feed"
	"velotrack-go/internal/history"
	"velotrack-go/internal/market"
	"velotrack-go/internal/metrics"
	"velotrack-go/internal/scheduler"
	"velotrack-go/internal/telegram"
	"velotrack-go/internal/util"
	"velotrack-go/internal/velocity"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("VELOTRACK_CONFIG", "internal/config/config.yaml"))
	if err != nil {
		log := util.NewLogger("info")
		log.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	windows := make([]market.Window, 0, len(cfg.Tracker.WindowsMin))
	percent := make(map[market.Window]float64, len(cfg.Thresholds.PercentPerMin))
	for _, m := range cfg.Tracker.WindowsMin {
		w := market.Window(m)
		windows = append(windows, w)
		percent[w] = cfg.Thresholds.PercentPerMin[m]
	}

	book := history.New(cfg.Feed.Symbols, windows, cfg.Tracker.HistoryMaxLen)

	var transport alert.Transport
	var tg *telegram.Service
	if cfg.Telegram.Enabled {
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		if token == "" {
			log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required when telegram is enabled")
		}
		tg = telegram.New(log, token, cfg.Telegram.ChatIDs, telegram.Options{
			BaseURL:      cfg.Telegram.BaseURL,
			Timeout:      time.Duration(cfg.Telegram.Timeout) * time.Second,
			MaxPerMinute: cfg.Telegram.MaxPerMinute,
			MaxRetries:   cfg.Telegram.MaxRetries,
			SSLVerify:    cfg.Telegram.SSLVerifyEnabled(),
			CABundlePath: cfg.Telegram.CABundlePath,
		})
		transport = tg
		defer tg.Close()
	}

	var recorder *alert.Recorder
	if cfg.Alerts.RecorderPath != "" {
		recorder, err = alert.NewRecorder(cfg.Alerts.RecorderPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open alert recorder")
		}
		defer recorder.Close()
	}

	coordinator := alert.New(log, transport, time.Duration(cfg.Alerts.CooldownMinutes)*time.Minute, cfg.Alerts.QueueSize, recorder)
	batcher := scheduler.New(log, book, coordinator, scheduler.Params{
		Thresholds:  velocity.Thresholds{PercentPerMin: percent, USDPerMin: cfg.Thresholds.USDPerMin},
		MinCoverage: cfg.Tracker.MinCoverage,
		ReevalEvery: time.Duration(cfg.Tracker.ReevalInterval) * time.Second,
		BatchSize:   cfg.Tracker.BatchSize,
		PoolSize:    cfg.Tracker.WorkerPoolSize,
		Tick:        time.Duration(cfg.Tracker.PeriodicTick) * time.Second,
	})

	f := feed.New(cfg.Feed.Provider, cfg.Feed.Symbols, log,
		feed.WithHost(cfg.Feed.Host),
		feed.WithConnectTimeout(time.Duration(cfg.Feed.ConnectTimeout)*time.Second),
		feed.WithStallWarning(time.Duration(cfg.Feed.StallWarning)*time.Second),
		feed.WithReconnectBackoff(time.Duration(cfg.Feed.ReconnectBase)*time.Second, time.Duration(cfg.Feed.ReconnectMax)*time.Second),
	)
	ticks := make(chan market.Tick, 1024)

	go func() {
		if err := f.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()
	go coordinator.Run(ctx)
	go batcher.Run(ctx)

	log.Info().
		Int("symbols", len(cfg.Feed.Symbols)).
		Ints("windows_min", cfg.Tracker.WindowsMin).
		Bool("telegram", cfg.Telegram.Enabled).
		Msg("velocity tracker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case tk := <-ticks:
			if book.Append(tk.Symbol, tk.Price, tk.Ts) {
				batcher.MarkDirty(tk.Symbol)
			}
		}
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
