// Package telegram delivers rendered alert messages to chat recipients with
// per-chat rate limiting and bounded retry on provider throttling.
package telegram

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"velotrack-go/internal/metrics"
)

// Status classifies the outcome of one delivery attempt chain.
type Status string

const (
	// StatusDelivered means the provider accepted the message.
	StatusDelivered Status = "delivered"
	// StatusRateLimited means the local limiter skipped the send entirely.
	StatusRateLimited Status = "rate_limited"
	// StatusFailed covers terminal provider errors and exhausted retries.
	StatusFailed Status = "failed"
)

// Options tunes the transport.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxPerMinute int
	MaxRetries   int
	Concurrency  int
	SSLVerify    bool
	CABundlePath string
}

// Service sends messages to every configured chat through the Bot API.
type Service struct {
	log          zerolog.Logger
	client       *resty.Client
	token        string
	chatIDs      []int64
	maxPerMinute int
	maxRetries   int
	sem          chan struct{}

	mu   sync.Mutex
	sent map[int64][]time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// apiResponse is the Bot API envelope; 429 replies carry a retry hint in
// parameters.retry_after (seconds).
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// New constructs the transport. The resty client keeps connections alive
// across sends and carries the TLS policy (verification off, or a custom CA
// bundle for proxied environments).
func New(log zerolog.Logger, token string, chatIDs []int64, opts Options) *Service {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = 15
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout)
	if !opts.SSLVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	} else if opts.CABundlePath != "" {
		client.SetRootCertificate(opts.CABundlePath)
	}

	return &Service{
		log:          log.With().Str("component", "telegram").Logger(),
		client:       client,
		token:        token,
		chatIDs:      append([]int64(nil), chatIDs...),
		maxPerMinute: opts.MaxPerMinute,
		maxRetries:   opts.MaxRetries,
		sem:          make(chan struct{}, opts.Concurrency),
		sent:         make(map[int64][]time.Time),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// SendToAll fans out one message to every chat concurrently. Failures for one
// chat never affect the others. Returns per-chat outcomes keyed by chat ID.
func (s *Service) SendToAll(ctx context.Context, text string) map[int64]Status {
	results := make(map[int64]Status, len(s.chatIDs))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, chatID := range s.chatIDs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			status := s.send(ctx, id, text)
			metrics.NotificationsTotal.WithLabelValues(string(status)).Inc()
			mu.Lock()
			results[id] = status
			mu.Unlock()
		}(chatID)
	}
	wg.Wait()
	return results
}

// send runs the bounded retry loop for one chat. Retry is an explicit loop
// with an attempt counter; the provider's retry_after hint governs the wait.
func (s *Service) send(ctx context.Context, chatID int64, text string) Status {
	if !s.allow(chatID) {
		s.log.Warn().Int64("chat_id", chatID).Msg("rate limit reached, skipping message")
		return StatusRateLimited
	}

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	for attempt := 0; ; attempt++ {
		var body apiResponse
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(payload).
			SetResult(&body).
			SetError(&body).
			Post(fmt.Sprintf("/bot%s/sendMessage", s.token))

		if err != nil {
			// Transport-level failure; the pooled connection may have been
			// closed between sends. One short pause, then a fresh attempt.
			if attempt < s.maxRetries && ctx.Err() == nil {
				s.log.Warn().Err(err).Int64("chat_id", chatID).Int("attempt", attempt+1).Msg("send failed, retrying")
				s.sleep(ctx, 500*time.Millisecond)
				continue
			}
			s.log.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
			return StatusFailed
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			s.record(chatID)
			return StatusDelivered

		case http.StatusTooManyRequests:
			retryAfter := body.Parameters.RetryAfter
			if retryAfter <= 0 {
				retryAfter = 5
			}
			if attempt < s.maxRetries && ctx.Err() == nil {
				s.log.Warn().
					Int64("chat_id", chatID).
					Int("retry_after_secs", retryAfter).
					Int("attempt", attempt+1).
					Int("max_retries", s.maxRetries).
					Msg("provider rate limited, backing off")
				s.sleep(ctx, time.Duration(retryAfter)*time.Second)
				continue
			}
			s.log.Error().Int64("chat_id", chatID).Msg("max retries reached")
			return StatusFailed

		case http.StatusForbidden:
			s.log.Error().Int64("chat_id", chatID).Str("description", body.Description).
				Msg("bot blocked or chat never started")
			return StatusFailed

		case http.StatusBadRequest:
			s.log.Error().Int64("chat_id", chatID).Str("description", body.Description).
				Msg("bad request")
			return StatusFailed

		default:
			s.log.Error().Int64("chat_id", chatID).Int("status", resp.StatusCode()).
				Str("description", body.Description).Msg("unexpected response")
			return StatusFailed
		}
	}
}

// allow prunes timestamps older than one minute and checks the cap. Over the
// cap the message is skipped outright, never queued.
func (s *Service) allow(chatID int64) bool {
	now := s.now()
	cutoff := now.Add(-time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.sent[chatID][:0]
	for _, ts := range s.sent[chatID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	s.sent[chatID] = recent
	return len(recent) < s.maxPerMinute
}

func (s *Service) record(chatID int64) {
	s.mu.Lock()
	s.sent[chatID] = append(s.sent[chatID], s.now())
	s.mu.Unlock()
}

// Close releases pooled connections.
func (s *Service) Close() {
	s.client.GetClient().CloseIdleConnections()
}
