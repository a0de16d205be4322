package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServiceSummary is one service's line in the posted report.
type ServiceSummary struct {
	Name               string `json:"name"`
	Online             bool   `json:"online"`
	RestartsThisWindow int    `json:"restartsThisWindow"`
}

// Summary is the webhook payload. No response body is consumed.
type Summary struct {
	Timestamp     time.Time        `json:"timestamp"`
	Hostname      string           `json:"hostname"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
	Services      []ServiceSummary `json:"services"`
}

// Reporter posts a health summary to a configured endpoint on its own
// coarse timer, independent of the supervisor's scan loop. Reporting is
// best-effort: failures are logged and swallowed, and a dead endpoint
// never affects restart decisions, only the reporter's own next attempt.
type Reporter struct {
	url      string
	interval time.Duration
	client   *http.Client
	source   func() Summary
	logger   *slog.Logger
}

func New(url string, interval, timeout time.Duration, source func() Summary, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		source:   source,
		logger:   logger,
	}
}

// Run posts summaries until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Post(ctx); err != nil {
				r.logger.Warn("health report failed", "url", r.url, "error", err)
			}
		}
	}
}

// Post sends one summary now.
func (r *Reporter) Post(ctx context.Context) error {
	body, err := json.Marshal(r.source())
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("report endpoint returned %d", resp.StatusCode)
	}
	return nil
}
