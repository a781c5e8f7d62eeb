// Package metrics reads per-source ingestion metrics from the content pipeline's reporting API.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/evaluation"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
	"github.com/source-vetting/pkg/ratelimit"
)

var _ evaluation.MetricsProvider = (*HTTPProvider)(nil)

// StatusError is a non-success answer from the metrics API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("metrics api returned %d: %s", e.StatusCode, e.Body)
}

// HTTPProvider fetches raw metrics over HTTP
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	retries     int
	backoff     time.Duration
	log         *logger.Logger
}

// NewHTTPProvider creates a metrics client for cfg.BaseURL
func NewHTTPProvider(cfg config.MetricsConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: limiter,
		retries:     2,
		backoff:     500 * time.Millisecond,
		log:         log.WithComponent("metrics"),
	}
}

// metricsResponse is the wire form of one source's window metrics
type metricsResponse struct {
	SourceID        string         `json:"source_id"`
	WindowStart     time.Time      `json:"window_start"`
	WindowEnd       time.Time      `json:"window_end"`
	MonitoringSince *time.Time     `json:"monitoring_since"`
	TotalItems      int            `json:"total_items"`
	RelevanceCounts map[string]int `json:"relevance_counts"`
	ApprovalRate    float64        `json:"approval_rate"`
	DuplicateRate   float64        `json:"duplicate_rate"`
	Completeness    float64        `json:"completeness"`
	Reliability     float64        `json:"reliability"`
	LatencySeconds  float64        `json:"average_latency_seconds"`
	ErrorRate       float64        `json:"error_rate"`
	UniqueAccepted  int            `json:"unique_accepted"`
	HighValue       int            `json:"high_value"`
	Downstream      int            `json:"downstream_successes"`
}

func (r *metricsResponse) raw() *evaluation.RawMetrics {
	out := &evaluation.RawMetrics{
		SourceID:    r.SourceID,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Volume: models.VolumeMetrics{
			TotalItems:      r.TotalItems,
			RelevanceCounts: r.RelevanceCounts,
		},
		Quality: models.QualityMetrics{
			ApprovalRate:  r.ApprovalRate,
			DuplicateRate: r.DuplicateRate,
			Completeness:  r.Completeness,
		},
		Technical: models.TechnicalMetrics{
			Reliability:    r.Reliability,
			AverageLatency: time.Duration(r.LatencySeconds * float64(time.Second)),
			ErrorRate:      r.ErrorRate,
		},
		Value: models.ValueMetrics{
			UniqueAccepted:      r.UniqueAccepted,
			HighValue:           r.HighValue,
			DownstreamSuccesses: r.Downstream,
		},
	}
	if r.MonitoringSince != nil {
		out.MonitoringSince = *r.MonitoringSince
	}
	if out.Volume.RelevanceCounts == nil {
		out.Volume.RelevanceCounts = map[string]int{}
	}
	return out
}

// GetMetrics returns the metrics of sourceID over [start, end].
// A source the pipeline has never seen reports evaluation.ErrInsufficientData.
func (p *HTTPProvider) GetMetrics(ctx context.Context, sourceID string, start, end time.Time) (*evaluation.RawMetrics, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/v1/sources/%s/metrics?%s", p.baseURL, url.PathEscape(sourceID), q.Encode())

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.backoff
	policy.MaxElapsedTime = 0

	var resp metricsResponse
	op := func() error {
		if p.rateLimiter != nil {
			if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterMetrics); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limit error: %w", err))
			}
		}
		return p.get(ctx, endpoint, &resp)
	}
	notify := func(err error, wait time.Duration) {
		p.log.Debug().Err(err).Str("source_id", sourceID).Dur("retry_in", wait).Msg("Metrics request failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.retries)), ctx), notify)
	var serr *StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: no metrics recorded for source %s", evaluation.ErrInsufficientData, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics for %s: %w", sourceID, err)
	}

	p.log.Debug().
		Str("source_id", sourceID).
		Int("total_items", resp.TotalItems).
		Float64("reliability", resp.Reliability).
		Msg("Metrics received")

	raw := resp.raw()
	if raw.SourceID == "" {
		raw.SourceID = sourceID
	}
	return raw, nil
}

func (p *HTTPProvider) get(ctx context.Context, endpoint string, out *metricsResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		serr := &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return serr
		}
		return backoff.Permanent(serr)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode metrics: %w", err))
	}
	return nil
}
