// Package app wires the vetting service from configuration. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/source-vetting/internal/admission"
	"github.com/source-vetting/internal/ai"
	"github.com/source-vetting/internal/classifier"
	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/evaluation"
	"github.com/source-vetting/internal/fetch"
	"github.com/source-vetting/internal/lease"
	"github.com/source-vetting/internal/metrics"
	"github.com/source-vetting/internal/notify"
	"github.com/source-vetting/internal/pilot"
	"github.com/source-vetting/internal/storage/sqlite"
	"github.com/source-vetting/pkg/logger"
	"github.com/source-vetting/pkg/ratelimit"
)

const notifyTimeout = 15 * time.Second

// App holds the wired components of one process
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Repo       *sqlite.Repository
	Dedup      *dedup.Engine
	Service    *pilot.Service
	Dispatcher *notify.Dispatcher

	leases lease.Manager
}

// Option customizes wiring, mostly for tests
type Option func(*options)

type options struct {
	metrics evaluation.MetricsProvider
	sinks   []notify.Sink
}

// WithMetricsProvider replaces the HTTP metrics client
func WithMetricsProvider(p evaluation.MetricsProvider) Option {
	return func(o *options) { o.metrics = p }
}

// WithSink adds a notification sink
func WithSink(s notify.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// New opens storage and builds the lifecycle service
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		FetchPerSecond:     cfg.RateLimit.FetchRequestsPerSecond,
		AnthropicPerMinute: cfg.RateLimit.AnthropicRequestsPerMinute,
		MetricsPerSecond:   cfg.RateLimit.MetricsRequestsPerSecond,
	})

	fetcher := fetch.NewHTTPFetcher(cfg.Fetcher, limiter, log)
	robots := fetch.NewRobotsPolicy(fetcher, log)

	vocab, err := admission.LoadVocabulary(cfg.Admission.VocabularyFile)
	if err != nil {
		repo.Close()
		return nil, err
	}

	var semantic dedup.SemanticScorer
	if cfg.Anthropic.Enabled && cfg.Anthropic.APIKey != "" {
		semantic = ai.NewClient(cfg.Anthropic, limiter, log)
		log.Info().Str("model", cfg.Anthropic.Model).Msg("Semantic duplicate scoring enabled")
	}
	engine := dedup.NewEngine(cfg.Dedup, repo, semantic, log)

	validator := admission.NewValidator(cfg.Admission, fetcher, robots, repo, engine, vocab, log)
	cls := classifier.New(cfg.Classifier, fetcher, log)

	provider := o.metrics
	if provider == nil {
		provider = metrics.NewHTTPProvider(cfg.Metrics, limiter, log)
	}
	evaluator := evaluation.New(cfg.Evaluation, provider, log)

	leases, err := lease.New(cfg.Lease)
	if err != nil {
		repo.Close()
		return nil, err
	}

	sinks := []notify.Sink{notify.NewLogSink(log)}
	sheets, err := notify.NewSheetsSink(ctx, cfg.Tracker, log)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create lifecycle ledger, continuing without it")
	} else if sheets != nil {
		sinks = append(sinks, sheets)
	}
	sinks = append(sinks, o.sinks...)
	dispatcher := notify.NewDispatcher(notifyTimeout, log, sinks...)

	svc := pilot.NewService(cfg, repo, validator, cls, evaluator, engine, leases, dispatcher, log)

	return &App{
		Config:     cfg,
		Log:        log,
		Repo:       repo,
		Dedup:      engine,
		Service:    svc,
		Dispatcher: dispatcher,
		leases:     leases,
	}, nil
}

// Close flushes notifications and releases storage
func (a *App) Close() error {
	a.Dispatcher.Close()
	if c, ok := a.leases.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close lease backend")
		}
	}
	return a.Repo.Close()
}
