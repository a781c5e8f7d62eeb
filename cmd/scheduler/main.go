package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/source-vetting/internal/app"
	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/pilot"
	"github.com/source-vetting/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vetting-scheduler",
		Short: "Background scheduler for source vetting",
		Long: `Runs pilot sweeps and production re-evaluations on a schedule and resumes
submissions interrupted by a restart. Run it as a service.`,
		RunE:         runScheduler,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// jobs is the part of the lifecycle service the scheduler drives
type jobs interface {
	SweepPilots(ctx context.Context) (*pilot.RunResult, error)
	ReevaluateAllProduction(ctx context.Context) (*pilot.RunResult, error)
	ResumePending(ctx context.Context) (*pilot.RunResult, error)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting source vetting scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vetting, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer vetting.Close()

	srv := startHealthServer(cfg.Scheduler.HealthPort)

	if cfg.Scheduler.ResumeOnStartup {
		runJob(ctx, "resume", vetting.Service.ResumePending)
	}

	c := cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	if err := scheduleJobs(ctx, c, cfg.Scheduler, vetting.Service); err != nil {
		return err
	}

	c.Start()
	log.Info().Msg("Scheduler started")

	<-ctx.Done()

	log.Info().Msg("Shutting down scheduler")
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Health server shutdown failed")
	}
	return nil
}

// scheduleJobs registers the recurring lifecycle jobs on c
func scheduleJobs(ctx context.Context, c *cron.Cron, sc config.SchedulerConfig, svc jobs) error {
	_, err := c.AddFunc(sc.PilotSweepCron, func() {
		runJob(ctx, "pilot-sweep", svc.SweepPilots)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pilot sweep: %w", err)
	}
	log.Info().Str("cron", sc.PilotSweepCron).Msg("Pilot sweep scheduled")

	_, err = c.AddFunc(sc.ProductionCron, func() {
		runJob(ctx, "production-evaluation", svc.ReevaluateAllProduction)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule production evaluation: %w", err)
	}
	log.Info().Str("cron", sc.ProductionCron).Msg("Production evaluation scheduled")

	return nil
}

func runJob(ctx context.Context, name string, fn func(context.Context) (*pilot.RunResult, error)) {
	if ctx.Err() != nil {
		return
	}
	log.Info().Str("job", name).Msg("Running scheduled job")

	result, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		return
	}
	for _, e := range result.Errors {
		log.Error().Err(e).Str("job", name).Msg("Job item failed")
	}

	log.Info().
		Str("job", name).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("Scheduled job completed")
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Source Vetting Scheduler"))
	})
	return mux
}

// startHealthServer serves health checks for the hosting platform.
// The PORT environment variable overrides the configured port.
func startHealthServer(port string) *http.Server {
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           healthMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Msg("Health check server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health server failed")
		}
	}()
	return srv
}
