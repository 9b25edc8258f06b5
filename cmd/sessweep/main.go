// Command sessweep detects and repairs drift between user session indices
// and session records. By default it removes orphan index entries; with
// --include-expired it also force-expires sessions older than the maximum
// age. --dry-run reports without mutating and always exits zero. The exit
// status is non-zero only when the backend cannot be reached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/appauth/sessionstore/cache"
	redisbackend "github.com/appauth/sessionstore/cache/redis"
	"github.com/appauth/sessionstore/config"
	"github.com/appauth/sessionstore/sweep"
)

var (
	flagDryRun         bool
	flagIncludeExpired bool
	flagMaxAgeDays     int
	flagSchedule       string
)

var rootCmd = &cobra.Command{
	Use:   "sessweep",
	Short: "Repair drift between session records and user session indices",
	Long: `sessweep scans every user session index in the cache, classifies each
referenced session as live or orphan, and removes references whose record no
longer exists. With --include-expired it additionally deletes live sessions
older than the configured maximum age (this forces logout and is opt-in).`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report only, mutate nothing")
	rootCmd.Flags().BoolVar(&flagIncludeExpired, "include-expired", false, "also delete sessions older than --max-age-days")
	rootCmd.Flags().IntVar(&flagMaxAgeDays, "max-age-days", 0, "expiry threshold in days (default from CLEANUP_MAX_AGE_DAYS)")
	rootCmd.Flags().StringVar(&flagSchedule, "schedule", "", "run as a daemon on this cron expression instead of once")
}

func run(cmd *cobra.Command, _ []string) error {
	// Best effort, same as the deployment scripts: a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	if cfg.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR not configured")
	}

	ctx := log.Logger.WithContext(cmd.Context())
	backend, err := redisbackend.New(ctx, redisbackend.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect to backend: %w", err)
	}
	defer backend.Close()

	maxAge := cfg.CleanupMaxAge()
	if flagMaxAgeDays > 0 {
		maxAge = time.Duration(flagMaxAgeDays) * 24 * time.Hour
	}

	sweeper := sweep.New(backend, cache.NewKeys(cfg.RedisPrefix), sweep.Config{
		MaxAge:    maxAge,
		ScanCount: int64(cfg.CleanupScanCount),
	})
	mode := selectMode(cfg)

	if flagSchedule != "" {
		return runScheduled(sweeper, mode)
	}
	return runOnce(ctx, sweeper, mode)
}

func selectMode(cfg *config.Config) sweep.Mode {
	switch {
	case flagDryRun:
		return sweep.ModeReport
	case flagIncludeExpired || cfg.CleanupIncludeExpired:
		return sweep.ModeRepairAll
	default:
		return sweep.ModeRepairOrphans
	}
}

func runOnce(ctx context.Context, sweeper *sweep.Sweeper, mode sweep.Mode) error {
	report, err := sweeper.Run(ctx, mode)
	printReport(mode, report)
	if err != nil {
		// Partial report already printed; connectivity failure is the one
		// condition that flips the exit status.
		return fmt.Errorf("sweep aborted: %w", err)
	}
	return nil
}

func runScheduled(sweeper *sweep.Sweeper, mode sweep.Mode) error {
	if mode == sweep.ModeReport {
		return fmt.Errorf("--dry-run cannot be combined with --schedule")
	}

	scheduler, err := sweep.NewScheduler(sweeper, flagSchedule, mode)
	if err != nil {
		return fmt.Errorf("invalid --schedule expression: %w", err)
	}

	scheduler.Start()
	log.Info().Str("schedule", flagSchedule).Stringer("mode", mode).Msg("sweep scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down, waiting for in-flight sweep")
	scheduler.Stop()
	return nil
}

func printReport(mode sweep.Mode, r *sweep.Report) {
	fmt.Printf("=== session cleanup report (%s) ===\n", mode)
	fmt.Printf("indices scanned:       %d\n", r.IndicesScanned)
	fmt.Printf("session refs checked:  %d\n", r.RefsChecked)
	fmt.Printf("live found:            %d\n", r.LiveFound)
	fmt.Printf("orphans found:         %d\n", r.OrphansFound)
	fmt.Printf("orphans removed:       %d\n", r.OrphansRemoved)
	fmt.Printf("expired removed:       %d\n", r.ExpiredRemoved)
	fmt.Printf("empty indices removed: %d\n", r.EmptyIndicesRemoved)
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
