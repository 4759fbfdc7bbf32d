package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nihr43/object-ingest/internal/app"
	"github.com/nihr43/object-ingest/internal/config"
	"github.com/nihr43/object-ingest/internal/report"
)

var version = "dev"

const (
	exitOK        = 0
	exitFatal     = 1
	exitJobFailed = 2
)

type options struct {
	cfgFile        string
	logLevel       string
	bucket         string
	workers        int
	unlock         bool
	noop           bool
	failOnJobError bool
}

// exitCodeError carries a non-zero exit status that is not a fatal error.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "object-ingest",
		Short: "Sweep a bucket and normalise the objects in it",
		Long: `object-ingest scans one bucket of an S3-compatible store, converts legacy
images (HEIC/HEIF) to JPEG and repairs JPEGs stored with the wrong
content-type. Objects are locked with tags while they are worked on, so
several instances can sweep the same bucket at once.

  object-ingest -c config.yaml            # process the bucket
  object-ingest -c config.yaml --noop     # list what would change
  object-ingest -c config.yaml --unlock   # clear every lock, then exit`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, out)
		},
	}

	cmd.Flags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (YAML)")
	cmd.Flags().StringVarP(&opts.logLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "bucket to sweep (overrides config and BUCKET)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent jobs (default: half the CPUs)")
	cmd.Flags().BoolVar(&opts.unlock, "unlock", false, "remove every lock in the bucket and exit")
	cmd.Flags().BoolVar(&opts.noop, "noop", false, "list what would change without locking or writing")
	cmd.Flags().BoolVar(&opts.failOnJobError, "fail-on-job-error", false, "exit with status 2 if any object failed")
	cmd.MarkFlagsMutuallyExclusive("unlock", "noop")

	return cmd
}

func run(cmd *cobra.Command, opts *options, out io.Writer) error {
	setupLogging(opts.logLevel)

	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("bucket") {
		cfg.Store.Bucket = opts.bucket
	}
	if cmd.Flags().Changed("workers") {
		cfg.Dispatch.Workers = opts.workers
	}
	if !cmd.Flags().Changed("log-level") {
		setupLogging(cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Sentry.SentryDSN != "" {
		if err := initSentry(&cfg.Sentry, version); err != nil {
			return fmt.Errorf("sentry.Init: %w", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	if opts.unlock {
		stats, err := a.Unlock(ctx)
		fmt.Fprintf(out, "unlocked %d of %d objects (%d failed)\n", stats.Unlocked, stats.Scanned, stats.Failed)
		if err != nil && stats.Scanned == 0 {
			return err
		}
		if err != nil {
			log.Error().Err(err).Msg("some locks could not be removed")
			if opts.failOnJobError {
				return exitCodeError{code: exitJobFailed}
			}
		}
		return nil
	}

	var rep *report.Report
	if opts.noop {
		rep, err = a.Inspect(ctx)
	} else {
		rep, err = a.Process(ctx)
	}
	if err != nil {
		return err
	}

	if err := report.Render(out, rep.Results); err != nil {
		return err
	}
	if !rep.DryRun {
		if n := report.CaptureFailures(nil, rep.Results); n > 0 {
			log.Debug().Int("events", n).Msg("failures reported to sentry")
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := a.PushMetrics(pctx); err != nil {
			log.Warn().Err(err).Msg("metrics push failed")
		}
		cancel()
	}

	if opts.failOnJobError && rep.HasFailures() {
		return exitCodeError{code: exitJobFailed}
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ec exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitFatal
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	code := exitCode(err)
	if code == exitFatal {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		log.Error().Err(err).Msg("object-ingest failed")
	}
	os.Exit(code)
}
