package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"episoded/internal/config"
	"episoded/internal/httpapi"
	"episoded/internal/logging"
	"episoded/internal/pipeline"
)

type runFlags struct {
	addr       string
	dataRoot   string
	logLevel   string
	logFormat  string
	requestLog string
	cors       string
	seed       int64
	threshold  float64
	trainProb  float64
}

func newRunCmd(rf *rootFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulator, collect episodes and serve the control API",
		Example: "  episoded run --config episoded.yaml\n" +
			"  EPISODED_THRESHOLD=0.3 episoded run --data-root ~/datasets/nav",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(rf.configPath)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, f.requestLog, log)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8090")
	fl.StringVar(&f.dataRoot, "data-root", "", "Dataset root directory")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log output: console|json")
	fl.StringVar(&f.requestLog, "request-log", "info", "HTTP request log: off|error|info|debug")
	fl.StringVar(&f.cors, "cors", "", "Comma-separated allowed CORS origins")
	fl.Int64Var(&f.seed, "seed", 0, "PRNG seed (0 = random)")
	fl.Float64Var(&f.threshold, "threshold", 0, "Distance at which an episode ends")
	fl.Float64Var(&f.trainProb, "train-probability", 0, "Probability an episode lands in the train split")
	return cmd
}

// apply overlays flags the user set explicitly, then re-validates.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fl.Changed("data-root") {
		cfg.DataRoot = f.dataRoot
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fl.Changed("cors") {
		cfg.CORSOrigins = splitCSV(f.cors)
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fl.Changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if fl.Changed("train-probability") {
		cfg.TrainProbability = f.trainProb
	}
	return cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config, requestLog string, log zerolog.Logger) error {
	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewMux(p, httpapi.Options{
			Logger:      log.With().Str("component", "http").Logger(),
			RequestLog:  requestLog,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("data_root", cfg.DataRoot).Msg("episoded listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errc:
		log.Error().Err(serveErr).Msg("server error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful http shutdown failed")
	}
	return errors.Join(serveErr, p.Shutdown(sctx))
}
