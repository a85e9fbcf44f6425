package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gridsense/unitexport/internal/config"
	"github.com/gridsense/unitexport/internal/export"
	"github.com/gridsense/unitexport/internal/retrieval"
	"github.com/gridsense/unitexport/internal/runner"
	"github.com/gridsense/unitexport/internal/schema"
	"github.com/gridsense/unitexport/internal/store"
)

// Command unitexport retrieves time-series sensor readings for the units of
// a site and exports each unit as a CSV file with a metadata manifest.
//
// Usage:
//
//	unitexport -prefix FRM -units BD361-0,H356-0 -start 2024-01-01 -end 2024-01-02
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-prefix string
//	      site prefix selecting the field mapping (FRM, TSP, ...)
//	-units string
//	      comma-separated unit identifiers
//	-start, -end string
//	      inclusive date range, YYYY-MM-DD (end defaults to yesterday)
//	-resolution string
//	      sample window (1s, 5s, 15s, 1m, 5m, 15m, 1h)
//	-host, -port, -database
//	      store address overrides
//	-output string
//	      output directory override
type cliFlags struct {
	configPath string
	prefix     string
	units      string
	start      string
	end        string
	resolution string
	host       string
	port       int
	database   string
	output     string
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)

	registry := schema.NewRegistry()
	if cfg.Retrieval.MappingDir != "" {
		if err := registry.LoadDir(cfg.Retrieval.MappingDir); err != nil {
			logger.Fatalf("Failed to load site mappings: %v", err)
		}
	}

	req, err := buildRequest(flags, cfg)
	if err != nil {
		logger.Fatalf("Invalid request: %v", err)
	}

	outDir := cfg.Output.Dir
	if flags.output != "" {
		outDir = flags.output
	}
	writer, err := export.NewWriter(outDir, logger)
	if err != nil {
		logger.Fatalf("Failed to prepare output directory: %v", err)
	}

	factory, err := storeFactory(cfg.Store, logger)
	if err != nil {
		logger.Fatalf("Failed to configure store: %v", err)
	}

	retrieval.RegisterMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	run, err := runner.New(registry, factory, executorConfig(cfg.Retrieval), writer, logger)
	if err != nil {
		logger.Fatalf("Failed to create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(cancel, logger)

	if cfg.Schedule.Cron != "" {
		runScheduled(ctx, run, req, cfg.Schedule.Cron, logger)
		return
	}

	result, err := run.Run(ctx, req)
	if err != nil {
		logger.Fatalf("Run failed: %v", err)
	}
	report(result, logger)
	if len(result.Artifacts) == 0 {
		os.Exit(1)
	}
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to config file")
	flag.StringVar(&f.prefix, "prefix", "", "site prefix (FRM, TSP, ...)")
	flag.StringVar(&f.units, "units", "", "comma-separated unit identifiers")
	flag.StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	flag.StringVar(&f.end, "end", "", "end date (YYYY-MM-DD, default yesterday)")
	flag.StringVar(&f.resolution, "resolution", "", "sample window (default from config)")
	flag.StringVar(&f.host, "host", "", "store host override")
	flag.IntVar(&f.port, "port", 0, "store port override")
	flag.StringVar(&f.database, "database", "", "store database override")
	flag.StringVar(&f.output, "output", "", "output directory override")
	flag.Parse()
	return f
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// buildRequest folds config defaults and CLI flags into one immutable
// request value for the run.
func buildRequest(f *cliFlags, cfg *config.Config) (retrieval.Request, error) {
	host := cfg.Store.Host
	if f.host != "" {
		host = f.host
	}
	port := cfg.Store.Port
	if f.port != 0 {
		port = f.port
	}
	database := cfg.Store.Database
	if f.database != "" {
		database = f.database
	}
	resolution := cfg.Retrieval.Resolution
	if f.resolution != "" {
		resolution = f.resolution
	}

	var units []string
	for _, u := range strings.Split(f.units, ",") {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, u)
		}
	}

	start, err := parseDate(f.start)
	if err != nil {
		return retrieval.Request{}, fmt.Errorf("bad -start: %w", err)
	}
	var end time.Time
	if f.end == "" {
		end = time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	} else {
		end, err = parseDate(f.end)
		if err != nil {
			return retrieval.Request{}, fmt.Errorf("bad -end: %w", err)
		}
	}

	return retrieval.NewRequest(host, port, database, f.prefix, units, start, end, resolution)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	return time.Parse("2006-01-02", s)
}

// storeFactory builds the per-run store constructor for the configured
// driver. The influx driver takes the address from the request; timescale
// holds one shared connection pool.
func storeFactory(cfg config.StoreConfig, logger *logrus.Logger) (runner.StoreFactory, error) {
	switch cfg.Driver {
	case "timescale":
		ts, err := store.NewTimescaleStore(cfg.ConnString)
		if err != nil {
			return nil, err
		}
		return func(retrieval.Request) (retrieval.SeriesStore, error) {
			return ts, nil
		}, nil
	default:
		return func(req retrieval.Request) (retrieval.SeriesStore, error) {
			return store.NewInfluxStore(req.Host, req.Port, req.Database, logger), nil
		}, nil
	}
}

func executorConfig(cfg config.RetrievalConfig) retrieval.ExecutorConfig {
	return retrieval.ExecutorConfig{
		MaxInFlight:    cfg.MaxInFlight,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		QueryTimeout:   cfg.QueryTimeout,
		RatePerSecond:  cfg.RatePerSecond,
		RateBurst:      cfg.RateBurst,
		CacheSize:      cfg.CacheSize,
	}
}

func runScheduled(ctx context.Context, run *runner.Runner, req retrieval.Request, spec string, logger *logrus.Logger) {
	sched := runner.NewScheduler(ctx, run, req, logger)
	if err := sched.Start(spec); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	logger.WithField("cron", spec).Info("Scheduler started")
	<-ctx.Done()
	sched.Stop()
	logger.Info("Scheduler stopped")
}

func serveMetrics(addr string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("Metrics endpoint failed")
	}
}

func handleShutdown(cancel context.CancelFunc, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")
	cancel()
}

func report(result runner.RunResult, logger *logrus.Logger) {
	for _, a := range result.Artifacts {
		logger.WithFields(logrus.Fields{
			"unit": a.UnitID,
			"rows": a.RowCount,
			"csv":  a.CSVPath,
		}).Info("Artifact written")
	}
	for _, f := range result.Failures {
		logger.WithFields(logrus.Fields{
			"unit":     f.UnitID,
			"quantity": f.Quantity,
			"kind":     string(f.Kind),
		}).Warn(f.Error())
	}
}
