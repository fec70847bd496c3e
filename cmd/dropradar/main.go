package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/notify"
	"github.com/keenturbo/dropradar/internal/reconcile"
	"github.com/keenturbo/dropradar/internal/runner"
	"github.com/keenturbo/dropradar/internal/storage"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	listOnly   = flag.Bool("list", false, "Print stored domains and exit")
	listNew    = flag.Bool("new", false, "With -list, only domains from the latest scan")
	listMinDA  = flag.Int("min-da", 0, "With -list, minimum DA score")
	listLimit  = flag.Int("limit", 50, "With -list or -runs, maximum rows")
	listRuns   = flag.Bool("runs", false, "Print recent scan runs and exit")
	csvPath    = flag.String("csv", "", "Write the ranked shortlist to this CSV file (overrides export.csv_path)")
	once       = flag.Bool("once", false, "Run a single scan even if scan.interval is set")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if *listOnly {
		if err := printDomains(ctx, store); err != nil {
			logger.Fatal("Failed to list domains: %v", err)
		}
		return
	}
	if *listRuns {
		if err := printScanRuns(ctx, store); err != nil {
			logger.Fatal("Failed to list scan runs: %v", err)
		}
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, cfg.Metrics.Namespace)

	orchestrator, err := buildOrchestrator(ctx, cfg, m)
	if err != nil {
		logger.Fatal("Failed to build scan pipeline: %v", err)
	}

	var telegramClient *notify.Telegram
	var sinks []notify.Sink
	if cfg.Notify.Telegram.Enabled {
		telegramClient, err = notify.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		sinks = append(sinks, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	if cfg.Notify.Bark.Enabled {
		sinks = append(sinks, notify.NewBark(cfg.Notify.Bark))
		logger.Info("Bark notifications enabled")
	}

	alerter := notify.NewAlerter(cfg.Notify, store, sinks...)
	alerter.SetMetrics(m)

	opts := runner.Options{
		Dispatcher: alerter,
		History:    store,
		PersistAll: cfg.Scan.PersistScope == "all",
		CSVPath:    cfg.Export.CSVPath,
	}
	if *csvPath != "" {
		opts.CSVPath = *csvPath
	}
	if telegramClient != nil {
		opts.Ops = telegramClient
	}
	r := runner.New(orchestrator, reconcile.New(store, reconcile.WithMetrics(m)), opts)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Metrics.ListenAddr != "" {
		srv := startMetricsServer(cfg.Metrics.ListenAddr, reg)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	interval := cfg.Scan.Interval
	if *once {
		interval = 0
	}
	if telegramClient != nil && interval > 0 {
		telegramClient.ListenForCommands(ctx, store)
	}

	logger.Info("Starting scanner (interval: %v, min_candidates: %d, top_n: %d, persist_scope: %s)",
		interval,
		cfg.Scan.MinCandidates,
		cfg.Scan.TopN,
		cfg.Scan.PersistScope,
	)
	r.Loop(ctx, interval, cfg.Scan.Timeout)
	logger.Info("Service stopped")
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func printDomains(ctx context.Context, repo storage.Repository) error {
	domains, err := repo.ListDomains(ctx, storage.DomainFilter{
		MinDA:   *listMinDA,
		OnlyNew: *listNew,
		Limit:   *listLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDA\tSPAM\tBACKLINKS\tREF\tAGE\tTIER\tSTATUS\tNEW\tLAST SEEN")
	for _, d := range domains {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			d.Name, d.DAScore, d.SpamScore, d.Backlinks, d.ReferringDomains, d.DomainAgeYears,
			d.SourceTier, d.Status, yesNo(d.IsNew), d.LastSeen.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printScanRuns(ctx context.Context, repo storage.Repository) error {
	runs, err := repo.ListScanRuns(ctx, *listLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tOUTCOME\tCANDIDATES\tPERSISTED\tREASON")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.Outcome, r.Candidates, r.Persisted, r.Reason)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
