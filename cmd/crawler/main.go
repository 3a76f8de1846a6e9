package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/infra/browser"
	"github.com/akarpovich/riacrawler/internal/infra/collector"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
	"github.com/akarpovich/riacrawler/internal/infra/persistence/pg"
	"github.com/akarpovich/riacrawler/internal/logging"
	"github.com/akarpovich/riacrawler/internal/scraper"
	"github.com/akarpovich/riacrawler/param"
)

//go:embed appconfig/appconfig.json
var defaultConfig []byte

func main() {
	opts := &param.Crawl{}
	var cfgPath, metricsAddr string

	root := &cobra.Command{
		Use:           "crawler",
		Short:         "auto.ria.com listing harvester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (embedded defaults when empty)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl search results into Postgres and print the run summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath, metricsAddr, opts)
		},
	}
	runCmd.Flags().StringVar(&opts.StartURL, "start-url", "", "search page to start from, overrides the configured one")
	runCmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "stop after this many search pages")
	runCmd.Flags().IntVar(&opts.MaxCars, "max-cars", 0, "stop after dispatching this many listings")
	runCmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "listing workers")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	root.AddCommand(runCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "riacrawler:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath, metricsAddr string, opts *param.Crawl) error {
	raw := defaultConfig
	if cfgPath != "" {
		var err error
		if raw, err = os.ReadFile(cfgPath); err != nil {
			return err
		}
	}
	cfg, err := config.ParseConfig(raw)
	if err != nil {
		return err
	}
	opts.Apply(cfg)

	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store, err := pg.InitStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	renderer, err := browser.InitRenderer(cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := scraper.InitMetrics(reg)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, log)
	}

	poolExec := httpx.NewExecutor(httpx.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    cfg.MaxDelay(),
		OnRetry:     metrics.Retry,
	}, log)
	pool := browser.InitPool(renderer, cfg.Browser.PoolSize, cfg.SessionWait(), poolExec, metrics.PoolHooks(), log)
	defer pool.Shutdown()

	pages := collector.InitPageFetcher(cfg, log)

	pipeline := scraper.InitPipeline(cfg, store, pages, pool, metrics, log)
	summary, err := pipeline.Run(ctx, "")
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
