package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"geohint/internal/anchor"
	"geohint/internal/atlas"
	"geohint/internal/config"
	"geohint/internal/geo"
	"geohint/internal/index"
	"geohint/internal/ingest"
	"geohint/internal/match"
	"geohint/internal/metrics"
	"geohint/internal/model"
	"geohint/internal/ratelimit"
	"geohint/internal/rules"
	"geohint/internal/runner"
	"geohint/internal/store"
	"geohint/internal/verify"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline over the configured corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Log

	ruleSet, err := rules.LoadFile(cfg.Rules.Path, logger)
	if err != nil {
		return err
	}
	logger.WithField("rules", ruleSet.Len()).Info("rules loaded")

	locations, err := ingest.LoadLocations(cfg.Corpus.LocationsPath)
	if err != nil {
		return err
	}
	idx := index.Build(locations)
	logger.WithFields(log.Fields{
		"locations": len(locations),
		"codes":     idx.Codes(),
	}).Info("location inventory indexed")

	byID := make(map[int]*model.Location, len(locations))
	for _, loc := range locations {
		byID[loc.ID] = loc
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	var stats *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		stats = metrics.New(reg)
		go serveMetrics(cfg.Metrics.Listen, reg, logger)
	}

	bucket := ratelimit.NewBucket(cfg.Service.RatePerSecond, cfg.Service.Burst)
	bucket.Start(ctx)

	client := atlas.NewClient(cfg.Service.BaseURL, cfg.Service.Key, bucket,
		atlas.WithMaxRetries(cfg.Service.MaxRetries),
		atlas.WithLogger(logger),
	)

	if err := ingest.AttachProbes(ctx, client, locations, ingest.DefaultSearchRadiiKm, logger); err != nil {
		return fmt.Errorf("attach probes: %w", err)
	}

	anchors, err := buildAnchors(cfg.Anchors, logger)
	if err != nil {
		return err
	}

	shards, err := ingest.LoadShards(cfg.Corpus.ShardPattern, cfg.Corpus.Shards)
	if err != nil {
		return err
	}
	resolver := ingest.NewResolver(cfg.Corpus.DNSServer, logger)
	total := 0
	for _, shard := range shards {
		resolver.EnsureIPv4(ctx, shard)
		total += len(shard)
	}
	logger.WithFields(log.Fields{
		"domains": total,
		"shards":  len(shards),
	}).Info("corpus loaded")

	orch := verify.New(verifyConfig(cfg.Verify), anchors, client, func(id int) *model.Location {
		return byID[id]
	},
		verify.WithHistory(db),
		verify.WithBlockedTargets(cfg.Verify.BlockedTargets),
		verify.WithMetrics(stats),
		verify.WithLogger(logger),
	)

	matcher := match.New(ruleSet, idx, logger)
	matcher.SkipHexEncoded = cfg.Rules.SkipHexEncoded

	r := runner.New(runner.Config{
		TasksPerShard: cfg.Runner.TasksPerShard,
		BatchSize:     cfg.Runner.BatchSize,
	}, matcher, orch, db,
		runner.WithMetrics(stats),
		runner.WithLogger(logger),
	)

	summary, err := r.Run(ctx, shards)
	if err != nil {
		return err
	}

	for _, outcome := range model.Outcomes() {
		if n := summary.Outcomes[outcome]; n > 0 {
			fmt.Printf("%-18s %d\n", outcome, n)
		}
	}
	fmt.Printf("%-18s %d\n", "total", summary.Total)
	return nil
}

func verifyConfig(vc config.VerifyConfig) verify.Config {
	return verify.Config{
		BaseRTTAllowanceMs:   vc.BaseRTTAllowanceMs,
		SlackFactorKmPerMs:   vc.SlackFactorKmPerMs,
		FreshnessWindow:      vc.FreshnessWindow.Std(350 * 24 * time.Hour),
		PollInterval:         vc.PollInterval.Std(10 * time.Second),
		MaxPollAttempts:      vc.MaxPollAttempts,
		PacketCount:          vc.PacketCount,
		MaxConcurrentCreates: vc.MaxConcurrentCreates,
	}
}

// buildAnchors constructs the fixed reference vantages from config.
func buildAnchors(ac config.AnchorsConfig, logger log.Interface) (*anchor.Set, error) {
	var pingers []anchor.Pinger
	for _, sc := range ac.SSH {
		pingers = append(pingers, anchor.NewSSHPinger(anchor.SSHConfig{
			Name:        sc.Name,
			Host:        sc.Host,
			Port:        sc.Port,
			User:        sc.User,
			KeyFile:     sc.KeyFile,
			Password:    sc.Password,
			Coord:       geo.Coordinate{Lat: sc.Lat, Lon: sc.Lon},
			PacketCount: sc.PacketCount,
			Timeout:     sc.Timeout.Std(45 * time.Second),
		}))
	}
	if lc := ac.Local; lc != nil {
		name := lc.Name
		if name == "" {
			name = "local"
		}
		pingers = append(pingers, anchor.NewLocalPinger(name, geo.Coordinate{Lat: lc.Lat, Lon: lc.Lon}, 0))
	}
	if len(pingers) == 0 {
		return nil, fmt.Errorf("no reference vantages configured")
	}
	return anchor.NewSet(pingers, logger), nil
}

func serveMetrics(listen string, reg *prometheus.Registry, logger log.Interface) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.WithField("listen", listen).Info("metrics endpoint up")
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.WithError(err).Error("metrics endpoint failed")
	}
}
