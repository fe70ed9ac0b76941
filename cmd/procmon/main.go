package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/procmon/internal/config"
	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/logger"
	"codeberg.org/mutker/procmon/internal/pid"
	"codeberg.org/mutker/procmon/internal/platform"
	"codeberg.org/mutker/procmon/internal/recorder"
	"codeberg.org/mutker/procmon/internal/sampler"
	"codeberg.org/mutker/procmon/internal/telemetry"
)

var metricKinds = []sampler.MetricKind{
	sampler.MetricPresents,
	sampler.MetricBytesIn,
	sampler.MetricBytesOut,
}

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.RuntimeDir); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer func() {
		if err := pid.Remove(cfg.RuntimeDir); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		cancel()
		_ = pid.Remove(cfg.RuntimeDir)
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	categories, features, err := sampler.ParseCategories(cfg.Categories)
	if err != nil {
		return err
	}

	entities, err := discover(ctx, categories)
	if err != nil {
		return err
	}

	pctx, err := platform.NewContext(platform.OptionsFromConfig(cfg, logger.Default()))
	if err != nil {
		return err
	}
	defer func() {
		if err := pctx.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release platform resources")
		}
	}()

	sys, err := sampler.New(ctx, platform.NewFactory(pctx), features, entities,
		sampler.WithLogger(logger.Default()),
		sampler.WithChannelCapacity(cfg.ChannelCapacity),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop sampler")
		}
	}()

	infos := make([]host.Info, 0, len(entities))
	for _, e := range entities {
		infos = append(infos, host.Describe(ctx, e))
	}

	recCfg := recorder.DefaultConfig()
	recCfg.Outputs = cfg.Outputs
	rec, err := recorder.New(recCfg, recorder.Run{
		Interval:   cfg.Interval,
		Categories: categories,
		Entities:   infos,
	}, logger.Default())
	if err != nil {
		return err
	}

	teleCfg := telemetry.DefaultConfig()
	teleCfg.Listen = cfg.MetricsListen
	tele, err := telemetry.NewService(teleCfg, infos, logger.Default())
	if err != nil {
		_ = rec.Close()
		return err
	}
	defer func() {
		if err := tele.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop metrics server")
		}
	}()

	logger.Info().
		Str("run", rec.Run().ID).
		Int("entities", len(entities)).
		Float64("interval", cfg.Interval).
		Int("times", cfg.Times).
		Msg("Sampling started")

	loopErr := loop(ctx, sys, rec, tele)

	if err := rec.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to write outputs")
	}
	logSummary(rec)

	return loopErr
}

// discover resolves the watched entities from pids and names.
func discover(ctx context.Context, categories []sampler.Category) ([]sampler.EntityID, error) {
	errFactory := errors.New()

	entities := make([]sampler.EntityID, 0, len(cfg.PIDs))
	for _, p := range cfg.PIDs {
		entities = append(entities, sampler.EntityID(p))
	}

	if len(cfg.Names) > 0 {
		found, err := host.FindByName(ctx, cfg.Names)
		if err != nil {
			return nil, err
		}
		entities = append(entities, found...)
	}

	if cfg.RecurseChildren && len(entities) > 0 {
		entities = host.WithChildren(ctx, entities)
	}

	if len(entities) == 0 {
		for _, c := range categories {
			if c.PerProcess() {
				return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
					fmt.Sprintf("category %s needs a --pid or --name", c))
			}
		}
	}

	return entities, nil
}

func loop(ctx context.Context, sys *sampler.System, rec *recorder.Recorder, tele telemetry.Collector) error {
	interval := time.Duration(cfg.Interval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for cfg.Times == 0 || rec.Ticks() < cfg.Times {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			window := sys.Update(ctx, now)

			if err := rec.Record(ctx, now, window, sys); err != nil {
				if errors.HasCode(err, recorder.ErrOperationTimeout) {
					return nil
				}
				return err
			}

			if err := tele.Observe(snapshot(sys, rec.LastTick())); err != nil {
				logger.Warn().Err(err).Msg("failed to update metrics")
			}
		}
	}

	return nil
}

func snapshot(sys *sampler.System, tick *recorder.Tick) *telemetry.Snapshot {
	events := make(map[sampler.MetricKind]uint64, len(metricKinds))
	for _, m := range metricKinds {
		events[m] = sys.EventTotal(m)
	}

	return &telemetry.Snapshot{
		Tick:      tick,
		Events:    events,
		Producers: sys.Producers(),
	}
}

func logSummary(rec *recorder.Recorder) {
	logger.Info().Int("ticks", rec.Ticks()).Msg("Sampling finished")

	for _, s := range rec.Summary() {
		logger.Info().
			Str("entity", s.Entity).
			Str("category", string(s.Category)).
			Float64("avg", s.Average).
			Float64("max", s.Max).
			Msg("Summary")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
