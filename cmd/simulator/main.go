// Command simulator runs a fleet of simulated OCPP charging stations against
// one or more Central Systems.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/broadcast"
	"github.com/evfleet/ocppsim/internal/config"
	"github.com/evfleet/ocppsim/internal/idtags"
	"github.com/evfleet/ocppsim/internal/pool"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/stats"
	"github.com/evfleet/ocppsim/internal/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.json", "harness configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	instanceIndex := 0
	if raw := os.Getenv("CF_INSTANCE_INDEX"); raw != "" {
		if idx, err := strconv.Atoi(raw); err == nil {
			instanceIndex = idx
		} else {
			logger.Warn("invalid CF_INSTANCE_INDEX, using 0", "value", raw)
		}
	}

	statsCfg := stats.Config{LogInterval: cfg.StatisticsInterval()}
	if cfg.PerformanceStorage.Enabled {
		statsCfg.StorageType = cfg.PerformanceStorage.Type
		statsCfg.StorageURI = cfg.PerformanceStorage.URI
	}
	sink, err := stats.New(statsCfg, logger)
	if err != nil {
		logger.Error("performance sink setup failed", "error", err)
		return 1
	}
	defer sink.Close()

	deps := station.Deps{
		Logger:    logger,
		Tags:      idtags.NewCache(logger),
		AuthCache: auth.NewCache(auth.CacheConfig{}),
		Recorder:  sink,
	}
	defer deps.Tags.Close()

	bus := broadcast.NewBus()
	p := pool.New(pool.Config{
		Mode:       pool.Mode(cfg.Worker.ProcessType),
		MinSize:    cfg.Worker.PoolMinSize,
		MaxSize:    cfg.Worker.PoolMaxSize,
		StartDelay: cfg.WorkerStartDelay(),
		AddDelay:   cfg.ElementAddDelay(),
		Station: station.Config{
			InstanceIndex:           instanceIndex,
			DataDir:                 cfg.DataDir,
			SupervisionURLs:         cfg.SupervisionURLs,
			DistributeEqually:       cfg.DistributeStationsToTenantsEqually,
			AutoReconnectMaxRetries: *cfg.AutoReconnectMaxRetries,
			AutoReconnectTimeout:    cfg.ReconnectTimeout(),
		},
	}, deps, bus)
	p.Start()

	// A template that fails to load is fatal for the whole harness.
	fatal := make(chan error, 1)
	go func() {
		for ev := range p.Events() {
			switch ev.Kind {
			case pool.EventElementError:
				select {
				case fatal <- fmt.Errorf("station setup failed: %w", ev.Err):
				default:
				}
			case pool.EventStarted:
				logger.Info("station started", "station", ev.Station.ID, "hashId", ev.Station.HashID)
			case pool.EventStopped:
				logger.Info("station stopped", "station", ev.Station.ID)
			}
		}
	}()

	for _, ref := range cfg.StationTemplateURLs {
		for i := 1; i <= ref.NumberOfStations; i++ {
			p.Add(pool.Task{Index: i, TemplateFile: ref.File})
		}
	}

	var opsServer *ui.Server
	if cfg.UIServer.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.UIServer.Options.Host, cfg.UIServer.Options.Port)
		opsServer = ui.NewServer(addr, p, sink, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-signals:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-fatal:
		logger.Error("fatal harness error", "error", err)
		code = 1
	}

	if opsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = opsServer.Shutdown(ctx)
		cancel()
	}
	p.Stop()
	return code
}

// buildLogger maps the log config section onto a slog handler.
func buildLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if !cfg.LogEnabled() {
		out = io.Discard
	} else if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file unavailable, using stdout: %v\n", err)
		} else {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
