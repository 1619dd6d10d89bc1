package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wanderport/livesync/internal/auth"
	"github.com/wanderport/livesync/internal/broadcast"
	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/config"
	"github.com/wanderport/livesync/internal/logging"
	"github.com/wanderport/livesync/internal/metrics"
	"github.com/wanderport/livesync/internal/mutation"
	"github.com/wanderport/livesync/internal/notify"
	"github.com/wanderport/livesync/internal/poll"
	"github.com/wanderport/livesync/internal/query"
	"github.com/wanderport/livesync/internal/rules"
	"github.com/wanderport/livesync/internal/server"
	"github.com/wanderport/livesync/internal/stream"
	"github.com/wanderport/livesync/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "LIVESYNC", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	eng, err := assemble(ctx, cfg, logger)
	if err != nil {
		logger.Error("engine assembly failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer eng.close()

	eng.start(ctx)

	router := server.NewRouter(eng, eng.recorder.Handler())
	srv, err := server.New(cfg, logger, router)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// engine holds the assembled synchronization stack for the lifetime of the
// process.
type engine struct {
	cfg      config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder

	store     *cache.Store
	center    *notify.Center
	applier   *notify.Applier
	channel   *stream.Channel
	poller    *poll.Poller
	fanout    *broadcast.Fanout
	ruleCount atomic.Int64
	watcher   *config.RulesWatcher
	startedAt time.Time
}

func assemble(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine, error) {
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	store := cache.New(logger, recorder, cache.Options{KeepAlive: cfg.Cache.KeepAlive()})
	sessions := auth.Static(cfg.Backend.Session.Token, cfg.Backend.Session.Role)
	client := &http.Client{Timeout: cfg.Backend.Timeout()}

	exec := query.NewExecutor(cfg.Backend.BaseURL, client, store, sessions, logger, recorder)
	coord := mutation.NewCoordinator(exec, store, logger, recorder)

	var fanout *broadcast.Fanout
	if cfg.Broadcast.Enabled {
		f, err := broadcast.New(broadcast.Config{
			Address:  cfg.Broadcast.Address,
			Username: cfg.Broadcast.Username,
			Password: cfg.Broadcast.Password,
			DB:       cfg.Broadcast.DB,
			Channel:  cfg.Broadcast.Channel,
		}, logger)
		if err != nil {
			return nil, err
		}
		fanout = f
	}

	var publisher notify.Publisher
	if fanout != nil {
		publisher = fanout
	}
	center := notify.NewCenter(exec, coord, publisher, logger, recorder)

	renderer, err := templates.NewRenderer(cfg.Templates.Format)
	if err != nil {
		return nil, err
	}
	displayLogger := logger.With(slog.String("agent", "display"))
	applier := notify.NewApplier(store, logger, recorder, func(n notify.Notification) {
		line, err := renderer.Render(n)
		if err != nil {
			displayLogger.Warn("display render failed", slog.Any("error", err))
			return
		}
		displayLogger.Info(line, slog.String("id", n.ID))
	})

	eng := &engine{
		cfg:       cfg,
		logger:    logger,
		recorder:  recorder,
		store:     store,
		center:    center,
		applier:   applier,
		fanout:    fanout,
		startedAt: time.Now().UTC(),
	}

	if cfg.Rules.RulesFile != "" {
		ruleEngine, err := rules.NewEngine()
		if err != nil {
			return nil, err
		}
		watcher, err := config.WatchRules(ctx, cfg.Rules.RulesFile, func(defs []rules.Definition) {
			set, err := ruleEngine.Compile(defs)
			if err != nil {
				logger.Error("routing rules rejected", slog.Any("error", err))
				return
			}
			applier.SetRouting(set)
			eng.ruleCount.Store(int64(set.Len()))
			logger.Info("routing rules loaded", slog.Int("rules", set.Len()))
		}, func(err error) {
			logger.Error("rules watcher error", slog.Any("error", err))
		})
		if err != nil {
			return nil, err
		}
		eng.watcher = watcher
	}

	backoff := stream.Backoff{
		Initial: cfg.Stream.Backoff.InitialDelay(),
		Max:     cfg.Stream.Backoff.MaxDelay(),
		Factor:  cfg.Stream.Backoff.Factor,
		Jitter:  cfg.Stream.Backoff.Jitter,
	}
	eng.channel = stream.New(cfg.Backend.BaseURL+cfg.Stream.Path, client, sessions, applier, backoff, logger, recorder)

	if cfg.Poll.Enabled {
		eng.poller = poll.New(cfg.Poll.Interval(), center.PollTick, logger, recorder)
	}

	return eng, nil
}

// start launches the push channel, the polling fallback, and the broadcast
// listener. All of them stop with ctx.
func (e *engine) start(ctx context.Context) {
	if err := e.channel.Connect(ctx); err != nil {
		e.logger.Warn("stream connect failed", slog.Any("error", err))
	}
	if e.poller != nil {
		go e.poller.Run(ctx)
	}
	if e.fanout != nil {
		go func() {
			if err := e.fanout.Listen(ctx, func(tags []cache.Tag) {
				e.center.ApplyRemote(ctx, tags)
			}); err != nil {
				e.logger.Error("broadcast listener stopped", slog.Any("error", err))
			}
		}()
	}
}

func (e *engine) close() {
	e.channel.Disconnect()
	e.watcher.Stop()
	if e.fanout != nil {
		e.fanout.Close()
	}
	e.store.Teardown()
}

// Status implements server.StatusSource.
func (e *engine) Status() server.Status {
	return server.Status{
		StreamState:  string(e.channel.State()),
		CacheEntries: e.store.Len(),
		RoutingRules: int(e.ruleCount.Load()),
		StartedAt:    e.startedAt,
	}
}
