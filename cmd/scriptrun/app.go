package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/asset"
	"github.com/wippyai/scriptbridge/config"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/lifecycle"
	"github.com/wippyai/scriptbridge/metrics"
	"github.com/wippyai/scriptbridge/wasmrt"
	"github.com/wippyai/scriptbridge/world"
)

// app wires every package of the bridge into one host.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	world    *world.World
	registry *function.Registry
	runtime  *wasmrt.Runtime
	source   *asset.FileSource
	manager  *lifecycle.Manager
	metrics  *metrics.Collector
	gatherer *prometheus.Registry
	entities map[string]world.Entity
}

func installLoggers(l *zap.Logger) {
	access.SetLogger(l.Named("access"))
	asset.SetLogger(l.Named("asset"))
	function.SetLogger(l.Named("function"))
	lifecycle.SetLogger(l.Named("lifecycle"))
	wasmrt.SetLogger(l.Named("wasm"))
	world.SetLogger(l.Named("world"))
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	assigner, err := cfg.Assigner()
	if err != nil {
		return nil, err
	}
	source, err := asset.NewFileSource(cfg.Scripts.Root)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		source:   source,
		entities: make(map[string]world.Entity),
	}

	var regOpts []function.RegistryOption
	var worldOpts []world.Option
	if cfg.Metrics.Enabled {
		a.gatherer = prometheus.NewRegistry()
		a.gatherer.MustRegister(collectors.NewGoCollector())
		a.metrics = metrics.New(a.gatherer, cfg.Metrics.Namespace)
		regOpts = append(regOpts, function.WithObserver(a.metrics))
		worldOpts = append(worldOpts, world.WithGuardOptions(access.WithObserver(a.metrics.ObserveConflict)))
	}

	a.world = world.New(worldOpts...)
	a.registry = function.NewRegistry(regOpts...)
	if err := function.RegisterCore(a.registry); err != nil {
		return nil, err
	}
	if err := function.RegisterWorld(a.registry); err != nil {
		return nil, err
	}
	if err := a.registry.RegisterHost(hostFuncs{logger: logger.Named("script")}); err != nil {
		return nil, err
	}

	a.runtime = wasmrt.New(ctx, a.registry, &wasmrt.Config{MemoryLimitPages: cfg.Runtime.MemoryLimitPages})

	opts := []lifecycle.Option{
		lifecycle.WithRuntime(a.runtime),
		lifecycle.WithAssigner(assigner),
		lifecycle.WithIndexBase(cfg.Scripts.IndexBase),
		lifecycle.WithListener(errorLogger{logger: logger}),
	}
	if a.metrics != nil {
		opts = append(opts, lifecycle.WithListener(a.metrics))
	}
	a.manager = lifecycle.NewManager(a.world, a.registry, source, opts...)
	if a.metrics != nil {
		a.metrics.TrackContexts(a.manager)
	}
	return a, nil
}

// attach queues the configured attachments, or every script under the root
// attached to the world when none are configured.
func (a *app) attach() error {
	attachments := a.cfg.Scripts.Attachments
	if len(attachments) == 0 {
		ids, err := a.source.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			attachments = append(attachments, config.AttachmentConfig{Script: id})
		}
	}

	for _, ac := range attachments {
		at := lifecycle.Attachment{Script: ac.Script, Domain: ac.Domain}
		if ac.Entity != "" {
			e, ok := a.entities[ac.Entity]
			if !ok {
				var err error
				if e, err = a.world.Spawn(); err != nil {
					return err
				}
				a.entities[ac.Entity] = e
				a.logger.Debug("entity spawned", zap.String("label", ac.Entity), zap.Stringer("entity", e))
			}
			at.Entity = e
		}
		a.manager.Attach(at)
	}
	a.logger.Info("attachments queued", zap.Int("count", len(attachments)))
	return nil
}

func (a *app) tick(ctx context.Context) error {
	n, err := a.manager.Tick(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Debug("batch applied", zap.Int("inputs", n))
	}
	return nil
}

// run applies queued inputs every interval and broadcasts callback to every
// loaded script after each tick, until ctx is done.
func (a *app) run(ctx context.Context, interval time.Duration, callback string) error {
	if a.cfg.Scripts.Watch {
		if err := a.source.Watch(); err != nil {
			return err
		}
		go a.manager.Follow(ctx, a.source)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				a.logger.Warn("tick skipped", zap.Error(err))
				continue
			}
			if callback != "" {
				a.manager.Broadcast(ctx, callback)
			}
		}
	}
}

func (a *app) serveMetrics(ctx context.Context) {
	if a.gatherer == nil || a.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
}

func (a *app) close(ctx context.Context) {
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warn("close contexts", zap.Error(err))
	}
	if err := a.source.Close(); err != nil {
		a.logger.Warn("close script source", zap.Error(err))
	}
	if err := a.runtime.Close(ctx); err != nil {
		a.logger.Warn("close wasm runtime", zap.Error(err))
	}
}

// errorLogger reports script failures as they happen.
type errorLogger struct {
	logger *zap.Logger
}

func (errorLogger) OnTransition(lifecycle.Attachment, lifecycle.State, lifecycle.State) {}

func (l errorLogger) OnError(ev lifecycle.ErrorEvent) {
	l.logger.Error("script error",
		zap.Stringer("attachment", ev.Attachment),
		zap.Stringer("stage", ev.Stage),
		zap.String("callback", ev.Callback),
		zap.Error(ev.Err))
}

// hostFuncs are the functions every script host offers besides the core
// and world bindings.
type hostFuncs struct {
	logger *zap.Logger
}

func (hostFuncs) Namespace() function.Namespace { return function.Global }

// Log writes a message from a script.
func (h hostFuncs) Log(msg string) {
	h.logger.Info(msg)
}

// LogValue writes a number from a script.
func (h hostFuncs) LogValue(v int64) {
	h.logger.Info("value", zap.Int64("value", v))
}

// Now returns the host clock in milliseconds.
func (hostFuncs) Now() int64 {
	return time.Now().UnixMilli()
}

func describe(a *app) string {
	return fmt.Sprintf("%s, %d functions", a.cfg, len(a.registry.List()))
}
