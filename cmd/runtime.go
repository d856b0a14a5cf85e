package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relaybot/pkg/bot"
	"relaybot/pkg/bus"
	"relaybot/pkg/channel"
	"relaybot/pkg/config"
	"relaybot/pkg/gateway"
	"relaybot/pkg/memory"
	"relaybot/pkg/provider"
	"relaybot/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

// runtime is one assembled bot process.
type runtime struct {
	log     *slog.Logger
	store   *memory.Store
	bus     *bus.MessageBus
	bot     *bot.Bot
	service *gateway.Service
}

type runtimeOptions struct {
	registry            *prometheus.Registry
	disableStatusServer bool
}

func newRuntime(ctx context.Context, cfg *config.Config, adapters []channel.Adapter, log *slog.Logger, opts runtimeOptions) (*runtime, error) {
	mux, err := channel.NewMux(adapters...)
	if err != nil {
		return nil, err
	}

	backend, err := memory.NewBackend(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("configure memory: %w", err)
	}
	store, err := memory.Open(ctx, backend, log)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open memory: %w", err)
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.registry != nil {
		registerer, gatherer = opts.registry, opts.registry
	}
	metrics := telemetry.NewMetrics(registerer)
	if err := metrics.Register(); err != nil {
		store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	client, err := provider.New(cfg)
	switch {
	case errors.Is(err, provider.ErrDisabled):
		client = nil
	case err != nil:
		store.Close()
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	mb := bus.NewMessageBus()
	b, err := bot.New(cfg, bot.Options{
		Transport:     mb,
		Memory:        store,
		Conversations: mux,
		Provider:      client,
		Hooks:         telemetry.Hooks(metrics, telemetry.NewTracing(nil)),
		Observe:       metrics.Observe,
		Logger:        log,
	})
	if err != nil {
		mb.Close()
		store.Close()
		return nil, fmt.Errorf("initialize bot: %w", err)
	}

	svc, err := gateway.NewService(cfg, mb, b, mux, gateway.Options{
		Provider:            client,
		Gatherer:            gatherer,
		DisableStatusServer: opts.disableStatusServer,
		Logger:              log,
	})
	if err != nil {
		mb.Close()
		store.Close()
		return nil, fmt.Errorf("initialize gateway service: %w", err)
	}

	return &runtime{log: log, store: store, bus: mb, bot: b, service: svc}, nil
}

// run blocks until ctx ends, then persists memory and releases resources.
func (r *runtime) run(ctx context.Context) error {
	runErr := r.service.Run(ctx)
	r.bus.Close()

	saveCtx := context.WithoutCancel(ctx)
	if err := r.store.Save(saveCtx); err != nil {
		r.log.Error("Failed to save memory", "error", err)
	}
	if err := r.store.Close(); err != nil {
		r.log.Error("Failed to close memory", "error", err)
	}

	return runErr
}
