// Package bot wires the dispatch core together: it classifies raw transport
// notifications, runs the chat-message path with correlation resolution, and
// sends messages that carry correlation annotations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"relaybot/pkg/bus"
	"relaybot/pkg/command"
	"relaybot/pkg/config"
	"relaybot/pkg/conversation"
	"relaybot/pkg/correlation"
	"relaybot/pkg/event"
	"relaybot/pkg/memory"
	"relaybot/pkg/pluggable"
	"relaybot/pkg/provider"
)

// Reprocessor is a one-shot continuation run when the echo of the message it
// was attached to arrives. extra carries a command result for acknowledge ids.
type Reprocessor func(ctx context.Context, b *Bot, ev *event.Event, id string, extra ...any) error

// Transport delivers outgoing messages, normally the message bus.
type Transport interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Options carries the collaborators of a Bot. Only Transport is required.
type Options struct {
	Transport     Transport
	Memory        *memory.Store
	Conversations conversation.Source
	Provider      provider.Client
	Hooks         pluggable.Hooks
	Observe       correlation.ObserveFunc
	Metadata      pluggable.MetadataSource
	Logger        *slog.Logger
}

// Bot is one running bot instance. Registries are owned by the instance and
// live for the life of the process.
type Bot struct {
	cfg *config.Config
	log *slog.Logger

	Pluggables    *pluggable.Registry
	Correlation   *correlation.Registries[Reprocessor]
	Memory        *memory.Store
	Conversations *conversation.Cache
	Commands      *command.Registry

	router    *command.Router
	transport Transport
	asker     *provider.Sessions

	selfMu sync.RWMutex
	selves map[string]string

	inflight sync.WaitGroup
}

func New(cfg *config.Config, opts Options) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	store := opts.Memory
	if store == nil {
		store = memory.NewInMemory()
	}
	store.Validate(map[string]any{
		"user_data": map[string]any{},
		"conv_data": map[string]any{},
	})

	registryOpts := []pluggable.RegistryOption{pluggable.WithHooks(opts.Hooks)}
	if opts.Metadata != nil {
		registryOpts = append(registryOpts, pluggable.WithMetadataSource(opts.Metadata))
	}

	b := &Bot{
		cfg:        cfg,
		log:        log.With("component", "bot"),
		Pluggables: pluggable.NewRegistry(log, registryOpts...),
		Correlation: correlation.New[Reprocessor](correlation.Options{
			PollInterval:  cfg.Correlation.PollInterval(),
			PollAttempts:  cfg.Correlation.UploadPollAttempts,
			UploadTTL:     cfg.Correlation.UploadTTL(),
			ExecutableTTL: cfg.Correlation.ExecutableTTL(),
			Observe:       opts.Observe,
		}),
		Memory:        store,
		Conversations: conversation.NewCache(opts.Conversations, log),
		Commands:      command.NewRegistry(cfg.Bot, log),
		transport:     opts.Transport,
		selves:        make(map[string]string),
	}
	b.router = command.NewRouter(cfg.Bot, b.Commands, b.Conversations, b, b, log)

	if opts.Provider != nil {
		b.asker = provider.NewSessions(opts.Provider, cfg.Providers.OpenAI.Model, log)
	}
	if err := b.registerBuiltins(); err != nil {
		return nil, fmt.Errorf("register builtin commands: %w", err)
	}

	return b, nil
}

// Config returns the configuration the bot was built with.
func (b *Bot) Config() *config.Config {
	return b.cfg
}

// SetSelf records the bot's own user id on channel.
func (b *Bot) SetSelf(channel string, userID string) {
	b.selfMu.Lock()
	defer b.selfMu.Unlock()

	b.selves[channel] = userID
}

// Self returns the bot's own user id on channel.
func (b *Bot) Self(channel string) string {
	b.selfMu.RLock()
	defer b.selfMu.RUnlock()

	return b.selves[channel]
}

// Start runs background maintenance until ctx ends.
func (b *Bot) Start(ctx context.Context) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.Correlation.RunEviction(ctx)
	}()
}

// Wait blocks until all detached notification handling has finished.
func (b *Bot) Wait() {
	b.inflight.Wait()
}
