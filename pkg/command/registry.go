// Package command resolves and runs bot commands addressed with an alias
// such as "/bot echo hi".
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"relaybot/pkg/config"
	"relaybot/pkg/event"
)

var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Request is one command invocation.
type Request struct {
	Event *event.Event
	Name  string
	Args  []string
}

// Func runs a command. The result is handed to the event's acknowledge
// reprocessors.
type Func func(ctx context.Context, req Request) (any, error)

// Available is the command catalog for one sender in one conversation.
type Available struct {
	User  []string
	Admin []string
}

// Has reports whether name is in either set.
func (a Available) Has(name string) bool {
	return slices.Contains(a.User, name) || slices.Contains(a.Admin, name)
}

type entry struct {
	run   Func
	admin bool
	help  string
}

// Option configures a registered command.
type Option func(*entry)

// AdminOnly restricts a command to admins in every conversation.
func AdminOnly() Option {
	return func(e *entry) { e.admin = true }
}

// WithHelp sets the usage text shown by help.
func WithHelp(text string) Option {
	return func(e *entry) { e.help = text }
}

// Registry is the command catalog.
type Registry struct {
	cfg config.BotConfig
	log *slog.Logger

	mu       sync.RWMutex
	commands map[string]entry
}

func NewRegistry(cfg config.BotConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		cfg:      cfg,
		log:      log.With("component", "command.registry"),
		commands: make(map[string]entry),
	}
}

// Register adds a command under a lower-cased name.
func (r *Registry) Register(name string, run Func, opts ...Option) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("command name is required")
	}
	if run == nil {
		return fmt.Errorf("command %s: nil func", name)
	}

	e := entry{run: run}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.commands[name] = e

	r.log.Debug("Command registered", "command", name, "admin", e.admin)
	return nil
}

// Exists reports whether name is registered at all.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.commands[strings.ToLower(name)]
	return ok
}

// Help returns the usage text of name.
func (r *Registry) Help(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.commands[strings.ToLower(name)]
	return e.help, ok
}

// Available partitions the catalog for senderID in convID. Commands marked
// admin-only, globally or through commands_admin, are listed in Admin for
// admins and hidden from everyone else.
func (r *Registry) Available(senderID string, convID string) Available {
	adminOnly := r.cfg.CommandsAdminFor(convID)
	isAdmin := r.cfg.IsAdmin(senderID, convID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var available Available
	for name, e := range r.commands {
		if e.admin || slices.Contains(adminOnly, name) {
			if isAdmin {
				available.Admin = append(available.Admin, name)
			}
			continue
		}
		available.User = append(available.User, name)
	}

	slices.Sort(available.User)
	slices.Sort(available.Admin)
	return available
}

// Run invokes name without any availability check.
func (r *Registry) Run(ctx context.Context, ev *event.Event, name string, args ...string) (any, error) {
	name = strings.ToLower(name)

	r.mu.RLock()
	e, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	return e.run(ctx, Request{Event: ev, Name: name, Args: args})
}
