package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"relaybot/pkg/config"
	"relaybot/pkg/event"
)

// Outcome is what Route did with an event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeRun
	OutcomeBlocked
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRun:
		return "run"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "ignored"
	}
}

// Notifier tells the sender why a command did not run.
type Notifier interface {
	Unknown(ctx context.Context, ev *event.Event, args []string) error
	Blocked(ctx context.Context, ev *event.Event, args []string) error
}

// Acknowledger runs a reprocessor registered by a command for its own
// triggering event.
type Acknowledger interface {
	RunReprocessor(ctx context.Context, id string, ev *event.Event, extra ...any) error
}

// Conversations tells the router which conversations are one-to-one.
type Conversations interface {
	IsOneToOne(convID string) bool
}

// Router turns aliased chat text into command invocations.
type Router struct {
	cfg      config.BotConfig
	registry *Registry
	convs    Conversations
	notifier Notifier
	ack      Acknowledger
	log      *slog.Logger
}

func NewRouter(cfg config.BotConfig, registry *Registry, convs Conversations, notifier Notifier, ack Acknowledger, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		cfg:      cfg,
		registry: registry,
		convs:    convs,
		notifier: notifier,
		ack:      ack,
		log:      log.With("component", "command.router"),
	}
}

// Route runs the command in ev.Text when the sender may use commands here.
// ev.Text is rewritten in place when the alias is inserted.
func (r *Router) Route(ctx context.Context, ev *event.Event) (Outcome, error) {
	if strings.TrimSpace(ev.Text) == "" {
		return OutcomeIgnored, nil
	}

	userID := ev.User.ID
	if !r.cfg.CommandsEnabledFor(ev.ConversationID) || r.cfg.IsIgnored(userID, ev.ConversationID) {
		if !r.cfg.IsAdmin(userID, ev.ConversationID) {
			return OutcomeIgnored, nil
		}
	}

	ev.Text = strings.ReplaceAll(ev.Text, "\u00a0", " ")
	first := strings.ToLower(strings.Fields(ev.Text)[0])
	if !slices.Contains(r.cfg.Aliases, first) {
		if !r.cfg.AutoAlias() || r.convs == nil || !r.convs.IsOneToOne(ev.ConversationID) {
			return OutcomeIgnored, nil
		}
		ev.Text = r.cfg.Aliases[0] + " " + ev.Text
	}

	tokens := Tokenize(ev.Text)
	if len(tokens) < 2 {
		r.log.Debug("Alias without command", "conversation_id", ev.ConversationID)
		return OutcomeIgnored, nil
	}

	name := strings.ToLower(tokens[1])
	args := tokens[1:]

	if !r.registry.Available(userID, ev.ConversationID).Has(name) {
		if r.registry.Exists(name) {
			r.log.Info("Command blocked", "command", name, "user_id", userID, "conversation_id", ev.ConversationID)
			return OutcomeBlocked, r.notify(ctx, OutcomeBlocked, ev, args)
		}
		r.log.Debug("Unknown command", "command", name, "conversation_id", ev.ConversationID)
		return OutcomeUnknown, r.notify(ctx, OutcomeUnknown, ev, args)
	}

	result, err := r.registry.Run(ctx, ev, name, tokens[2:]...)
	if err != nil {
		return OutcomeRun, fmt.Errorf("run command %s: %w", name, err)
	}

	if r.ack != nil {
		for _, id := range ev.Acknowledge {
			if err := r.ack.RunReprocessor(ctx, id, ev, result); err != nil {
				r.log.Error("Acknowledge reprocessor failed", "command", name, "reprocessor_id", id, "error", err)
			}
		}
	}

	return OutcomeRun, nil
}

func (r *Router) notify(ctx context.Context, outcome Outcome, ev *event.Event, args []string) error {
	if r.notifier == nil {
		return nil
	}

	var err error
	if outcome == OutcomeBlocked {
		err = r.notifier.Blocked(ctx, ev, args)
	} else {
		err = r.notifier.Unknown(ctx, ev, args)
	}
	if err != nil {
		return fmt.Errorf("notify sender: %w", err)
	}
	return nil
}
