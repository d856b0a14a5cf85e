package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaybot/pkg/command"
	"relaybot/pkg/event"
)

type builtin struct {
	name string
	run  command.Func
	help string
}

func (b *Bot) registerBuiltins() error {
	builtins := []builtin{
		{"help", b.cmdHelp, "help [command]: list commands or show usage"},
		{"echo", b.cmdEcho, "echo <text>: repeat text"},
		{"optout", b.cmdOptout, "optout: toggle opt-out of bot messages"},
		{"ping", b.cmdPing, "ping: check that the bot is alive"},
		{"whoami", b.cmdWhoami, "whoami: show your user id"},
	}
	if b.asker != nil {
		builtins = append(builtins, builtin{"ask", b.cmdAsk, "ask <question>: ask the assistant"})
	}

	for _, cmd := range builtins {
		if err := b.Commands.Register(cmd.name, cmd.run, command.WithHelp(cmd.help)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, ev *event.Event, text string) (any, error) {
	if err := b.SendMessage(ctx, ev.ConversationID, text); err != nil {
		return nil, err
	}
	return text, nil
}

func (b *Bot) cmdHelp(ctx context.Context, req command.Request) (any, error) {
	if len(req.Args) > 0 {
		if help, ok := b.Commands.Help(req.Args[0]); ok && help != "" {
			return b.reply(ctx, req.Event, help)
		}
		return b.reply(ctx, req.Event, fmt.Sprintf("no help for %s", req.Args[0]))
	}

	available := b.Commands.Available(req.Event.User.ID, req.Event.ConversationID)
	lines := []string{"User commands: " + strings.Join(available.User, ", ")}
	if len(available.Admin) > 0 {
		lines = append(lines, "Admin commands: "+strings.Join(available.Admin, ", "))
	}
	return b.reply(ctx, req.Event, strings.Join(lines, "\n"))
}

func (b *Bot) cmdEcho(ctx context.Context, req command.Request) (any, error) {
	if len(req.Args) == 0 {
		return nil, errors.New("echo needs text")
	}
	return b.reply(ctx, req.Event, strings.Join(req.Args, " "))
}

func (b *Bot) cmdPing(ctx context.Context, req command.Request) (any, error) {
	return b.reply(ctx, req.Event, "pong")
}

func (b *Bot) cmdWhoami(ctx context.Context, req command.Request) (any, error) {
	user := req.Event.User
	name := user.FullName
	if name == "" {
		name = user.Username
	}
	return b.reply(ctx, req.Event, fmt.Sprintf("%s (%s)", name, user.ID))
}

// cmdOptout toggles user_data.<id>.optout and persists it.
func (b *Bot) cmdOptout(ctx context.Context, req command.Request) (any, error) {
	userID := req.Event.User.ID
	current, _ := b.Memory.Bool("user_data", userID, "optout")

	if err := b.Memory.Set(!current, "user_data", userID, "optout"); err != nil {
		return nil, fmt.Errorf("store optout: %w", err)
	}
	if err := b.Memory.Save(ctx); err != nil {
		return nil, err
	}

	if current {
		return b.reply(ctx, req.Event, "You are opted in again.")
	}
	return b.reply(ctx, req.Event, "You are opted out.")
}

func (b *Bot) cmdAsk(ctx context.Context, req command.Request) (any, error) {
	prompt := strings.Join(req.Args, " ")
	result, err := b.asker.Ask(ctx, req.Event.ConversationID, prompt)
	if err != nil {
		return nil, fmt.Errorf("ask provider: %w", err)
	}
	return b.reply(ctx, req.Event, result.Text)
}

// Unknown implements command.Notifier.
func (b *Bot) Unknown(ctx context.Context, ev *event.Event, args []string) error {
	_, err := b.reply(ctx, ev, fmt.Sprintf("Unknown command: %s", args[0]))
	return err
}

// Blocked implements command.Notifier.
func (b *Bot) Blocked(ctx context.Context, ev *event.Event, args []string) error {
	_, err := b.reply(ctx, ev, fmt.Sprintf("Command %s is not available here.", args[0]))
	return err
}
