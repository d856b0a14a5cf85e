// Package console is a local terminal channel: one one-to-one conversation
// between the operator and the bot, rendered with bubbletea.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"relaybot/pkg/bus"
	"relaybot/pkg/channel"
	"relaybot/pkg/config"
	"relaybot/pkg/conversation"
	"relaybot/pkg/event"
)

const (
	channelName = "console"
	chatID      = "local"
	selfID      = "relaybot"
	userID      = "operator"
)

// ConversationID is the only conversation the console serves.
var ConversationID = event.ConversationKey(channelName, chatID)

// Adapter runs the terminal UI and bridges it to the bot.
type Adapter struct {
	user event.User
	self event.User
	log  *slog.Logger

	mu      sync.RWMutex
	sink    channel.Sink
	program *tea.Program
}

func NewAdapter(cfg config.ConsoleConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	name := strings.TrimSpace(cfg.UserName)
	if name == "" {
		name = "you"
	}

	return &Adapter{
		user: event.User{ID: userID, FullName: name},
		self: event.User{ID: selfID, FullName: "relaybot"},
		log:  log.With("component", "channel.console"),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) Self() string {
	return a.self.ID
}

// Run shows the terminal UI until the operator quits or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, sink channel.Sink) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	m := newModel(a.user.FullName, func(text string) bool {
		return sink(ctx, a.inbound(text))
	})
	program := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())

	a.mu.Lock()
	a.sink = sink
	a.program = program
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.program = nil
		a.mu.Unlock()
	}()

	a.log.Info("Console channel started", "conversation_id", ConversationID)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run console: %w", err)
	}

	return nil
}

// Attach sets the sink without starting the UI.
func (a *Adapter) Attach(sink channel.Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sink = sink
}

// Submit feeds one operator line into the sink as a chat message.
func (a *Adapter) Submit(ctx context.Context, text string) bool {
	a.mu.RLock()
	sink := a.sink
	a.mu.RUnlock()
	if sink == nil {
		return false
	}

	return sink(ctx, a.inbound(text))
}

func (a *Adapter) inbound(text string) event.Raw {
	return event.Raw{
		ID:             event.NewID(),
		Channel:        channelName,
		Kind:           event.KindChatMessage,
		ConversationID: ConversationID,
		Sender:         a.user,
		Text:           strings.TrimSpace(text),
		At:             time.Now().UTC(),
	}
}

// Send shows msg in the UI and echoes it back to the bot.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.ChatID != "" && msg.ChatID != chatID {
		return fmt.Errorf("unknown console chat %q", msg.ChatID)
	}

	a.mu.RLock()
	sink, program := a.sink, a.program
	a.mu.RUnlock()

	if program != nil {
		program.Send(botLineMsg{text: msg.Content, image: msg.Image})
	}

	var attachments []string
	if msg.Image != "" {
		attachments = []string{msg.Image}
	}
	echo := channel.Echo(msg, a.self, attachments...)
	if echo.ID == "" {
		echo.ID = event.NewID()
	}
	echo.At = time.Now().UTC()
	if sink != nil && !sink(ctx, echo) {
		a.log.Warn("Dropped self echo", "conversation_id", echo.ConversationID)
	}

	return nil
}

func (a *Adapter) Conversation(_ context.Context, id string) (conversation.Info, error) {
	if id != ConversationID {
		return conversation.Info{}, fmt.Errorf("unknown console conversation %q", id)
	}

	return conversation.Info{
		ID:           ConversationID,
		Title:        a.user.FullName,
		Type:         conversation.TypeOneToOne,
		Participants: []string{a.user.ID, a.self.ID},
		History:      true,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}
