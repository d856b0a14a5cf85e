// Package channel connects external transports to the bot: adapters turn
// transport traffic into raw notifications and deliver outbound messages.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"relaybot/pkg/bus"
	"relaybot/pkg/conversation"
	"relaybot/pkg/event"
)

// ErrUnknownChannel is returned when no adapter serves a channel name.
var ErrUnknownChannel = errors.New("unknown channel")

// Sink receives raw notifications from an adapter. It reports false when the
// notification could not be queued.
type Sink func(ctx context.Context, raw event.Raw) bool

// Adapter bridges one external transport (for example Telegram) into the bot.
//
// Send must deliver msg and then feed the transport's view of the delivered
// message back into the sink as a notification carrying msg.Annotations, so
// the bot sees its own messages the way a chat network echoes them.
type Adapter interface {
	Name() string
	// Self is the bot's own user id on this transport, known once Run started.
	Self() string
	Run(ctx context.Context, sink Sink) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Conversation(ctx context.Context, id string) (conversation.Info, error)
}

// Mux routes sends and conversation lookups to adapters by channel name.
type Mux struct {
	adapters map[string]Adapter
}

// NewMux indexes adapters by name; names must be unique.
func NewMux(adapters ...Adapter) (*Mux, error) {
	m := &Mux{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if _, exists := m.adapters[name]; exists {
			return nil, fmt.Errorf("duplicate channel adapter %q", name)
		}
		m.adapters[name] = adapter
	}

	return m, nil
}

// Adapters returns the adapters sorted by name.
func (m *Mux) Adapters() []Adapter {
	out := make([]Adapter, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		out = append(out, adapter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })

	return out
}

// Adapter returns the adapter registered under name.
func (m *Mux) Adapter(name string) (Adapter, bool) {
	adapter, ok := m.adapters[name]
	return adapter, ok
}

func (m *Mux) Send(ctx context.Context, msg bus.OutboundMessage) error {
	adapter, ok := m.adapters[msg.Channel]
	if !ok {
		return fmt.Errorf("send to %q: %w", msg.Channel, ErrUnknownChannel)
	}

	return adapter.Send(ctx, msg)
}

// Conversation resolves a channel-qualified conversation id.
func (m *Mux) Conversation(ctx context.Context, id string) (conversation.Info, error) {
	name, _, ok := event.SplitConversation(id)
	if !ok {
		return conversation.Info{}, fmt.Errorf("malformed conversation id %q", id)
	}
	adapter, ok := m.adapters[name]
	if !ok {
		return conversation.Info{}, fmt.Errorf("conversation %s: %w", id, ErrUnknownChannel)
	}

	return adapter.Conversation(ctx, id)
}

// Echo builds the self notification an adapter feeds back after delivering msg.
func Echo(msg bus.OutboundMessage, self event.User, attachments ...string) event.Raw {
	raw := event.Raw{
		ID:             msg.ID,
		Channel:        msg.Channel,
		Kind:           event.KindChatMessage,
		ConversationID: msg.ConversationID,
		Sender:         self,
		Text:           msg.Content,
		Annotations:    append([]event.Annotation(nil), msg.Annotations...),
		Attachments:    append([]string(nil), attachments...),
	}
	if raw.ConversationID == "" {
		raw.ConversationID = event.ConversationKey(msg.Channel, msg.ChatID)
	}

	return raw
}
