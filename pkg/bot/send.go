package bot

import (
	"context"
	"errors"
	"fmt"

	"relaybot/pkg/bus"
	"relaybot/pkg/correlation"
	"relaybot/pkg/event"
	"relaybot/pkg/pluggable"
)

// Outgoing is a message on its way out. Handlers of the sending category
// receive it and may rewrite it.
type Outgoing struct {
	ID             string
	ConversationID string
	Text           string
	Image          string
	Reprocessor    Reprocessor
	Passthru       map[string]any
	Context        map[string]any
}

// SendOption configures one outgoing message.
type SendOption func(*Outgoing)

// WithReprocessor runs fn when the echo of the message arrives.
func WithReprocessor(fn Reprocessor) SendOption {
	return func(o *Outgoing) { o.Reprocessor = fn }
}

// WithPassthru attaches a payload that becomes the echo's Passthru.
func WithPassthru(payload map[string]any) SendOption {
	return func(o *Outgoing) { o.Passthru = payload }
}

// WithContext attaches a payload that becomes the echo's Context.
func WithContext(payload map[string]any) SendOption {
	return func(o *Outgoing) { o.Context = payload }
}

// WithImage sends image (a URL or local path) with the message.
func WithImage(image string) SendOption {
	return func(o *Outgoing) { o.Image = image }
}

// AsExecutable makes the echo of the message be handled once as if ev's
// sender had written ev's text.
func AsExecutable(ev *event.Event) SendOption {
	return func(o *Outgoing) {
		if o.Passthru == nil {
			o.Passthru = map[string]any{}
		}
		o.Passthru[PassthruExecutable] = event.NewID()
		o.Passthru[PassthruOriginalRequest] = map[string]any{
			RequestMessage: ev.Text,
			RequestUser:    ev.User,
		}
	}
}

// SendMessage runs the sending category on the message, registers its
// attached state and hands it to the transport. A sending handler that aborts
// the event suppresses the message.
func (b *Bot) SendMessage(ctx context.Context, conversationID string, text string, opts ...SendOption) error {
	out := &Outgoing{ID: event.NewID(), ConversationID: conversationID, Text: text}
	for _, opt := range opts {
		opt(out)
	}

	if err := b.Pluggables.Dispatch(ctx, pluggable.Sending, pluggable.Positional(b, out)); err != nil {
		if errors.Is(err, pluggable.ErrAbortEvent) {
			b.log.Debug("Outgoing message suppressed", "conversation_id", out.ConversationID, "reason", err)
			return nil
		}
		return fmt.Errorf("dispatch sending: %w", err)
	}

	channel, chatID, ok := event.SplitConversation(out.ConversationID)
	if !ok {
		return fmt.Errorf("invalid conversation id %q", out.ConversationID)
	}

	var reprocessorID, passthruID, contextID string
	if out.Reprocessor != nil {
		reprocessorID = b.AttachReprocessor(out.Reprocessor)
	}
	if len(out.Passthru) > 0 {
		passthruID = b.Correlation.Passthroughs.Register(out.Passthru)
	}
	if len(out.Context) > 0 {
		contextID = b.Correlation.Contexts.Register(out.Context)
	}

	msg := bus.OutboundMessage{
		ID:             out.ID,
		Channel:        channel,
		ChatID:         chatID,
		ConversationID: out.ConversationID,
		Content:        out.Text,
		Image:          out.Image,
		Annotations:    event.Annotations(reprocessorID, passthruID, contextID),
	}
	if err := b.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// AttachReprocessor registers fn and returns the id to carry in a reprocessor
// annotation or an acknowledge list.
func (b *Bot) AttachReprocessor(fn Reprocessor) string {
	return b.Correlation.Reprocessors.Register(fn)
}

// RunReprocessor resolves id and runs its continuation. An unknown or already
// consumed id is a no-op.
func (b *Bot) RunReprocessor(ctx context.Context, id string, ev *event.Event, extra ...any) (err error) {
	fn, ok := b.Correlation.Reprocessors.Resolve(id)
	if !ok {
		return nil
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("reprocessor panic: %v", recovered)
		}
	}()

	b.log.Info("Reprocessor found", "reprocessor_id", id)
	return fn(ctx, b, ev, id, extra...)
}

// UploadImage sends image to conversationID and returns an upload id that
// resolves to the image's public location once the echo arrives.
func (b *Bot) UploadImage(ctx context.Context, conversationID string, image string, caption string) (string, error) {
	uploadID := event.NewID()
	if caption == "" {
		caption = image
	}

	err := b.SendMessage(ctx, conversationID, caption,
		WithImage(image),
		WithPassthru(map[string]any{
			PassthruOriginalRequest: map[string]any{RequestImageID: uploadID},
		}),
	)
	if err != nil {
		return "", err
	}

	return uploadID, nil
}

// ImageURI waits for uploadID to resolve and passes the location to callback.
func (b *Bot) ImageURI(ctx context.Context, uploadID string, callback correlation.UploadCallback, extra ...any) (bool, error) {
	return b.Correlation.ResolveUploadURI(ctx, uploadID, callback, extra...)
}
