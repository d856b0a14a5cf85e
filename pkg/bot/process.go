package bot

import (
	"context"
	"errors"
	"time"

	"relaybot/pkg/bus"
	"relaybot/pkg/event"
	"relaybot/pkg/pluggable"
)

// Passthrough keys understood by the chat-message path.
const (
	PassthruOriginalRequest = "original_request"
	PassthruExecutable      = "executable"

	RequestMessage = "message"
	RequestUser    = "user"
	RequestImageID = "image_id"
)

// HandleRaw processes raw in its own goroutine so the caller's receive loop
// never waits on handlers.
func (b *Bot) HandleRaw(ctx context.Context, raw event.Raw) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()

		err := b.Process(ctx, raw)
		if err != nil {
			b.log.Error("Notification processing failed", "notification_id", raw.ID, "kind", raw.Kind, "error", err)
		}
		b.publishOutcome(ctx, raw, err)
	}()
}

// eventPublisher is implemented by transports that carry lifecycle events.
type eventPublisher interface {
	PublishEvent(ctx context.Context, ev bus.Event) bool
}

func (b *Bot) publishOutcome(ctx context.Context, raw event.Raw, err error) {
	publisher, ok := b.transport.(eventPublisher)
	if !ok {
		return
	}

	notice := bus.Event{
		Type:           bus.EventNotificationHandled,
		Channel:        raw.Channel,
		ConversationID: raw.ConversationID,
		MessageID:      raw.ID,
		Payload:        map[string]string{"kind": raw.Kind.String()},
	}
	if err != nil {
		notice.Type = bus.EventNotificationFailed
		notice.Error = err.Error()
	}
	publisher.PublishEvent(context.WithoutCancel(ctx), notice)
}

// Process classifies raw and runs it to completion. An aborted event is not
// an error.
func (b *Bot) Process(ctx context.Context, raw event.Raw) error {
	route, ok := Classify(raw.Kind)
	if !ok {
		b.log.Warn("Unrecognised notification kind", "kind", raw.Kind, "channel", raw.Channel)
		return nil
	}

	ev := event.New(raw, b.Self(raw.Channel))

	if !raw.Kind.IsStatus() && (!route.Chat || !b.Conversations.Contains(ev.ConversationID)) {
		if _, err := b.Conversations.Update(ctx, ev.ConversationID); err != nil {
			b.log.Warn("Conversation refresh failed", "conversation_id", ev.ConversationID, "error", err)
		}
	}

	var err error
	if route.Chat {
		err = b.handleChatMessage(ctx, ev)
	} else {
		err = b.dispatch(ctx, route.Category, ev)
	}

	if errors.Is(err, pluggable.ErrAbortEvent) {
		b.log.Debug("Event handling aborted", "event_id", ev.ID, "reason", err)
		return nil
	}
	return err
}

func (b *Bot) dispatch(ctx context.Context, category string, ev *event.Event) error {
	return b.Pluggables.Dispatch(ctx, category, pluggable.Positional(b, ev, b.Commands))
}

func (b *Bot) handleChatMessage(ctx context.Context, ev *event.Event) error {
	if ev.Text == "" {
		return nil
	}

	b.resolveAnnotations(ctx, ev)

	if b.autoOptIn(ctx, ev) {
		return nil
	}

	b.cacheUpload(ev)
	b.reinterpretExecutable(ev)

	if err := b.dispatch(ctx, pluggable.AllMessages, ev); err != nil {
		return err
	}
	if ev.FromSelf {
		return nil
	}
	if err := b.dispatch(ctx, pluggable.Message, ev); err != nil {
		return err
	}

	if _, err := b.router.Route(ctx, ev); err != nil {
		b.log.Error("Command failed", "conversation_id", ev.ConversationID, "user_id", ev.User.ID, "error", err)
	}
	return nil
}

// resolveAnnotations consumes the correlation slots of ev. Reprocessors run
// immediately so they can rewrite the event before any handler sees it.
// Resolved passthrough and context slots are removed from ev.Annotations.
func (b *Bot) resolveAnnotations(ctx context.Context, ev *event.Event) {
	ev.Passthru = map[string]any{}
	ev.Context = map[string]any{}

	annotations := ev.Annotations
	kept := make([]event.Annotation, 0, len(annotations))
	for _, annotation := range annotations {
		switch annotation.Type {
		case event.AnnotationReprocessor:
			if err := b.RunReprocessor(ctx, annotation.Value, ev); err != nil {
				b.log.Error("Reprocessor failed", "reprocessor_id", annotation.Value, "error", err)
			}
		case event.AnnotationPassthrough:
			if payload, ok := b.Correlation.Passthroughs.Resolve(annotation.Value); ok {
				ev.Passthru = payload
				continue
			}
		case event.AnnotationContext:
			if payload, ok := b.Correlation.Contexts.Resolve(annotation.Value); ok {
				ev.Context = payload
				continue
			}
		}
		kept = append(kept, annotation)
	}
	if len(kept) == 0 {
		kept = nil
	}
	ev.Annotations = kept
}

// autoOptIn clears the opt-out flag of a user who writes to the bot directly.
// It reports whether the event was consumed.
func (b *Bot) autoOptIn(ctx context.Context, ev *event.Event) bool {
	if ev.FromSelf || !b.Conversations.IsOneToOne(ev.ConversationID) {
		return false
	}

	optout, ok := b.Memory.Bool("user_data", ev.User.ID, "optout")
	if !ok || !optout {
		return false
	}

	if _, err := b.Commands.Run(ctx, ev, "optout"); err != nil {
		b.log.Error("Auto opt-in failed", "user_id", ev.User.ID, "error", err)
	} else {
		b.log.Info("Auto opt-in", "user_id", ev.User.ID)
	}
	return true
}

func (b *Bot) cacheUpload(ev *event.Event) {
	request, ok := originalRequest(ev.Passthru)
	if !ok || len(ev.Attachments) != 1 {
		return
	}
	uploadID, _ := request[RequestImageID].(string)
	if uploadID == "" {
		return
	}

	if b.Correlation.ResolveUpload(uploadID, ev.Attachments[0]) {
		b.log.Info("Upload resolved", "upload_id", uploadID, "uri", ev.Attachments[0])
	}
}

// reinterpretExecutable turns the first echo of an executable message back
// into the request that caused it.
func (b *Bot) reinterpretExecutable(ev *event.Event) {
	executable, _ := ev.Passthru[PassthruExecutable].(string)
	if executable == "" {
		return
	}

	request, ok := originalRequest(ev.Passthru)
	if !ok {
		b.log.Warn("Executable without original request", "executable", executable)
		return
	}
	if !b.Correlation.MarkExecutable(executable, time.Now()) {
		return
	}

	message, _ := request[RequestMessage].(string)
	b.log.Info("Event is executable", "executable", executable, "message", message)

	ev.FromSelf = false
	ev.Text = message
	if user, ok := request[RequestUser].(event.User); ok {
		ev.User = user
	}
}

func originalRequest(passthru map[string]any) (map[string]any, bool) {
	request, ok := passthru[PassthruOriginalRequest].(map[string]any)
	return request, ok && request != nil
}
