package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/pkg/bus"
	"relaybot/pkg/config"
	"relaybot/pkg/conversation"
	"relaybot/pkg/event"
	"relaybot/pkg/pluggable"
)

const (
	selfID = "bot-1"
	dmConv = "test:dm"
	group  = "test:group"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (r *recordingTransport) Send(_ context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) messages() []bus.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]bus.OutboundMessage(nil), r.sent...)
}

func (r *recordingTransport) texts() []string {
	var texts []string
	for _, msg := range r.messages() {
		texts = append(texts, msg.Content)
	}
	return texts
}

// echo builds the notification a transport delivers for msg.
func echo(msg bus.OutboundMessage, attachments ...string) event.Raw {
	return event.Raw{
		Channel:        msg.Channel,
		Kind:           event.KindChatMessage,
		ConversationID: msg.ConversationID,
		Sender:         event.User{ID: selfID, FullName: "Relay Bot"},
		Text:           msg.Content,
		Annotations:    msg.Annotations,
		Attachments:    attachments,
	}
}

func chat(convID string, userID string, text string, annotations ...event.Annotation) event.Raw {
	return event.Raw{
		Channel:        "test",
		Kind:           event.KindChatMessage,
		ConversationID: convID,
		Sender:         event.User{ID: userID, FullName: "Ada Lovelace"},
		Text:           text,
		Annotations:    annotations,
	}
}

type fixture struct {
	bot       *Bot
	transport *recordingTransport
	refreshed []string
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Correlation.UploadPollIntervalMS = 5
	cfg.Correlation.UploadPollAttempts = 3
	for _, fn := range mutate {
		fn(cfg)
	}

	f := &fixture{transport: &recordingTransport{}}
	var mu sync.Mutex
	source := conversation.SourceFunc(func(_ context.Context, id string) (conversation.Info, error) {
		mu.Lock()
		f.refreshed = append(f.refreshed, id)
		mu.Unlock()

		if id == dmConv {
			return conversation.Info{Type: conversation.TypeOneToOne}, nil
		}
		return conversation.Info{Type: conversation.TypeGroup}, nil
	})

	b, err := New(cfg, Options{Transport: f.transport, Conversations: source})
	require.NoError(t, err)
	b.SetSelf("test", selfID)

	f.bot = b
	return f
}

type seen struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *seen) record(_ *Bot, ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *seen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (f *fixture) watch(t *testing.T, category string) *seen {
	t.Helper()

	s := &seen{}
	_, err := f.bot.Pluggables.Register(s.record, category)
	require.NoError(t, err)
	return s
}

func TestPassthruResolvesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	all := f.watch(t, pluggable.AllMessages)

	id := f.bot.Correlation.Passthroughs.Register(map[string]any{"k": "v"})
	annotation := event.Annotation{Type: event.AnnotationPassthrough, Value: id}

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "first", annotation)))
	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "second", annotation)))

	require.Equal(t, 2, all.count())
	require.Equal(t, map[string]any{"k": "v"}, all.events[0].Passthru)
	require.Equal(t, map[string]any{}, all.events[1].Passthru)
}

func TestResolvedSlotsLeaveAnnotations(t *testing.T) {
	f := newFixture(t)
	all := f.watch(t, pluggable.AllMessages)

	passID := f.bot.Correlation.Passthroughs.Register(map[string]any{"k": "v"})
	ctxID := f.bot.Correlation.Contexts.Register(map[string]any{"c": "d"})
	stale := event.Annotation{Type: event.AnnotationContext, Value: "already-used"}
	other := event.Annotation{Type: 7, Value: "x"}

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "hi",
		event.Annotation{Type: event.AnnotationPassthrough, Value: passID},
		other,
		event.Annotation{Type: event.AnnotationContext, Value: ctxID},
		stale,
	)))

	require.Equal(t, 1, all.count())
	got := all.events[0]
	require.Equal(t, map[string]any{"k": "v"}, got.Passthru)
	require.Equal(t, map[string]any{"c": "d"}, got.Context)
	require.Equal(t, []event.Annotation{other, stale}, got.Annotations)
}

func TestSendMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	all := f.watch(t, pluggable.AllMessages)
	message := f.watch(t, pluggable.Message)

	var reprocessed []string
	err := f.bot.SendMessage(context.Background(), group, "hello",
		WithPassthru(map[string]any{"relay": "yes"}),
		WithContext(map[string]any{"reason": "test"}),
		WithReprocessor(func(_ context.Context, _ *Bot, ev *event.Event, id string, _ ...any) error {
			reprocessed = append(reprocessed, id)
			ev.Text = "rewritten " + ev.Text
			return nil
		}),
	)
	require.NoError(t, err)

	sent := f.transport.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "test", sent[0].Channel)
	require.Equal(t, "group", sent[0].ChatID)
	require.Len(t, sent[0].Annotations, 3)
	require.Equal(t, event.AnnotationReprocessor, sent[0].Annotations[0].Type)
	require.Equal(t, event.AnnotationPassthrough, sent[0].Annotations[1].Type)
	require.Equal(t, event.AnnotationContext, sent[0].Annotations[2].Type)

	require.NoError(t, f.bot.Process(context.Background(), echo(sent[0])))

	require.Equal(t, []string{sent[0].Annotations[0].Value}, reprocessed)
	require.Equal(t, 1, all.count())
	got := all.events[0]
	require.True(t, got.FromSelf)
	require.Equal(t, "rewritten hello", got.Text)
	require.Equal(t, map[string]any{"relay": "yes"}, got.Passthru)
	require.Equal(t, map[string]any{"reason": "test"}, got.Context)
	require.Equal(t, []event.Annotation{sent[0].Annotations[0]}, got.Annotations)
	require.Zero(t, message.count(), "self messages skip the message category")

	require.NoError(t, f.bot.Process(context.Background(), echo(sent[0])))
	require.Len(t, reprocessed, 1)
	require.Empty(t, all.events[1].Passthru)
}

func TestSendMessageWithoutStateHasNoAnnotations(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.bot.SendMessage(context.Background(), group, "plain"))
	require.Nil(t, f.transport.messages()[0].Annotations)

	require.Error(t, f.bot.SendMessage(context.Background(), "no-channel", "plain"))
}

func TestSendingHandlersRewriteAndSuppress(t *testing.T) {
	f := newFixture(t)

	_, err := f.bot.Pluggables.Register(func(_ *Bot, out *Outgoing) error {
		if strings.Contains(out.Text, "secret") {
			return pluggable.ErrAbortEvent
		}
		out.Text = strings.ToUpper(out.Text)
		return nil
	}, pluggable.Sending)
	require.NoError(t, err)

	require.NoError(t, f.bot.SendMessage(context.Background(), group, "hello"))
	require.NoError(t, f.bot.SendMessage(context.Background(), group, "a secret"))
	require.Equal(t, []string{"HELLO"}, f.transport.texts())
}

func TestAbortEventStopsLaterCategories(t *testing.T) {
	f := newFixture(t)

	_, err := f.bot.Pluggables.Register(func(*Bot, *event.Event) error {
		return pluggable.ErrAbortEvent
	}, pluggable.AllMessages, pluggable.WithPriority(10))
	require.NoError(t, err)
	all := f.watch(t, pluggable.AllMessages)
	message := f.watch(t, pluggable.Message)

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "/bot ping")))

	require.Zero(t, all.count())
	require.Zero(t, message.count())
	require.Empty(t, f.transport.messages(), "command routing must not run")
}

func TestAbortCategoryContinuesWithNextCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.bot.Pluggables.Register(func(*Bot, *event.Event) error {
		return pluggable.ErrAbortCategory
	}, pluggable.AllMessages, pluggable.WithPriority(10))
	require.NoError(t, err)
	all := f.watch(t, pluggable.AllMessages)
	message := f.watch(t, pluggable.Message)

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "/bot ping")))

	require.Zero(t, all.count())
	require.Equal(t, 1, message.count())
	require.Equal(t, []string{"pong"}, f.transport.texts())
}

func TestFailingHandlerDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)

	_, err := f.bot.Pluggables.Register(func(*Bot, *event.Event) error {
		return errors.New("broken plugin")
	}, pluggable.Message, pluggable.WithPriority(1))
	require.NoError(t, err)
	message := f.watch(t, pluggable.Message)

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "hi")))
	require.Equal(t, 1, message.count())
}

func TestClassifiedEventsRefreshConversation(t *testing.T) {
	f := newFixture(t)
	membership := f.watch(t, pluggable.Membership)

	raw := event.Raw{Channel: "test", Kind: event.KindMembership, ConversationID: group, Sender: event.User{ID: "u1"}}
	require.NoError(t, f.bot.Process(context.Background(), raw))
	require.NoError(t, f.bot.Process(context.Background(), raw))
	require.Equal(t, 2, membership.count())
	require.Equal(t, []string{group, group}, f.refreshed)

	// Chat messages refresh only unknown conversations.
	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "hi")))
	require.Len(t, f.refreshed, 2)

	require.NoError(t, f.bot.Process(context.Background(), event.Raw{Kind: event.KindUnknown, ConversationID: group}))
	require.Len(t, f.refreshed, 2)
}

func TestStatusNotificationsDispatchWithoutRefresh(t *testing.T) {
	f := newFixture(t)
	typing := f.watch(t, pluggable.Typing)
	watermark := f.watch(t, pluggable.Watermark)

	require.NoError(t, f.bot.Process(context.Background(), event.Raw{Channel: "test", Kind: event.KindTyping, ConversationID: group}))
	require.NoError(t, f.bot.Process(context.Background(), event.Raw{Channel: "test", Kind: event.KindWatermark, ConversationID: group}))

	require.Equal(t, 1, typing.count())
	require.Equal(t, 1, watermark.count())
	require.Empty(t, f.refreshed)
}

func TestAutoOptInShortCircuits(t *testing.T) {
	f := newFixture(t)
	all := f.watch(t, pluggable.AllMessages)
	require.NoError(t, f.bot.Memory.Set(true, "user_data", "u1", "optout"))

	require.NoError(t, f.bot.Process(context.Background(), chat(dmConv, "u1", "hello")))

	optout, ok := f.bot.Memory.Bool("user_data", "u1", "optout")
	require.True(t, ok)
	require.False(t, optout)
	require.Zero(t, all.count())
	require.Equal(t, []string{"You are opted in again."}, f.transport.texts())

	// Group conversations never auto opt in.
	require.NoError(t, f.bot.Memory.Set(true, "user_data", "u1", "optout"))
	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "hello")))
	require.Equal(t, 1, all.count())
}

func TestUploadResolvesFromEcho(t *testing.T) {
	f := newFixture(t)

	uploadID, err := f.bot.UploadImage(context.Background(), group, "/tmp/cat.png", "")
	require.NoError(t, err)

	sent := f.transport.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "/tmp/cat.png", sent[0].Image)

	require.NoError(t, f.bot.Process(context.Background(), echo(sent[0], "https://cdn.example/cat.png")))

	var resolved string
	ok, err := f.bot.ImageURI(context.Background(), uploadID, func(_ context.Context, uri string, extra ...any) error {
		resolved = uri + extra[0].(string)
		return nil
	}, "#x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://cdn.example/cat.png#x", resolved)
}

func TestImageURITimesOut(t *testing.T) {
	f := newFixture(t)

	called := false
	ok, err := f.bot.ImageURI(context.Background(), "missing", func(context.Context, string, ...any) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, called)
}

func TestExecutableReinterpretedOnce(t *testing.T) {
	f := newFixture(t)
	all := f.watch(t, pluggable.AllMessages)
	message := f.watch(t, pluggable.Message)

	original := event.New(chat(group, "u1", "/bot ping"), selfID)
	require.NoError(t, f.bot.SendMessage(context.Background(), group, "relayed", AsExecutable(original)))
	first := f.transport.messages()[0]

	require.NoError(t, f.bot.Process(context.Background(), echo(first)))
	require.Equal(t, 1, message.count())
	require.Equal(t, "/bot ping", message.events[0].Text)
	require.Equal(t, "u1", message.events[0].User.ID)
	require.False(t, message.events[0].FromSelf)
	require.Equal(t, "pong", f.transport.messages()[1].Content)

	// A later echo carrying the same executable id stays a self message.
	executable, ok := all.events[0].Passthru[PassthruExecutable].(string)
	require.True(t, ok)
	replay := f.bot.Correlation.Passthroughs.Register(map[string]any{
		PassthruExecutable:      executable,
		PassthruOriginalRequest: map[string]any{RequestMessage: "/bot ping", RequestUser: original.User},
	})
	raw := echo(first)
	raw.Annotations = []event.Annotation{{Type: event.AnnotationPassthrough, Value: replay}}

	require.NoError(t, f.bot.Process(context.Background(), raw))
	require.Equal(t, 2, all.count())
	require.True(t, all.events[1].FromSelf)
	require.Equal(t, "relayed", all.events[1].Text)
	require.Equal(t, 1, message.count())
}

func TestRoutesCommandsAndNotifiesUnknown(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", `/bot echo "a b" c`)))
	require.NoError(t, f.bot.Process(context.Background(), chat(group, "u1", "/bot bogus")))
	require.NoError(t, f.bot.Process(context.Background(), chat(dmConv, "u1", "whoami")))

	require.Equal(t, []string{"a b c", "Unknown command: bogus", "Ada Lovelace (u1)"}, f.transport.texts())
}

func TestHandleRawIsDetached(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	_, err := f.bot.Pluggables.Register(func(context.Context, *Bot, *event.Event) error {
		<-release
		return nil
	}, pluggable.Message)
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		f.bot.HandleRaw(context.Background(), chat(group, "u1", "slow"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("HandleRaw blocked on handler")
	}

	close(release)
	f.bot.Wait()
}

func TestHandleRawPublishesLifecycleOnBus(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	b, err := New(config.Default(), Options{Transport: mb})
	require.NoError(t, err)

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 4)
	defer unsubscribe()

	b.HandleRaw(context.Background(), chat(group, "u1", "hello"))
	b.Wait()

	select {
	case got := <-events:
		require.Equal(t, bus.EventNotificationHandled, got.Type)
		require.Equal(t, group, got.ConversationID)
		require.Equal(t, "chat_message", got.Payload["kind"])
	case <-time.After(time.Second):
		t.Fatal("expected notification_handled event")
	}
}
