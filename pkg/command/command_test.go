package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"relaybot/pkg/config"
	"relaybot/pkg/event"
)

type recordingNotifier struct {
	unknown [][]string
	blocked [][]string
}

func (n *recordingNotifier) Unknown(_ context.Context, _ *event.Event, args []string) error {
	n.unknown = append(n.unknown, args)
	return nil
}

func (n *recordingNotifier) Blocked(_ context.Context, _ *event.Event, args []string) error {
	n.blocked = append(n.blocked, args)
	return nil
}

type oneToOne map[string]bool

func (o oneToOne) IsOneToOne(convID string) bool { return o[convID] }

type ackRecorder struct {
	ids    []string
	extras [][]any
}

func (a *ackRecorder) RunReprocessor(_ context.Context, id string, _ *event.Event, extra ...any) error {
	a.ids = append(a.ids, id)
	a.extras = append(a.extras, extra)
	return nil
}

type fixture struct {
	cfg      config.BotConfig
	registry *Registry
	router   *Router
	notifier *recordingNotifier
	ack      *ackRecorder
	calls    []Request
}

func newFixture(t *testing.T, cfg config.BotConfig) *fixture {
	t.Helper()

	if len(cfg.Aliases) == 0 {
		cfg.Aliases = []string{"/bot"}
	}

	f := &fixture{cfg: cfg, notifier: &recordingNotifier{}, ack: &ackRecorder{}}
	f.registry = NewRegistry(cfg, nil)

	record := func(_ context.Context, req Request) (any, error) {
		f.calls = append(f.calls, req)
		return "done:" + req.Name, nil
	}
	require.NoError(t, f.registry.Register("echo", record))
	require.NoError(t, f.registry.Register("optout", record))
	require.NoError(t, f.registry.Register("shutdown", record, AdminOnly()))

	f.router = NewRouter(cfg, f.registry, oneToOne{"dm": true}, f.notifier, f.ack, nil)
	return f
}

func chat(convID, userID, text string) *event.Event {
	return event.New(event.Raw{
		Kind:           event.KindChatMessage,
		ConversationID: convID,
		Sender:         event.User{ID: userID},
		Text:           text,
	}, "bot")
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "quoted", text: `/bot echo "a b" c`, want: []string{"/bot", "echo", "a b", "c"}},
		{name: "single quotes", text: `/bot echo 'x y'`, want: []string{"/bot", "echo", "x y"}},
		{name: "non breaking space", text: "/bot\u00a0echo\u00a0hi", want: []string{"/bot", "echo", "hi"}},
		{name: "hashtag", text: "/bot echo #general hi", want: []string{"/bot", "echo", "#general", "hi"}},
		{name: "issue reference", text: "/bot echo issue #42 fixed", want: []string{"/bot", "echo", "issue", "#42", "fixed"}},
		{name: "shell operators are text", text: "/bot echo a;b | c", want: []string{"/bot", "echo", "a;b", "|", "c"}},
		{name: "unbalanced quote falls back", text: `/bot echo "oops`, want: []string{"/bot", "echo", `"oops`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestRouteRunsRecognizedCommand(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	outcome, err := f.router.Route(context.Background(), chat("group", "u1", `/bot echo "a b" c`))
	require.NoError(t, err)
	require.Equal(t, OutcomeRun, outcome)
	require.Len(t, f.calls, 1)
	require.Equal(t, "echo", f.calls[0].Name)
	require.Equal(t, []string{"a b", "c"}, f.calls[0].Args)
}

func TestRouteUnknownCommandNotifiesOnce(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	outcome, err := f.router.Route(context.Background(), chat("group", "u1", "/bot bogus x"))
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, outcome)
	require.Equal(t, [][]string{{"bogus", "x"}}, f.notifier.unknown)
	require.Empty(t, f.notifier.blocked)
	require.Empty(t, f.calls)
}

func TestRouteBlockedCommandForNonAdmin(t *testing.T) {
	f := newFixture(t, config.BotConfig{Admins: []string{"admin"}})

	outcome, err := f.router.Route(context.Background(), chat("group", "u1", "/bot shutdown"))
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, outcome)
	require.Len(t, f.notifier.blocked, 1)
	require.Empty(t, f.calls)

	outcome, err = f.router.Route(context.Background(), chat("group", "admin", "/bot shutdown"))
	require.NoError(t, err)
	require.Equal(t, OutcomeRun, outcome)
	require.Len(t, f.calls, 1)
}

func TestRouteCommandsAdminOverride(t *testing.T) {
	f := newFixture(t, config.BotConfig{
		Conversations: map[string]config.ConversationConfig{"strict": {CommandsAdmin: []string{"echo"}}},
	})

	outcome, err := f.router.Route(context.Background(), chat("strict", "u1", "/bot echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, outcome)

	outcome, err = f.router.Route(context.Background(), chat("open", "u1", "/bot echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeRun, outcome)
}

func TestRouteAutoAliasInOneToOne(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	ev := chat("dm", "u1", "echo hi")
	outcome, err := f.router.Route(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeRun, outcome)
	require.Equal(t, "/bot echo hi", ev.Text)
	require.Equal(t, []string{"hi"}, f.calls[0].Args)

	group := chat("group", "u1", "echo hi")
	outcome, err = f.router.Route(context.Background(), group)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
	require.Equal(t, "echo hi", group.Text)
}

func TestRouteAutoAliasDisabled(t *testing.T) {
	disabled := false
	f := newFixture(t, config.BotConfig{AutoAliasOneToOne: &disabled})

	outcome, err := f.router.Route(context.Background(), chat("dm", "u1", "echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
	require.Empty(t, f.calls)
}

func TestRouteGating(t *testing.T) {
	disabled := false
	f := newFixture(t, config.BotConfig{
		Admins:          []string{"admin"},
		CommandsEnabled: &disabled,
		Ignore:          []string{"muted"},
	})

	outcome, err := f.router.Route(context.Background(), chat("group", "u1", "/bot echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)

	outcome, err = f.router.Route(context.Background(), chat("group", "admin", "/bot echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeRun, outcome)

	enabled := true
	f = newFixture(t, config.BotConfig{CommandsEnabled: &enabled, Ignore: []string{"muted"}})
	outcome, err = f.router.Route(context.Background(), chat("group", "muted", "/bot echo hi"))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
}

func TestRouteIgnoresAliasOnlyAndEmptyText(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	for _, text := range []string{"", "   ", "/bot"} {
		outcome, err := f.router.Route(context.Background(), chat("group", "u1", text))
		require.NoError(t, err)
		require.Equal(t, OutcomeIgnored, outcome, text)
	}
	require.Empty(t, f.notifier.unknown)
}

func TestRouteRunsAcknowledgeReprocessors(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	ev := chat("group", "u1", "/bot echo hi")
	ev.AddAcknowledge("r1")
	ev.AddAcknowledge("r2")

	_, err := f.router.Route(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2"}, f.ack.ids)
	require.Equal(t, []any{"done:echo"}, f.ack.extras[0])
}

func TestRouteReturnsCommandError(t *testing.T) {
	f := newFixture(t, config.BotConfig{})
	require.NoError(t, f.registry.Register("fail", func(context.Context, Request) (any, error) {
		return nil, errors.New("boom")
	}))

	ev := chat("group", "u1", "/bot fail")
	ev.AddAcknowledge("r1")

	outcome, err := f.router.Route(context.Background(), ev)
	require.ErrorContains(t, err, "boom")
	require.Equal(t, OutcomeRun, outcome)
	require.Empty(t, f.ack.ids)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry(config.BotConfig{}, nil)
	noop := func(context.Context, Request) (any, error) { return nil, nil }

	require.NoError(t, registry.Register("Echo", noop, WithHelp("echo text")))
	require.ErrorIs(t, registry.Register("echo", noop), ErrDuplicateCommand)

	help, ok := registry.Help("ECHO")
	require.True(t, ok)
	require.Equal(t, "echo text", help)

	_, err := registry.Run(context.Background(), nil, "missing")
	require.ErrorIs(t, err, ErrUnknownCommand)
}
