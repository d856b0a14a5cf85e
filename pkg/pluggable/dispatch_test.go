package pluggable

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchOrdersByPriorityThenInsertion(t *testing.T) {
	r := NewRegistry(nil)
	rec := &recorder{}

	for _, item := range []struct {
		name     string
		priority int
	}{
		{"late", 90},
		{"first-tie", 10},
		{"default", DefaultPriority},
		{"second-tie", 10},
		{"early", 1},
	} {
		_, err := r.Register(rec.handler(item.name, nil), Message, WithPriority(item.priority))
		require.NoError(t, err)
	}

	require.NoError(t, r.Dispatch(context.Background(), Message, Args{}))
	require.Equal(t, []string{"early", "first-tie", "second-tie", "default", "late"}, rec.calls)
}

func TestDispatchSkipHandlerContinues(t *testing.T) {
	r := NewRegistry(nil)
	rec := &recorder{}

	_, _ = r.Register(rec.handler("a", nil), Message, WithPriority(1))
	_, _ = r.Register(rec.handler("skip", fmt.Errorf("not mine: %w", ErrSkipHandler)), Message, WithPriority(2))
	_, _ = r.Register(rec.handler("c", nil), Message, WithPriority(3))

	require.NoError(t, r.Dispatch(context.Background(), Message, Args{}))
	require.Equal(t, []string{"a", "skip", "c"}, rec.calls)
}

func TestDispatchAbortCategoryStopsOnlyCategory(t *testing.T) {
	r := NewRegistry(nil)
	rec := &recorder{}

	_, _ = r.Register(rec.handler("stop", ErrAbortCategory), AllMessages, WithPriority(1))
	_, _ = r.Register(rec.handler("never", nil), AllMessages, WithPriority(2))
	_, _ = r.Register(rec.handler("message", nil), Message)

	ctx := context.Background()
	require.NoError(t, r.Dispatch(ctx, AllMessages, Args{}))
	require.NoError(t, r.Dispatch(ctx, Message, Args{}))
	require.Equal(t, []string{"stop", "message"}, rec.calls)
}

func TestDispatchAbortEventPropagates(t *testing.T) {
	r := NewRegistry(nil)
	rec := &recorder{}

	_, _ = r.Register(rec.handler("abort", ErrAbortEvent), AllMessages, WithPriority(1))
	_, _ = r.Register(rec.handler("never", nil), AllMessages, WithPriority(2))

	err := r.Dispatch(context.Background(), AllMessages, Args{})
	require.ErrorIs(t, err, ErrAbortEvent)
	require.Equal(t, []string{"abort"}, rec.calls)
}

func TestDispatchContainsFailuresAndPanics(t *testing.T) {
	r := NewRegistry(nil)
	rec := &recorder{}

	_, _ = r.Register(rec.handler("boom", errors.New("boom")), Message, WithPriority(1))
	_, _ = r.Register(func() { panic("kaboom") }, Message, WithPriority(2))
	_, _ = r.Register(rec.handler("after", nil), Message, WithPriority(3))

	require.NoError(t, r.Dispatch(context.Background(), Message, Positional("bot", "event")))
	require.Equal(t, []string{"boom", "after"}, rec.calls)
}

func TestDispatchUnknownCategory(t *testing.T) {
	r := NewRegistry(nil)
	require.ErrorIs(t, r.Dispatch(context.Background(), "bogus", Args{}), ErrUnknownCategory)
}

func TestDispatchFiltersArgsForHeterogeneousHandlers(t *testing.T) {
	r := NewRegistry(nil)

	var gotBot string
	var gotEvent int
	var gotCommand string
	var ctxSeen bool

	_, err := r.Register(func(bot string) { gotBot = bot }, Message)
	require.NoError(t, err)
	_, err = r.Register(func(ctx context.Context, bot string, event int) error {
		ctxSeen = ctx != nil
		gotEvent = event
		return nil
	}, Message)
	require.NoError(t, err)
	_, err = r.Register(func(command string) { gotCommand = command }, Message, WithParams(Param{Name: ParamCommand, Optional: true}))
	require.NoError(t, err)

	args := Positional("bot-1", 7).With(ParamCommand, "router")
	require.NoError(t, r.Dispatch(context.Background(), Message, args))

	require.Equal(t, "bot-1", gotBot)
	require.Equal(t, 7, gotEvent)
	require.True(t, ctxSeen)
	require.Equal(t, "router", gotCommand)
}

func TestDispatchHooksObserveOutcomes(t *testing.T) {
	var outcomes []Outcome
	var ended error
	dispatched := 0

	hooks := Hooks{
		OnDispatch: func(ctx context.Context, category string) (context.Context, func(error)) {
			dispatched++
			return ctx, func(err error) { ended = err }
		},
		OnHandler: func(_ context.Context, call HandlerCall) {
			outcomes = append(outcomes, call.Outcome)
		},
	}
	r := NewRegistry(nil, WithHooks(hooks))
	rec := &recorder{}

	_, _ = r.Register(rec.handler("ok", nil), Message, WithPriority(1))
	_, _ = r.Register(rec.handler("skip", ErrSkipHandler), Message, WithPriority(2))
	_, _ = r.Register(rec.handler("fail", errors.New("x")), Message, WithPriority(3))
	_, _ = r.Register(rec.handler("abort", ErrAbortEvent), Message, WithPriority(4))

	err := r.Dispatch(context.Background(), Message, Args{})
	require.ErrorIs(t, err, ErrAbortEvent)
	require.Equal(t, 1, dispatched)
	require.ErrorIs(t, ended, ErrAbortEvent)
	require.Equal(t, []Outcome{OutcomeOK, OutcomeSkipped, OutcomeFailed, OutcomeAbortEvent}, outcomes)
}

func TestHooksMergeRunsBoth(t *testing.T) {
	var order []string
	a := Hooks{OnHandler: func(context.Context, HandlerCall) { order = append(order, "a") }}
	b := Hooks{OnHandler: func(context.Context, HandlerCall) { order = append(order, "b") }}

	a.Merge(b).OnHandler(context.Background(), HandlerCall{})
	require.Equal(t, []string{"a", "b"}, order)
	require.Nil(t, Hooks{}.Merge(Hooks{}).OnHandler)
}
