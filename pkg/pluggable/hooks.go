package pluggable

import (
	"context"
	"time"
)

// Outcome classifies how one handler invocation ended.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeAbortCategory Outcome = "abort_category"
	OutcomeAbortEvent    Outcome = "abort_event"
	OutcomeFailed        Outcome = "failed"
)

// HandlerCall describes one finished handler invocation.
type HandlerCall struct {
	Category string
	Handler  string
	Module   string
	Priority int
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Hooks observe dispatch. All hooks are optional.
type Hooks struct {
	// OnDispatch runs before the first handler of a dispatch call. The returned
	// context is passed to handlers and the returned func runs when the
	// dispatch call ends.
	OnDispatch func(ctx context.Context, category string) (context.Context, func(err error))

	// OnHandler runs after every handler invocation.
	OnHandler func(ctx context.Context, call HandlerCall)
}

// Merge combines two Hooks; hooks from other run after hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnDispatch: chainDispatchHooks(h.OnDispatch, other.OnDispatch),
		OnHandler:  chainHandlerHooks(h.OnHandler, other.OnHandler),
	}
}

func chainDispatchHooks(a, b func(context.Context, string) (context.Context, func(error))) func(context.Context, string) (context.Context, func(error)) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, category string) (context.Context, func(error)) {
		ctx, endA := a(ctx, category)
		ctx, endB := b(ctx, category)
		return ctx, func(err error) {
			endB(err)
			endA(err)
		}
	}
}

func chainHandlerHooks(a, b func(context.Context, HandlerCall)) func(context.Context, HandlerCall) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, call HandlerCall) {
		a(ctx, call)
		b(ctx, call)
	}
}
