package pluggable

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dispatch invokes every handler of category in priority order, one at a
// time. Handler failures are logged and contained. The only error returned
// for a known category is one wrapping ErrAbortEvent, which callers must pass
// up so no further category is dispatched for the same event.
func (r *Registry) Dispatch(ctx context.Context, category string, args Args) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, ok := r.snapshot(category)
	if !ok {
		return newError(ErrUnknownCategory, "%q", category)
	}

	if r.hooks.OnDispatch != nil {
		var end func(error)
		ctx, end = r.hooks.OnDispatch(ctx, category)
		defer func() { end(err) }()
	}

	for _, entry := range entries {
		callErr := r.invoke(ctx, entry, args)

		switch {
		case callErr == nil:
		case errors.Is(callErr, ErrAbortEvent):
			r.log.Debug("Handler aborted event", "category", category, "handler", entry.label())
			return fmt.Errorf("%s: %s: %w", category, entry.label(), callErr)
		case errors.Is(callErr, ErrAbortCategory):
			r.log.Debug("Handler aborted category", "category", category, "handler", entry.label())
			return nil
		case errors.Is(callErr, ErrSkipHandler):
			r.log.Debug("Handler skipped", "category", category, "handler", entry.label())
		default:
			r.log.Error("Handler failed",
				"category", category,
				"handler", entry.label(),
				"args", stringifyArgs(args.Positional),
				"kwargs", args.Keyword,
				"error", callErr,
			)
		}
	}

	return nil
}

// invoke runs one handler with its filtered call, converting panics into errors.
func (r *Registry) invoke(ctx context.Context, entry *Registration, args Args) (err error) {
	startedAt := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
		if r.hooks.OnHandler != nil {
			r.hooks.OnHandler(ctx, HandlerCall{
				Category: entry.category,
				Handler:  entry.name,
				Module:   entry.ModulePath(),
				Priority: entry.priority,
				Outcome:  outcomeOf(err),
				Err:      err,
				Duration: time.Since(startedAt),
			})
		}
	}()

	filtered := FilterArgs(args.Positional, args.Keyword, entry.params)
	r.log.Debug("Invoking handler", "category", entry.category, "handler", entry.label())

	return entry.handler.Invoke(ctx, filtered)
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrAbortEvent):
		return OutcomeAbortEvent
	case errors.Is(err, ErrAbortCategory):
		return OutcomeAbortCategory
	case errors.Is(err, ErrSkipHandler):
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}
