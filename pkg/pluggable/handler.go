package pluggable

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// Handler is the single capability every registered handler is adapted to.
// Invoke may block; the dispatcher waits for it before moving on.
type Handler interface {
	Invoke(ctx context.Context, args Args) error
}

// HandlerFunc is a suspend-capable handler.
type HandlerFunc func(ctx context.Context, args Args) error

func (f HandlerFunc) Invoke(ctx context.Context, args Args) error {
	return f(ctx, args)
}

// SyncFunc is a handler that always runs to completion without blocking.
type SyncFunc func(args Args) error

// syncAdapter makes a SyncFunc suspend-capable.
type syncAdapter struct {
	fn SyncFunc
}

func (a syncAdapter) Invoke(_ context.Context, args Args) error {
	return a.fn(args)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()

	handlerFuncType = reflect.TypeOf(HandlerFunc(nil))
	syncFuncType    = reflect.TypeOf(SyncFunc(nil))
)

// funcHandler binds filtered call args onto an arbitrary Go func.
type funcHandler struct {
	fn          reflect.Value
	params      []Param
	withContext bool
}

func (h *funcHandler) Invoke(ctx context.Context, args Args) error {
	in, err := h.bind(ctx, args)
	if err != nil {
		return err
	}

	out := h.fn.Call(in)
	if len(out) == 0 {
		return nil
	}
	if errValue := out[len(out)-1]; !errValue.IsNil() {
		return errValue.Interface().(error)
	}

	return nil
}

func (h *funcHandler) bind(ctx context.Context, args Args) ([]reflect.Value, error) {
	fnType := h.fn.Type()
	offset := 0
	in := make([]reflect.Value, fnType.NumIn())
	if h.withContext {
		in[0] = reflect.ValueOf(ctx)
		offset = 1
	}

	if len(args.Positional) > len(h.params) {
		return nil, fmt.Errorf("handler takes %d arguments but %d were given", len(h.params), len(args.Positional))
	}

	bound := make([]bool, len(h.params))
	for i, value := range args.Positional {
		v, err := convert(value, fnType.In(i+offset), h.params[i].Name)
		if err != nil {
			return nil, err
		}
		in[i+offset] = v
		bound[i] = true
	}

	for i, param := range h.params {
		value, ok := args.Keyword[param.Name]
		if !ok {
			continue
		}
		if bound[i] {
			return nil, fmt.Errorf("handler got multiple values for argument %q", param.Name)
		}
		v, err := convert(value, fnType.In(i+offset), param.Name)
		if err != nil {
			return nil, err
		}
		in[i+offset] = v
		bound[i] = true
	}

	for i, param := range h.params {
		if bound[i] {
			continue
		}
		if !param.Optional {
			return nil, fmt.Errorf("handler missing required argument %q", param.Name)
		}
		in[i+offset] = reflect.Zero(fnType.In(i + offset))
	}

	return in, nil
}

func convert(value any, target reflect.Type, name string) (reflect.Value, error) {
	if value == nil {
		switch target.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(target), nil
		default:
			return reflect.Value{}, fmt.Errorf("argument %q: nil is not assignable to %s", name, target)
		}
	}

	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(target) {
		return reflect.Value{}, fmt.Errorf("argument %q: %s is not assignable to %s", name, v.Type(), target)
	}

	return v, nil
}

// adapted is the result of turning a registration value into a Handler.
type adapted struct {
	handler  Handler
	suspends bool
	params   []Param
	name     string
}

// adapt converts any supported handler form. explicit overrides the declared
// parameter names of reflected funcs.
func adapt(handler any, explicit []Param) (adapted, error) {
	switch h := handler.(type) {
	case nil:
		return adapted{}, newError(ErrIncompatibleHandler, "handler is nil")
	case SyncFunc:
		return adapted{handler: syncAdapter{fn: h}, params: explicit, name: funcName(h)}, nil
	case HandlerFunc:
		return adapted{handler: h, suspends: true, params: explicit, name: funcName(h)}, nil
	case Handler:
		return adapted{handler: h, suspends: true, params: explicit, name: fmt.Sprintf("%T", h)}, nil
	}

	fn := reflect.ValueOf(handler)
	switch {
	case fn.Kind() == reflect.Func && fn.Type().ConvertibleTo(handlerFuncType) && !fn.IsNil():
		h := fn.Convert(handlerFuncType).Interface().(HandlerFunc)
		return adapted{handler: h, suspends: true, params: explicit, name: funcName(handler)}, nil
	case fn.Kind() == reflect.Func && fn.Type().ConvertibleTo(syncFuncType) && !fn.IsNil():
		h := fn.Convert(syncFuncType).Interface().(SyncFunc)
		return adapted{handler: syncAdapter{fn: h}, params: explicit, name: funcName(handler)}, nil
	}
	if fn.Kind() != reflect.Func {
		return adapted{}, newError(ErrIncompatibleHandler, "%T is not a function", handler)
	}
	if fn.IsNil() {
		return adapted{}, newError(ErrIncompatibleHandler, "handler is nil")
	}

	fnType := fn.Type()
	if fnType.IsVariadic() {
		return adapted{}, newError(ErrIncompatibleHandler, "variadic handler %s", funcName(handler))
	}
	switch fnType.NumOut() {
	case 0:
	case 1:
		if fnType.Out(0) != errorType {
			return adapted{}, newError(ErrIncompatibleHandler, "handler %s must return nothing or error", funcName(handler))
		}
	default:
		return adapted{}, newError(ErrIncompatibleHandler, "handler %s must return nothing or error", funcName(handler))
	}

	withContext := fnType.NumIn() > 0 && fnType.In(0) == contextType
	arity := fnType.NumIn()
	if withContext {
		arity--
	}

	params := explicit
	if params == nil {
		if arity > len(DefaultParams) {
			return adapted{}, newError(ErrIncompatibleHandler, "handler %s declares %d params without names", funcName(handler), arity)
		}
		params = make([]Param, arity)
		copy(params, DefaultParams[:arity])
	}
	if len(params) != arity {
		return adapted{}, newError(ErrIncompatibleHandler, "handler %s takes %d params, %d names declared", funcName(handler), arity, len(params))
	}

	return adapted{
		handler:  &funcHandler{fn: fn, params: params, withContext: withContext},
		suspends: withContext,
		params:   params,
		name:     funcName(handler),
	}, nil
}

// funcIdentity is a comparable key for a top-level func.
type funcIdentity uintptr

// closureName matches the runtime names of func literals and method values.
// Their code pointer is shared by every instance, so it cannot tell two
// registrations apart.
var closureName = regexp.MustCompile(`(\.func\d+(\.\d+)*|-fm)$`)

// identityOf returns a comparable identity for a handler value, or nil when
// the value has none.
func identityOf(value any) any {
	if value == nil {
		return nil
	}

	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Func {
		if v.IsNil() || !isTopLevelFunc(v) {
			return nil
		}
		return funcIdentity(v.Pointer())
	}
	if !v.Type().Comparable() {
		return nil
	}

	return value
}

func isTopLevelFunc(v reflect.Value) bool {
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return false
	}

	return !closureName.MatchString(fn.Name())
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}

	name := runtime.FuncForPC(v.Pointer()).Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	return name
}
