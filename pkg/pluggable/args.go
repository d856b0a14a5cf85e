package pluggable

import "fmt"

// Canonical parameter names used when a handler does not declare its own.
const (
	ParamBot     = "bot"
	ParamEvent   = "event"
	ParamCommand = "command"
)

// DefaultParams is the positional order of a standard dispatch call.
var DefaultParams = []Param{{Name: ParamBot}, {Name: ParamEvent}, {Name: ParamCommand}}

// Param is one declared handler parameter.
type Param struct {
	Name string
	// Optional params are dropped from the positional list when the call
	// also supplies them by keyword.
	Optional bool
}

// Args is one dispatch call payload.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Positional builds Args from positional values only.
func Positional(values ...any) Args {
	return Args{Positional: values}
}

// With returns a copy of a carrying an additional keyword value.
func (a Args) With(name string, value any) Args {
	keyword := make(map[string]any, len(a.Keyword)+1)
	for key, v := range a.Keyword {
		keyword[key] = v
	}
	keyword[name] = value

	return Args{Positional: a.Positional, Keyword: keyword}
}

// Lookup resolves a declared parameter by name, preferring keyword values.
func (a Args) Lookup(name string, params []Param) (any, bool) {
	if value, ok := a.Keyword[name]; ok {
		return value, true
	}
	for i, param := range params {
		if param.Name == name && i < len(a.Positional) {
			return a.Positional[i], true
		}
	}

	return nil, false
}

// FilterArgs narrows a call to the subset the declared params accept.
//
// Positional value i survives when a param exists at position i and that
// param is either required or not also supplied by keyword. Keyword values
// survive when their name is declared. A nil params slice accepts everything.
func FilterArgs(positional []any, keyword map[string]any, params []Param) Args {
	if params == nil {
		return Args{Positional: positional, Keyword: keyword}
	}

	names := make(map[string]struct{}, len(params))
	for _, param := range params {
		names[param.Name] = struct{}{}
	}

	filtered := Args{Positional: make([]any, 0, len(positional))}
	for i, value := range positional {
		if i >= len(params) {
			break
		}
		if _, supplied := keyword[params[i].Name]; params[i].Optional && supplied {
			continue
		}
		filtered.Positional = append(filtered.Positional, value)
	}

	for key, value := range keyword {
		if _, ok := names[key]; !ok {
			continue
		}
		if filtered.Keyword == nil {
			filtered.Keyword = make(map[string]any, len(keyword))
		}
		filtered.Keyword[key] = value
	}

	return filtered
}

func stringifyArgs(values []any) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, fmt.Sprintf("%v", value))
	}

	return out
}
