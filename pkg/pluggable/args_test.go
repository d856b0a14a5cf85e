package pluggable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name       string
		positional []any
		keyword    map[string]any
		params     []Param
		want       Args
	}{
		{
			name:       "nil params accept everything",
			positional: []any{1, 2},
			keyword:    map[string]any{"x": 3},
			params:     nil,
			want:       Args{Positional: []any{1, 2}, Keyword: map[string]any{"x": 3}},
		},
		{
			name:       "extra positional values are dropped",
			positional: []any{"bot", "event", "command"},
			params:     Names("bot", "event"),
			want:       Args{Positional: []any{"bot", "event"}},
		},
		{
			name:       "undeclared keywords are dropped",
			positional: []any{"bot"},
			keyword:    map[string]any{"event": "e", "other": 1},
			params:     Names("bot", "event"),
			want:       Args{Positional: []any{"bot"}, Keyword: map[string]any{"event": "e"}},
		},
		{
			name:       "optional param supplied by keyword drops positional",
			positional: []any{"bot", "positional-event"},
			keyword:    map[string]any{"event": "keyword-event"},
			params:     []Param{{Name: "bot"}, {Name: "event", Optional: true}},
			want:       Args{Positional: []any{"bot"}, Keyword: map[string]any{"event": "keyword-event"}},
		},
		{
			name:   "no params take nothing",
			params: []Param{},
			want:   Args{Positional: []any{}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterArgs(tc.positional, tc.keyword, tc.params)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestArgsLookup(t *testing.T) {
	args := Positional("bot", "event").With("command", "cmd")

	value, ok := args.Lookup("event", DefaultParams)
	require.True(t, ok)
	require.Equal(t, "event", value)

	value, ok = args.Lookup("command", DefaultParams)
	require.True(t, ok)
	require.Equal(t, "cmd", value)

	_, ok = args.Lookup("missing", DefaultParams)
	require.False(t, ok)
}
