// Package provider wraps the LLM backend used by the ask command.
package provider

import (
	"context"
	"errors"
	"log/slog"

	"relaybot/pkg/config"
	provideropenai "relaybot/pkg/provider/openai"
	providertypes "relaybot/pkg/provider/types"
)

// ErrDisabled is returned by New when no provider is enabled.
var ErrDisabled = errors.New("no provider enabled")

type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string) (providertypes.PromptResult, error)
}

func New(cfg *config.Config) (Client, error) {
	if !cfg.Providers.OpenAI.Enabled {
		return nil, ErrDisabled
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", "openai")
	return provideropenai.New(cfg)
}
