package memory

import (
	"fmt"

	"relaybot/pkg/config"
)

// NewBackend builds the backend selected by cfg.
func NewBackend(cfg config.MemoryConfig) (Backend, error) {
	switch cfg.Backend {
	case "", config.MemoryBackendFile:
		return NewFileBackend(cfg.Path)
	case config.MemoryBackendSQLite:
		return NewSQLiteBackend(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported memory backend %q", cfg.Backend)
	}
}
