package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultMemoryFile = ".relaybot/memory.json"

// FileBackend stores the document as one JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend resolves path (empty selects ~/.relaybot/memory.json) and
// ensures its directory exists.
func NewFileBackend(path string) (*FileBackend, error) {
	resolved, err := ResolvePath(path, defaultMemoryFile)
	if err != nil {
		return nil, err
	}

	return &FileBackend{path: resolved}, nil
}

// Path returns the resolved file location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(_ context.Context) (map[string]any, error) {
	content, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return make(map[string]any), nil
	}

	var document map[string]any
	if err := json.Unmarshal(content, &document); err != nil {
		return nil, fmt.Errorf("parse memory file: %w", err)
	}

	return document, nil
}

// Save writes the document through a temp file and rename.
func (b *FileBackend) Save(_ context.Context, document map[string]any) error {
	content, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close memory file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace memory file: %w", err)
	}

	return nil
}

func (b *FileBackend) Close() error { return nil }

// ResolvePath expands ~, makes path absolute and creates its parent
// directory. An empty path resolves fallback under the home directory.
func ResolvePath(path string, fallback string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, fallback)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute memory path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return "", fmt.Errorf("create memory directory: %w", err)
	}

	return cleanPath, nil
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}
