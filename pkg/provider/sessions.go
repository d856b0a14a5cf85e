package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	providertypes "relaybot/pkg/provider/types"
)

// Sessions keeps one provider session per bot conversation and serializes
// prompts within each session.
type Sessions struct {
	client Client
	model  string
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	promptMu sync.Mutex
}

func NewSessions(client Client, model string, log *slog.Logger) *Sessions {
	if log == nil {
		log = slog.Default()
	}

	return &Sessions{
		client:   client,
		model:    model,
		log:      log.With("component", "provider.sessions"),
		sessions: make(map[string]*session),
	}
}

// Ask sends prompt within the session of conversationID, creating the
// session on first use.
func (s *Sessions) Ask(ctx context.Context, conversationID string, prompt string) (providertypes.PromptResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return providertypes.PromptResult{}, errors.New("prompt is required")
	}

	sess, err := s.sessionFor(ctx, conversationID)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	sess.promptMu.Lock()
	defer sess.promptMu.Unlock()

	return s.client.Prompt(ctx, sess.id, prompt, s.model)
}

// Forget drops the session of conversationID so the next Ask starts fresh.
func (s *Sessions) Forget(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[conversationID]
	delete(s.sessions, conversationID)
	return ok
}

func (s *Sessions) sessionFor(ctx context.Context, conversationID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[conversationID]; ok {
		return sess, nil
	}

	id, err := s.client.CreateSession(ctx, "relaybot:"+conversationID)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", conversationID, err)
	}

	sess := &session{id: id}
	s.sessions[conversationID] = sess
	s.log.Debug("Provider session started", "conversation_id", conversationID, "session_id", id)
	return sess, nil
}
