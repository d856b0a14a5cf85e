// Package event defines the backend-agnostic envelope handed to pluggable handlers.
package event

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-sortable ULID string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// User identifies a conversation participant.
type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Username string `json:"username,omitempty"`
}

// FirstName returns the first word of the user's full name.
func (u User) FirstName() string {
	fields := strings.Fields(u.FullName)
	if len(fields) == 0 {
		return u.Username
	}

	return fields[0]
}

// Raw is one inbound notification as produced by a transport adapter.
type Raw struct {
	ID             string            `json:"id"`
	Channel        string            `json:"channel"`
	Kind           Kind              `json:"kind"`
	ConversationID string            `json:"conversation_id"`
	Sender         User              `json:"sender"`
	Text           string            `json:"text,omitempty"`
	Annotations    []Annotation      `json:"annotations,omitempty"`
	Attachments    []string          `json:"attachments,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	At             time.Time         `json:"at"`
}

// Event is the mutable envelope built fresh per inbound notification.
type Event struct {
	ID             string
	Channel        string
	Kind           Kind
	ConversationID string
	User           User
	Text           string
	Attachments    []string
	Annotations    []Annotation
	Detail         map[string]string
	At             time.Time

	// Passthru and Context carry correlation payloads resolved from annotations.
	Passthru map[string]any
	Context  map[string]any

	FromSelf bool

	// Acknowledge lists reprocessor ids a command attached to be run with its result.
	Acknowledge []string
}

// New builds an event from a raw notification. self is the bot's own user id.
func New(raw Raw, self string) *Event {
	id := raw.ID
	if id == "" {
		id = NewID()
	}
	at := raw.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return &Event{
		ID:             id,
		Channel:        raw.Channel,
		Kind:           raw.Kind,
		ConversationID: raw.ConversationID,
		User:           raw.Sender,
		Text:           raw.Text,
		Attachments:    append([]string(nil), raw.Attachments...),
		Annotations:    append([]Annotation(nil), raw.Annotations...),
		Detail:         raw.Detail,
		At:             at,
		Passthru:       map[string]any{},
		Context:        map[string]any{},
		FromSelf:       self != "" && raw.Sender.ID == self,
	}
}

// AddAcknowledge attaches a reprocessor id to be run after the triggering command.
func (e *Event) AddAcknowledge(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	e.Acknowledge = append(e.Acknowledge, id)
}

// ConversationKey qualifies a transport chat id with its channel name.
func ConversationKey(channel string, chatID string) string {
	return channel + ":" + chatID
}

// SplitConversation undoes ConversationKey.
func SplitConversation(conversationID string) (channel string, chatID string, ok bool) {
	channel, chatID, ok = strings.Cut(conversationID, ":")
	if !ok || channel == "" || chatID == "" {
		return "", "", false
	}
	return channel, chatID, true
}
