// Package conversation caches per-conversation metadata pulled from the
// transport.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Type distinguishes direct chats from group chats.
type Type string

const (
	TypeOneToOne Type = "ONE_TO_ONE"
	TypeGroup    Type = "GROUP"
)

// Info is the cached view of one conversation.
type Info struct {
	ID           string
	Title        string
	Type         Type
	Participants []string
	// History is false when the conversation is off the record.
	History   bool
	UpdatedAt time.Time
}

// Source resolves conversation metadata, normally the transport adapter.
type Source interface {
	Conversation(ctx context.Context, id string) (Info, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, id string) (Info, error)

func (f SourceFunc) Conversation(ctx context.Context, id string) (Info, error) {
	return f(ctx, id)
}

// Cache holds the last known Info for each conversation.
type Cache struct {
	source Source
	log    *slog.Logger
	now    func() time.Time
	items  *ttlcache.Cache[string, Info]
}

// NewCache builds a cache backed by source. A nil source makes Update a
// no-op for unknown conversations.
func NewCache(source Source, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}

	return &Cache{
		source: source,
		log:    log.With("component", "conversation.cache"),
		now:    time.Now,
		items:  ttlcache.New[string, Info](ttlcache.WithDisableTouchOnHit[string, Info]()),
	}
}

// Update refreshes id from the source and stores the result.
func (c *Cache) Update(ctx context.Context, id string) (Info, error) {
	if id == "" {
		return Info{}, errors.New("conversation id is required")
	}
	if c.source == nil {
		info, _ := c.Get(id)
		return info, nil
	}

	info, err := c.source.Conversation(ctx, id)
	if err != nil {
		return Info{}, fmt.Errorf("refresh conversation %s: %w", id, err)
	}

	info.ID = id
	if info.Type == "" {
		info.Type = TypeGroup
	}
	c.Put(info)

	c.log.Debug("Conversation refreshed", "conversation_id", id, "type", info.Type, "participants", len(info.Participants))
	return info, nil
}

// Put stores info directly.
func (c *Cache) Put(info Info) {
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = c.now()
	}
	info.Participants = slices.Clone(info.Participants)

	c.items.Set(info.ID, info, ttlcache.NoTTL)
}

func (c *Cache) Get(id string) (Info, bool) {
	item := c.items.Get(id)
	if item == nil {
		return Info{}, false
	}

	return item.Value(), true
}

func (c *Cache) Contains(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// IsOneToOne reports whether id is a known direct conversation.
func (c *Cache) IsOneToOne(id string) bool {
	info, ok := c.Get(id)
	return ok && info.Type == TypeOneToOne
}

// IDs returns the known conversation ids in sorted order.
func (c *Cache) IDs() []string {
	ids := c.items.Keys()
	slices.Sort(ids)
	return ids
}
