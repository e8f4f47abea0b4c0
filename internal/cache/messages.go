// Chat message cache: per-(owner, topic) ordered message lists plus the
// per-owner topic-summary index, written through to the store with a short
// TTL refreshed on every write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// MessageCache manages cached conversations. All mutations are
// read-modify-write over the full list: two concurrent appends to the same
// (owner, topic) race and the last writer's list wins, dropping the other
// append. That matches the deployed behavior; passing serialize=true to the
// constructor arms a per-key mutex that removes the race within one process.
type MessageCache struct {
	Store store.Store
	TTL   time.Duration

	locks *keyedLocks
}

// NewMessageCache builds a MessageCache. ttl is the cache entry lifetime
// (refreshed on every write); serialize opts in to per-(owner, topic)
// serialization of appends.
func NewMessageCache(st store.Store, ttl time.Duration, serialize bool) *MessageCache {
	c := &MessageCache{Store: st, TTL: ttl}
	if serialize {
		c.locks = newKeyedLocks()
	}
	return c
}

// Append adds one message to the (owner, topic) conversation, tagged pending,
// and updates the owner's topic-summary list in the same write batch: an
// existing summary (case-insensitive topic match) gets its count bumped to
// the new list length, otherwise a new entry is appended. Both keys get a
// fresh TTL. A failed append is a failed chat turn; the caller must not
// report the message as sent.
func (c *MessageCache) Append(ctx context.Context, owner, topic string, msg domain.ChatMessage) error {
	tr := otel.Tracer("cache/MessageCache")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("topic", topic),
		),
	)
	defer span.End()

	messageKey := keys.ChatMessages(owner, topic)
	unlock := c.locks.acquire(messageKey)
	defer unlock()

	msgs, err := c.loadMessages(ctx, messageKey)
	if err != nil {
		return err
	}

	msg.SyncState = domain.SyncPending
	msgs = append(msgs, msg)

	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages %s: %w", messageKey, err)
	}

	batch := c.Store.Batch()
	batch.SetEx(messageKey, string(payload), c.TTL)

	summaries, err := c.loadSummaries(ctx, owner)
	if err != nil {
		return err
	}
	// The message key trims the topic; the summary entry must agree or
	// RemoveTopic's trimmed comparison leaves it orphaned.
	summaries = upsertSummary(summaries, strings.TrimSpace(topic), len(msgs))

	summaryPayload, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("encode summaries for %s: %w", owner, err)
	}
	batch.SetEx(keys.UndeployedChats(owner), string(summaryPayload), c.TTL)

	return batch.Exec(ctx)
}

// Read returns the cached conversation, or ErrNotFound on a miss so the
// caller can fall back to the durable backend. An empty cached list is
// returned as an empty slice, not a miss. Undecodable values are logged as
// corruption and reported as ErrMalformedData (which also satisfies
// ErrNotFound, see errors.go).
func (c *MessageCache) Read(ctx context.Context, owner, topic string) ([]domain.ChatMessage, error) {
	key := keys.ChatMessages(owner, topic)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt message list in cache")
		return nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// Overwrite replaces the cached conversation wholesale with messages fetched
// from the durable backend, tagging every entry synced. No merge with any
// existing cached list is attempted; last writer wins.
func (c *MessageCache) Overwrite(ctx context.Context, owner, topic string, msgs []domain.ChatMessage) error {
	tr := otel.Tracer("cache/MessageCache")
	ctx, span := tr.Start(ctx, "Overwrite",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("topic", topic),
			attribute.Int("count", len(msgs)),
		),
	)
	defer span.End()

	tagged := make([]domain.ChatMessage, len(msgs))
	for i, m := range msgs {
		m.SyncState = domain.SyncSynced
		tagged[i] = m
	}
	payload, err := json.Marshal(tagged)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return c.Store.SetEx(ctx, keys.ChatMessages(owner, topic), string(payload), c.TTL)
}

// Topics returns the owner's topic-summary list, or ErrNotFound when none
// is cached.
func (c *MessageCache) Topics(ctx context.Context, owner string) ([]domain.TopicSummary, error) {
	return c.loadSummariesStrict(ctx, owner)
}

// RemoveTopic deletes the (owner, topic) message list and drops its entry
// from the summary list. Removing an unknown topic is a no-op.
func (c *MessageCache) RemoveTopic(ctx context.Context, owner, topic string) error {
	messageKey := keys.ChatMessages(owner, topic)
	unlock := c.locks.acquire(messageKey)
	defer unlock()

	if err := c.Store.Delete(ctx, messageKey); err != nil {
		return err
	}

	summaries, err := c.loadSummaries(ctx, owner)
	if err != nil {
		return err
	}
	kept := summaries[:0]
	for _, s := range summaries {
		if !strings.EqualFold(s.Topic, strings.TrimSpace(topic)) {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(summaries) {
		return nil
	}
	payload, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode summaries for %s: %w", owner, err)
	}
	return c.Store.SetEx(ctx, keys.UndeployedChats(owner), string(payload), c.TTL)
}

// loadMessages reads a message list for a mutation. A miss yields an empty
// list; corruption fails the mutation (the existing data would otherwise be
// clobbered blind).
func (c *MessageCache) loadMessages(ctx context.Context, key string) ([]domain.ChatMessage, error) {
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt message list in cache")
		return nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}
	return msgs, nil
}

// loadSummaries reads the summary list for a mutation (miss yields empty).
func (c *MessageCache) loadSummaries(ctx context.Context, owner string) ([]domain.TopicSummary, error) {
	summaries, err := c.loadSummariesStrict(ctx, owner)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return summaries, err
}

func (c *MessageCache) loadSummariesStrict(ctx context.Context, owner string) ([]domain.TopicSummary, error) {
	key := keys.UndeployedChats(owner)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var summaries []domain.TopicSummary
	if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt summary list in cache")
		return nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}
	return summaries, nil
}

// upsertSummary bumps or inserts the entry for topic, then deduplicates by
// case-insensitive topic name. Dedup keeps the first occurrence found while
// filtering, not necessarily the most recently updated one — a quirk the
// deployed system exhibits, preserved here.
func upsertSummary(summaries []domain.TopicSummary, topic string, count int) []domain.TopicSummary {
	found := false
	for i := range summaries {
		if strings.EqualFold(summaries[i].Topic, topic) {
			summaries[i].MessageCount = count
			found = true
			break
		}
	}
	if !found {
		summaries = append(summaries, domain.TopicSummary{Topic: topic, MessageCount: count})
	}

	seen := make(map[string]struct{}, len(summaries))
	out := summaries[:0]
	for _, s := range summaries {
		lower := strings.ToLower(s.Topic)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, s)
	}
	return out
}
