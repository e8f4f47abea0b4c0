// Container info cache: the per-owner list of provisioned containers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// ContainerCache manages cached container records, one list per owner.
// Like the message cache it is read-modify-write without cross-request
// locking; the container list is written by the provisioning pipeline and
// dashboard actions, which in practice do not contend.
type ContainerCache struct {
	Store store.Store
	TTL   time.Duration
}

// NewContainerCache builds a ContainerCache with the given entry lifetime.
func NewContainerCache(st store.Store, ttl time.Duration) *ContainerCache {
	return &ContainerCache{Store: st, TTL: ttl}
}

// ListForUser returns the owner's cached container records, or ErrNotFound
// when nothing is cached (caller falls back to the durable fetch).
func (c *ContainerCache) ListForUser(ctx context.Context, owner string) ([]domain.ContainerRecord, error) {
	return c.load(ctx, owner)
}

// StoreFetched caches a container list hydrated from the durable backend,
// replacing any cached list wholesale with a fresh TTL.
func (c *ContainerCache) StoreFetched(ctx context.Context, owner string, records []domain.ContainerRecord) error {
	if records == nil {
		records = []domain.ContainerRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode container list for %s: %w", owner, err)
	}
	return c.Store.SetEx(ctx, keys.ContainerInfo(owner), string(payload), c.TTL)
}

// Upsert appends record to the owner's list. No dedup by name is performed:
// duplicate names can coexist if the caller did not reserve the name through
// the registry first.
func (c *ContainerCache) Upsert(ctx context.Context, owner string, record domain.ContainerRecord) error {
	records, err := c.load(ctx, owner)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	records = append(records, record)
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode container list for %s: %w", owner, err)
	}
	return c.Store.SetEx(ctx, keys.ContainerInfo(owner), string(payload), c.TTL)
}

// RemoveByName filters out record(s) whose name matches exactly. When
// nothing matches, or nothing is cached, it is a no-op (not an error) and
// the cached value is left untouched.
func (c *ContainerCache) RemoveByName(ctx context.Context, owner, name string) error {
	records, err := c.load(ctx, owner)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	kept := make([]domain.ContainerRecord, 0, len(records))
	for _, r := range records {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	payload, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode container list for %s: %w", owner, err)
	}
	return c.Store.SetEx(ctx, keys.ContainerInfo(owner), string(payload), c.TTL)
}

// FindByName returns the first record with the given name, or ErrNotFound
// if the owner has no cached list or no record matches.
func (c *ContainerCache) FindByName(ctx context.Context, owner, name string) (*domain.ContainerRecord, error) {
	records, err := c.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Name == name {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

// CardSummaries projects the owner's records down to the listing shape,
// substituting "N/A" for missing specs. ErrNotFound when nothing is cached.
func (c *ContainerCache) CardSummaries(ctx context.Context, owner string) ([]domain.CardSummary, error) {
	records, err := c.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CardSummary, len(records))
	for i, r := range records {
		out[i] = r.Card()
	}
	return out, nil
}

func (c *ContainerCache) load(ctx context.Context, owner string) ([]domain.ContainerRecord, error) {
	key := keys.ContainerInfo(owner)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var records []domain.ContainerRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt container list in cache")
		return nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}
	return records, nil
}
