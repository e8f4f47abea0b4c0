// Provisioning staging cache: the per-(owner, topic) accumulator that
// collects deployment parameters across the two confirmation phases of a
// conversation, plus the processed-flag guards that stop a duplicate
// classifier invocation from re-firing side effects.
//
// State machine: Empty -> TechStackSet -> ServerStackSet. Reaching
// ServerStackSet is what fires provisioning; there is no separate trigger
// call. The transition returns the effects to run instead of running them,
// so the state write and the side effects are testable in isolation (the
// provision package executes them).
//
// There is no delete-on-success path: once provisioning is triggered the
// staging record simply ages out via TTL, exactly like the deployed system.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// StagingEffect is an external action requested by a staging transition.
type StagingEffect interface {
	isStagingEffect()
}

// CloneRepository asks for the user's repository to be cloned (or pulled)
// under its original name. It runs before provisioning; failure aborts the
// rest of the effects.
type CloneRepository struct {
	Owner    string
	RepoName string
}

func (CloneRepository) isStagingEffect() {}

// TriggerProvisioning asks for the container to be built and started with
// the fully merged staging record.
type TriggerProvisioning struct {
	Owner            string
	Topic            string
	UniqueName       string
	OriginalRepoName string
	Record           domain.StagingRecord
}

func (TriggerProvisioning) isStagingEffect() {}

// StagingCache manages staging records and their processed-flag guards.
type StagingCache struct {
	Store    store.Store
	Registry *NameRegistry
	TTL      time.Duration
	// FlagTTL is the lifetime of the processed-flag guards (longer than the
	// record TTL so a guard outlives the record it protects).
	FlagTTL time.Duration
}

// NewStagingCache builds a StagingCache. ttl covers the staging record,
// flagTTL the processed guards.
func NewStagingCache(st store.Store, reg *NameRegistry, ttl, flagTTL time.Duration) *StagingCache {
	return &StagingCache{Store: st, Registry: reg, TTL: ttl, FlagTTL: flagTTL}
}

// SetTechStack performs the Empty -> TechStackSet transition: the requested
// name is resolved through the registry into a unique one, and the phase-1
// record is written with a fresh TTL. Re-entering this state overwrites the
// staged record (last write wins); callers that must not re-run the
// transition consult TechStackProcessed first.
func (c *StagingCache) SetTechStack(ctx context.Context, owner, topic, requestedName string, ts domain.TechStack) (domain.StagingRecord, error) {
	tr := otel.Tracer("cache/StagingCache")
	ctx, span := tr.Start(ctx, "SetTechStack",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("topic", topic),
		),
	)
	defer span.End()

	unique, err := c.Registry.AllocateUnique(ctx, owner, requestedName)
	if err != nil {
		return domain.StagingRecord{}, err
	}
	log.Debug().
		Str("owner", owner).
		Str("requested", requestedName).
		Str("unique", unique).
		Msg("container name allocated")

	rec := domain.StagingRecord{
		Name:     unique,
		Frontend: ts.Frontend,
		Backend:  ts.Backend,
		DB:       ts.DB,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.StagingRecord{}, fmt.Errorf("encode staging record: %w", err)
	}
	if err := c.Store.SetEx(ctx, keys.NewContainerInfo(owner, topic), string(payload), c.TTL); err != nil {
		return domain.StagingRecord{}, err
	}
	return rec, nil
}

// SetServerStack performs the TechStackSet -> ServerStackSet transition:
// the phase-2 resource values are merged into the staged record and the
// effects that fire provisioning are returned for the caller to execute.
//
// When no staging record exists (SetTechStack never ran, or the record
// expired) the call is a silent no-op: nil record, no effects, no error.
// A quirk of the deployed system, preserved deliberately.
func (c *StagingCache) SetServerStack(ctx context.Context, owner, topic string, ss domain.ServerStack) (*domain.StagingRecord, []StagingEffect, error) {
	tr := otel.Tracer("cache/StagingCache")
	ctx, span := tr.Start(ctx, "SetServerStack",
		trace.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("topic", topic),
		),
	)
	defer span.End()

	key := keys.NewContainerInfo(owner, topic)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			log.Debug().Str("owner", owner).Str("topic", topic).Msg("server stack before tech stack, ignoring")
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var rec domain.StagingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt staging record in cache")
		return nil, nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}

	if err := rec.MergeServerStack(ss); err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("encode staging record: %w", err)
	}
	if err := c.Store.SetEx(ctx, key, string(payload), c.TTL); err != nil {
		return nil, nil, err
	}

	// Git repositories live under the original name, without the
	// uniqueness suffix.
	original := ResolveOriginal(rec.Name)
	effects := []StagingEffect{
		CloneRepository{Owner: owner, RepoName: original},
		TriggerProvisioning{
			Owner:            owner,
			Topic:            topic,
			UniqueName:       rec.Name,
			OriginalRepoName: original,
			Record:           rec,
		},
	}
	return &rec, effects, nil
}

// Get returns the current staging record, or ErrNotFound.
func (c *StagingCache) Get(ctx context.Context, owner, topic string) (*domain.StagingRecord, error) {
	key := keys.NewContainerInfo(owner, topic)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec domain.StagingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Error().Err(err).Str("key", key).Msg("corrupt staging record in cache")
		return nil, fmt.Errorf("%w: key %s", ErrMalformedData, key)
	}
	return &rec, nil
}

// TechStackProcessed reports whether the tech-stack transition already fired
// for this conversation.
func (c *StagingCache) TechStackProcessed(ctx context.Context, owner, topic string) (bool, error) {
	return c.flag(ctx, keys.TechStackProcessed(owner, topic))
}

// MarkTechStackProcessed arms the tech-stack guard.
func (c *StagingCache) MarkTechStackProcessed(ctx context.Context, owner, topic string) error {
	return c.Store.SetEx(ctx, keys.TechStackProcessed(owner, topic), "true", c.FlagTTL)
}

// ServerStackProcessed reports whether the server-stack transition already
// fired for this conversation.
func (c *StagingCache) ServerStackProcessed(ctx context.Context, owner, topic string) (bool, error) {
	return c.flag(ctx, keys.ServerStackProcessed(owner, topic))
}

// MarkServerStackProcessed arms the server-stack guard.
func (c *StagingCache) MarkServerStackProcessed(ctx context.Context, owner, topic string) error {
	return c.Store.SetEx(ctx, keys.ServerStackProcessed(owner, topic), "true", c.FlagTTL)
}

func (c *StagingCache) flag(ctx context.Context, key string) (bool, error) {
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return raw == "true", nil
}
