// Package syncer holds the background reconciler: a recurring task that
// scans the cache for pending chat messages and flushes them to the durable
// backend, marking them synced on success.
//
// Failure posture: nothing here is fatal. A failed credential fetch skips
// the owner, a failed submission skips the topic, and both retry on the
// next cycle. There is no backoff and no dead-letter path: a permanently
// failing topic is retried every cycle until its cache entry expires.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
	"github.com/quantumsenses/go-deploy-cache/internal/cache"
	"github.com/quantumsenses/go-deploy-cache/internal/domain"
	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// topicBatch is one topic's pending messages, tagged with the owner parsed
// from the cache key.
type topicBatch struct {
	owner   string
	topic   string
	pending []domain.ChatMessage
}

// Reconciler flushes pending messages to the durable backend on a fixed
// interval.
type Reconciler struct {
	Store    store.Store
	Messages *cache.MessageCache
	Creds    backend.CredentialProvider
	Backend  backend.DurableBackend

	Interval  time.Duration
	ScanCount int64

	// Limiter, when non-nil, throttles outbound durable-backend calls.
	Limiter *rate.Limiter
}

// NewReconciler builds a Reconciler with the given flush interval and scan
// page size.
func NewReconciler(st store.Store, msgs *cache.MessageCache, creds backend.CredentialProvider, db backend.DurableBackend, interval time.Duration, scanCount int64) *Reconciler {
	return &Reconciler{
		Store:     st,
		Messages:  msgs,
		Creds:     creds,
		Backend:   db,
		Interval:  interval,
		ScanCount: scanCount,
	}
}

// Run starts the recurring loop: one cycle immediately, then one per tick
// until ctx is cancelled. Each cycle runs in its own goroutine with no
// mutual exclusion, so a slow cycle can overlap the next one; this matches
// the deployed behavior and is tolerable because submissions are grouped
// per topic and marking synced is idempotent.
func (r *Reconciler) Run(ctx context.Context) {
	log.Info().
		Dur("interval", r.Interval).
		Msg("reconciler started")

	go r.Cycle(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			go r.Cycle(ctx)
		}
	}
}

// Cycle performs one full reconciliation pass. It never returns an error:
// every failure is logged and retried on a later cycle.
func (r *Reconciler) Cycle(ctx context.Context) {
	tr := otel.Tracer("syncer/Reconciler")
	ctx, span := tr.Start(ctx, "Cycle")
	defer span.End()

	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	byTopic, err := r.scanPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sync scan failed")
		cycleRuns.WithLabelValues("scan_failed").Inc()
		return
	}

	total := 0
	for _, b := range byTopic {
		total += len(b.pending)
	}
	pendingMessages.Set(float64(total))
	span.SetAttributes(attribute.Int("pending", total))

	if len(byTopic) == 0 {
		cycleRuns.WithLabelValues("ok").Inc()
		return
	}

	byOwner := make(map[string][]topicBatch)
	for _, b := range byTopic {
		byOwner[b.owner] = append(byOwner[b.owner], b)
	}
	log.Debug().
		Int("topics", len(byTopic)).
		Int("owners", len(byOwner)).
		Int("pending", total).
		Msg("sync cycle found pending messages")

	for owner, batches := range byOwner {
		r.flushOwner(ctx, owner, batches)
	}
	cycleRuns.WithLabelValues("ok").Inc()
}

// scanPending walks the chat-message keyspace page by page and collects the
// pending entries of every conversation, grouped by topic.
func (r *Reconciler) scanPending(ctx context.Context) (map[string]topicBatch, error) {
	out := make(map[string]topicBatch)
	var cursor uint64
	for {
		page, next, err := r.Store.Scan(ctx, cursor, keys.ChatMessagesPattern(), r.ScanCount)
		if err != nil {
			return nil, err
		}
		for _, key := range page {
			owner, topic, err := keys.ParseChatMessages(key)
			if err != nil {
				log.Error().Str("key", key).Msg("sync skipping malformed key")
				continue
			}

			raw, err := r.Store.Get(ctx, key)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					log.Error().Err(err).Str("key", key).Msg("sync read failed")
				}
				continue
			}

			var msgs []domain.ChatMessage
			if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
				log.Error().Err(err).Str("key", key).Msg("sync skipping corrupt value")
				continue
			}

			var pending []domain.ChatMessage
			for _, m := range msgs {
				if m.SyncState == domain.SyncPending {
					pending = append(pending, m)
				}
			}
			if len(pending) > 0 {
				out[topic] = topicBatch{owner: owner, topic: topic, pending: pending}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// flushOwner obtains one fresh credential for the owner and submits each
// topic's pending messages as one batch. Topic failures are independent.
func (r *Reconciler) flushOwner(ctx context.Context, owner string, batches []topicBatch) {
	cred, err := r.Creds.Obtain(ctx)
	if err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("sync credential fetch failed, skipping owner")
		for range batches {
			topicFlushes.WithLabelValues("auth_failed").Inc()
		}
		return
	}

	for i, b := range batches {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				// Wait only fails on context cancellation or an
				// unsatisfiable burst; nothing later in the list can
				// proceed either.
				log.Error().Err(err).
					Str("owner", owner).
					Int("abandoned", len(batches)-i).
					Msg("sync rate limiter interrupted, abandoning owner")
				for range batches[i:] {
					topicFlushes.WithLabelValues("limited").Inc()
				}
				return
			}
		}

		turns := domain.ExpandTurns(b.pending)
		if err := r.Backend.PersistBatch(ctx, owner, b.topic, turns, cred); err != nil {
			log.Error().Err(err).
				Str("owner", owner).
				Str("topic", b.topic).
				Int("pending", len(b.pending)).
				Msg("sync submission failed, will retry next cycle")
			topicFlushes.WithLabelValues("failed").Inc()
			continue
		}

		r.markSynced(ctx, owner, b.topic)
		topicFlushes.WithLabelValues("ok").Inc()
		log.Info().
			Str("owner", owner).
			Str("topic", b.topic).
			Int("flushed", len(b.pending)).
			Msg("topic synced")
	}
}

// markSynced re-fetches the topic's current list and rewrites it with every
// entry tagged synced and a fresh TTL. Messages appended between the scan
// and this rewrite get marked synced without having been submitted; that
// window exists in the deployed system too and is accepted.
func (r *Reconciler) markSynced(ctx context.Context, owner, topic string) {
	msgs, err := r.Messages.Read(ctx, owner, topic)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			log.Error().Err(err).Str("owner", owner).Str("topic", topic).Msg("sync mark re-fetch failed")
		}
		return
	}
	if err := r.Messages.Overwrite(ctx, owner, topic, msgs); err != nil {
		log.Error().Err(err).Str("owner", owner).Str("topic", topic).Msg("sync mark rewrite failed")
	}
}
