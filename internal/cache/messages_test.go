package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

func newMessageCache(t *testing.T) (*MessageCache, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewMessageCache(mem, 20*time.Minute, false), mem
}

func TestAppend_ThenRead_JugaadScenario(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	err := c.Append(ctx, "jugaad", "New Chat 1", domain.ChatMessage{User: "hello", Assistant: "hi there"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := c.Read(ctx, "jugaad", "New Chat 1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d; want 1", len(msgs))
	}
	want := domain.ChatMessage{User: "hello", Assistant: "hi there", SyncState: domain.SyncPending}
	if msgs[0] != want {
		t.Errorf("msgs[0] = %+v; want %+v", msgs[0], want)
	}

	topics, err := c.Topics(ctx, "jugaad")
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	if len(topics) != 1 || topics[0].Topic != "New Chat 1" || topics[0].MessageCount != 1 {
		t.Errorf("topics = %+v; want [{New Chat 1 1}]", topics)
	}
}

func TestAppend_SequentialOrderPreserved(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	for i := 0; i < 5; i++ {
		err := c.Append(ctx, "u", "t", domain.ChatMessage{
			User:      fmt.Sprintf("q%d", i),
			Assistant: fmt.Sprintf("a%d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := c.Read(ctx, "u", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len = %d; want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.User != fmt.Sprintf("q%d", i) {
			t.Errorf("msgs[%d].User = %q; want q%d", i, m.User, i)
		}
		if m.SyncState != domain.SyncPending {
			t.Errorf("msgs[%d] not pending", i)
		}
	}
}

func TestAppend_SummaryBumpAndCaseInsensitiveDedup(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	c.Append(ctx, "u", "My Chat", domain.ChatMessage{User: "1"})
	c.Append(ctx, "u", "my chat", domain.ChatMessage{User: "2"})
	c.Append(ctx, "u", "Other", domain.ChatMessage{User: "3"})

	topics, err := c.Topics(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 {
		t.Fatalf("topics = %+v; want two entries", topics)
	}
	// First occurrence wins the name; count reflects the shared list length.
	if topics[0].Topic != "My Chat" || topics[0].MessageCount != 2 {
		t.Errorf("topics[0] = %+v; want {My Chat 2}", topics[0])
	}
	if topics[1].Topic != "Other" || topics[1].MessageCount != 1 {
		t.Errorf("topics[1] = %+v; want {Other 1}", topics[1])
	}
}

func TestRead_MissVsEmpty(t *testing.T) {
	ctx := context.Background()
	c, mem := newMessageCache(t)

	if _, err := c.Read(ctx, "u", "t"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("miss = %v; want ErrNotFound", err)
	}

	// An empty list is present data, not a miss.
	mem.SetEx(ctx, keys.ChatMessages("u", "t"), "[]", time.Minute)
	msgs, err := c.Read(ctx, "u", "t")
	if err != nil {
		t.Fatalf("empty list read: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("empty list = %#v; want empty slice", msgs)
	}
}

func TestRead_MalformedIsCorruptionAndMiss(t *testing.T) {
	ctx := context.Background()
	c, mem := newMessageCache(t)

	mem.SetEx(ctx, keys.ChatMessages("u", "t"), "{not json", time.Minute)
	_, err := c.Read(ctx, "u", "t")
	if !errors.Is(err, ErrMalformedData) {
		t.Fatalf("read = %v; want ErrMalformedData", err)
	}
	// Corruption also satisfies the fallback check.
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed read should satisfy ErrNotFound, got %v", err)
	}
}

func TestAppend_StoreDownFailsTheTurn(t *testing.T) {
	ctx := context.Background()
	c, mem := newMessageCache(t)
	mem.FailAll = true

	err := c.Append(ctx, "u", "t", domain.ChatMessage{User: "q"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("append = %v; want ErrUnavailable", err)
	}
}

func TestOverwrite_RoundTripAllSynced(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	// Pre-existing pending data is replaced, not merged.
	c.Append(ctx, "u", "t", domain.ChatMessage{User: "stale"})

	fetched := []domain.ChatMessage{
		{User: "hello", Assistant: "hi there"},
		{User: "deploy", Assistant: "done"},
	}
	if err := c.Overwrite(ctx, "u", "t", fetched); err != nil {
		t.Fatal(err)
	}

	msgs, err := c.Read(ctx, "u", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d; want 2", len(msgs))
	}
	for i, m := range msgs {
		if m.SyncState != domain.SyncSynced {
			t.Errorf("msgs[%d] = %v; want synced", i, m.SyncState)
		}
		if m.User != fetched[i].User || m.Assistant != fetched[i].Assistant {
			t.Errorf("msgs[%d] content mismatch: %+v", i, m)
		}
	}
}

// TestAppend_LastWriterWinsRace replays the documented read-modify-write
// race: a writer that read the list before another writer's append lands
// replaces the whole list, silently dropping the other append.
func TestAppend_LastWriterWinsRace(t *testing.T) {
	ctx := context.Background()
	c, mem := newMessageCache(t)
	key := keys.ChatMessages("u", "t")

	// Writer A and writer B both observe the initial (absent) list.
	snapshot, _ := mem.Get(ctx, key) // "", miss

	// Writer A appends.
	c.Append(ctx, "u", "t", domain.ChatMessage{User: "from-a"})

	// Writer B appends against its stale snapshot: restore the store to
	// what B saw, then let B's append land.
	if snapshot == "" {
		mem.Delete(ctx, key)
	}
	c.Append(ctx, "u", "t", domain.ChatMessage{User: "from-b"})

	msgs, err := c.Read(ctx, "u", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].User != "from-b" {
		t.Fatalf("msgs = %+v; want only from-b (last writer wins)", msgs)
	}
}

// TestAppend_SerializedKeysKeepEveryWrite verifies the opt-in per-key mutex:
// concurrent appends within one process are serialized and none is lost.
func TestAppend_SerializedKeysKeepEveryWrite(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	c := NewMessageCache(mem, 20*time.Minute, true)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Append(ctx, "u", "t", domain.ChatMessage{User: fmt.Sprintf("q%d", i)}); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := c.Read(ctx, "u", "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != n {
		t.Fatalf("len = %d; want %d (no lost updates with serialization)", len(msgs), n)
	}
}

func TestRemoveTopic(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	c.Append(ctx, "u", "keep", domain.ChatMessage{User: "1"})
	c.Append(ctx, "u", "drop", domain.ChatMessage{User: "2"})

	if err := c.RemoveTopic(ctx, "u", "drop"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Read(ctx, "u", "drop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed topic read = %v; want ErrNotFound", err)
	}
	topics, err := c.Topics(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Topic != "keep" {
		t.Errorf("topics = %+v; want only keep", topics)
	}

	// Unknown topic: no-op, not an error.
	if err := c.RemoveTopic(ctx, "u", "never-existed"); err != nil {
		t.Errorf("remove unknown = %v; want nil", err)
	}
}

func TestRemoveTopic_PaddedTopicLeavesNoOrphanSummary(t *testing.T) {
	ctx := context.Background()
	c, _ := newMessageCache(t)

	if err := c.Append(ctx, "u", "  padded  ", domain.ChatMessage{User: "1"}); err != nil {
		t.Fatal(err)
	}

	topics, err := c.Topics(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Topic != "padded" {
		t.Fatalf("topics = %+v; want trimmed {padded}", topics)
	}

	// Removal under the canonical name must drop the summary entry too.
	if err := c.RemoveTopic(ctx, "u", "padded"); err != nil {
		t.Fatal(err)
	}
	topics, err = c.Topics(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 0 {
		t.Errorf("topics = %+v; want empty after removal", topics)
	}
}

func TestUpsertSummary_KeepsFirstOccurrenceOnDup(t *testing.T) {
	in := []domain.TopicSummary{
		{Topic: "Alpha", MessageCount: 1},
		{Topic: "alpha", MessageCount: 9},
		{Topic: "Beta", MessageCount: 2},
	}
	out := upsertSummary(in, "Beta", 3)
	if len(out) != 2 {
		t.Fatalf("out = %+v; want 2 entries", out)
	}
	if out[0].Topic != "Alpha" || out[0].MessageCount != 1 {
		t.Errorf("out[0] = %+v; want first occurrence {Alpha 1}", out[0])
	}
	if out[1].Topic != "Beta" || out[1].MessageCount != 3 {
		t.Errorf("out[1] = %+v; want {Beta 3}", out[1])
	}
}

func TestAppend_BothKeysWrittenInOneBatch(t *testing.T) {
	ctx := context.Background()
	c, mem := newMessageCache(t)

	if err := c.Append(ctx, "u", "t", domain.ChatMessage{User: "q"}); err != nil {
		t.Fatal(err)
	}

	rawMsgs, err := mem.Get(ctx, keys.ChatMessages("u", "t"))
	if err != nil {
		t.Fatalf("message key not written: %v", err)
	}
	rawSumm, err := mem.Get(ctx, keys.UndeployedChats("u"))
	if err != nil {
		t.Fatalf("summary key not written: %v", err)
	}

	var msgs []domain.ChatMessage
	if err := json.Unmarshal([]byte(rawMsgs), &msgs); err != nil {
		t.Fatal(err)
	}
	var summ []domain.TopicSummary
	if err := json.Unmarshal([]byte(rawSumm), &summ); err != nil {
		t.Fatal(err)
	}
	if summ[0].MessageCount != len(msgs) {
		t.Errorf("summary count %d != list length %d", summ[0].MessageCount, len(msgs))
	}
}
