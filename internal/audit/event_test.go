package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEvent(start time.Time) *Event {
	return &Event{
		Version:   eventVersion,
		EventType: eventType,
		EventID:   "evt-1",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval: IntervalInfo{
			Start:    start,
			End:      start.Add(30 * time.Minute),
			NRecords: 18000,
			RunID:    "run-1",
		},
		Tables: map[string]TableInfo{
			"fast": {
				Checksum:    "sha256:abc123",
				RowCount:    18000,
				ByteSize:    1234,
				StoragePath: "fast/2019/05/18/FAST_20190518_2330.parquet",
			},
		},
		Sites: map[string]SiteInfo{
			"NF17": {Files: 2},
			"SF4":  {Placeholder: true},
		},
		Producer: ProducerInfo{Name: "fast-flux", Version: "v0.1.0", GitSHA: "abcdef"},
	}
}

var t0 = time.Date(2019, 5, 18, 23, 30, 0, 0, time.UTC)

func TestComputeEventHash(t *testing.T) {
	event := testEvent(t0)
	event.SetChainHashes("")

	if event.Chain.EventHash == "" {
		t.Error("EventHash should be computed")
	}
	if len(event.Chain.EventHash) < 7 || event.Chain.EventHash[:7] != "sha256:" {
		t.Errorf("EventHash should start with 'sha256:', got: %s", event.Chain.EventHash)
	}
	if event.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", event.Chain.PrevEventHash)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	event1 := testEvent(t0)
	event1.SetChainHashes("prev_hash_123")

	event2 := testEvent(t0)
	event2.SetChainHashes("prev_hash_123")

	if event1.Chain.EventHash != event2.Chain.EventHash {
		t.Errorf("identical events hash differently: %s vs %s", event1.Chain.EventHash, event2.Chain.EventHash)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	base := testEvent(t0)
	base.SetChainHashes("prev")

	otherPrev := testEvent(t0)
	otherPrev.SetChainHashes("other")
	if base.Chain.EventHash == otherPrev.Chain.EventHash {
		t.Error("hash should depend on the previous hash")
	}

	otherChecksum := testEvent(t0)
	otherChecksum.Tables["fast"] = TableInfo{Checksum: "sha256:def456", RowCount: 18000}
	otherChecksum.SetChainHashes("prev")
	if base.Chain.EventHash == otherChecksum.Chain.EventHash {
		t.Error("hash should depend on the table checksum")
	}
}

func TestComputeEventHashIgnoresOwnHash(t *testing.T) {
	event := testEvent(t0)
	event.SetChainHashes("prev")
	want := event.Chain.EventHash

	if got := ComputeEventHash(event); got != want {
		t.Errorf("recomputed hash = %s, want %s", got, want)
	}
}

func TestChainTrackerPersists(t *testing.T) {
	dir := t.TempDir()

	ct, err := NewChainTracker(dir)
	if err != nil {
		t.Fatalf("NewChainTracker: %v", err)
	}
	if _, err := ct.GetHead("fast-flux"); !errors.Is(err, ErrNoChainHead) {
		t.Fatalf("GetHead on empty tracker: %v", err)
	}
	if err := ct.SetHead("fast-flux", "sha256:aaa"); err != nil {
		t.Fatalf("SetHead: %v", err)
	}

	reopened, err := NewChainTracker(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	head, err := reopened.GetHead("fast-flux")
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head != "sha256:aaa" {
		t.Errorf("head = %s, want sha256:aaa", head)
	}
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir, "")
	if err != nil {
		t.Fatalf("NewFileEmitter: %v", err)
	}

	ctx := context.Background()
	var paths []string
	var hashes []string
	for i := 0; i < 3; i++ {
		start := t0.Add(time.Duration(i) * 30 * time.Minute)
		evt := testEvent(start)
		evt.EventID = ""
		if err := e.Emit(ctx, evt); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
		if evt.EventID == "" {
			t.Error("Emit should assign an event ID")
		}
		paths = append(paths, e.Path(start))
		hashes = append(hashes, evt.Chain.EventHash)
	}

	if filepath.Base(paths[0]) != "fast-flux_20190518_2330.json" {
		t.Errorf("path = %s", paths[0])
	}
	if e.Head() != hashes[2] {
		t.Errorf("head = %s, want %s", e.Head(), hashes[2])
	}

	data, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Chain.PrevEventHash != hashes[0] {
		t.Errorf("prev = %s, want %s", evt.Chain.PrevEventHash, hashes[0])
	}
	if evt.EventType != eventType {
		t.Errorf("event type = %s", evt.EventType)
	}

	broken, err := Verify(paths)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if broken != -1 {
		t.Errorf("Verify reported break at %d", broken)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir, "test")
	if err != nil {
		t.Fatalf("NewFileEmitter: %v", err)
	}

	ctx := context.Background()
	var paths []string
	for i := 0; i < 3; i++ {
		start := t0.Add(time.Duration(i) * 30 * time.Minute)
		if err := e.Emit(ctx, testEvent(start)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		paths = append(paths, e.Path(start))
	}

	data, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	evt.Tables["fast"] = TableInfo{Checksum: "sha256:forged"}
	data, _ = json.Marshal(evt)
	if err := os.WriteFile(paths[1], data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	broken, err := Verify(paths)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if broken != 1 {
		t.Errorf("Verify broken = %d, want 1", broken)
	}
}

func TestNewEmitterDisabled(t *testing.T) {
	e, err := NewEmitter(Config{})
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	if err := e.Emit(context.Background(), testEvent(t0)); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
	if _, ok := e.(noopEmitter); !ok {
		t.Errorf("disabled config should give a no-op emitter, got %T", e)
	}
}

func TestNewEmitterRequiresDir(t *testing.T) {
	if _, err := NewEmitter(Config{Enabled: true}); err == nil {
		t.Error("expected an error without a dir")
	}
}
