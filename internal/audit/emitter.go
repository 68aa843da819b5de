package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Config enables the audit trail.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Chain   string `yaml:"chain"` // defaults to "fast-flux"
}

// Emitter records committed intervals. Calls must come in commit order.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter returns a file emitter, or a no-op one when disabled.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return noopEmitter{}, nil
	}
	return NewFileEmitter(cfg.Dir, cfg.Chain)
}

// FileEmitter writes one JSON file per event and tracks the chain head.
type FileEmitter struct {
	dir     string
	chain   string
	tracker *ChainTracker
	log     *slog.Logger
}

// NewFileEmitter creates an emitter writing into dir.
func NewFileEmitter(dir, chain string) (*FileEmitter, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit dir is required")
	}
	if chain == "" {
		chain = "fast-flux"
	}
	tracker, err := NewChainTracker(dir)
	if err != nil {
		return nil, err
	}
	return &FileEmitter{
		dir:     dir,
		chain:   chain,
		tracker: tracker,
		log:     slog.With("component", "audit"),
	}, nil
}

// Path returns the file an event for the interval starting at start is
// written to.
func (e *FileEmitter) Path(start time.Time) string {
	return filepath.Join(e.dir, fmt.Sprintf("%s_%s.json", e.chain, start.UTC().Format("20060102_1504")))
}

// Head returns the current chain head, or "" for a new chain.
func (e *FileEmitter) Head() string {
	head, _ := e.tracker.GetHead(e.chain)
	return head
}

// Emit links evt to the chain head, writes it and advances the head.
func (e *FileEmitter) Emit(_ context.Context, evt *Event) error {
	evt.Version = eventVersion
	evt.EventType = eventType
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(e.Head())

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := e.Path(evt.Interval.Start)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write event: %w", err)
	}

	if err := e.tracker.SetHead(e.chain, evt.Chain.EventHash); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}
	e.log.Debug("emitted audit event",
		"interval", evt.Interval.Start,
		"event_hash", evt.Chain.EventHash,
		"prev_event_hash", evt.Chain.PrevEventHash,
	)
	return nil
}

// Close releases resources.
func (e *FileEmitter) Close() error { return nil }

// Verify reads the events at paths, in chain order, and checks every hash
// and link. It returns the index of the first broken event, or -1.
func Verify(paths []string) (int, error) {
	prev := ""
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return i, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return i, fmt.Errorf("decode %s: %w", p, err)
		}
		if evt.Chain.PrevEventHash != prev || ComputeEventHash(&evt) != evt.Chain.EventHash {
			return i, nil
		}
		prev = evt.Chain.EventHash
	}
	return -1, nil
}

type noopEmitter struct{}

func (noopEmitter) Emit(_ context.Context, _ *Event) error { return nil }
func (noopEmitter) Close() error                            { return nil }
