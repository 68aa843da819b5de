package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint represents a run's progress state.
type Checkpoint struct {
	Name               string        `json:"name"`
	RunID              string        `json:"run_id"`
	LastInterval       time.Time     `json:"last_committed_interval"`
	IntervalLength     time.Duration `json:"interval_length"`
	IntervalsCommitted int64         `json:"intervals_committed"`
	LastChecksum       string        `json:"last_checksum,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Next returns the start of the first interval not yet committed.
func (cp *Checkpoint) Next() time.Time {
	return cp.LastInterval.Add(cp.IntervalLength)
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // Directory for checkpoint files
	Name    string `yaml:"name"`
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	name := cfg.Name
	if name == "" {
		name = "fast-flux"
	}

	// Ensure checkpoint directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{path: filepath.Join(cfg.Dir, "checkpoint_"+name+".json")}, nil
}

// fileManager persists the checkpoint of one named run to a local file.
type fileManager struct {
	path string
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
