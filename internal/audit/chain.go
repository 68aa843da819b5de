package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoChainHead indicates no previous event exists for this chain.
var ErrNoChainHead = errors.New("no chain head found")

const headsFile = "chain-heads.json"

// ChainTracker keeps the last event hash of every chain, persisted next to
// the events.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string // chain -> event hash
	filePath string
}

// NewChainTracker loads the chain heads stored in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	ct := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, headsFile),
	}
	if err := ct.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return ct, nil
}

// GetHead returns the last event hash of chain.
func (ct *ChainTracker) GetHead(chain string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chain]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead records eventHash as the head of chain and persists it.
func (ct *ChainTracker) SetHead(chain, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chain] = eventHash
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := ct.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, ct.filePath)
}
