// Package audit writes a tamper-evident trail of committed intervals. Each
// event carries the hash of the previous one, so a trail can be verified
// end to end.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	eventVersion = "1.0"
	eventType    = "interval_committed"
)

// Event records one committed interval.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Interval IntervalInfo         `json:"interval"`
	Tables   map[string]TableInfo `json:"tables"`
	Sites    map[string]SiteInfo  `json:"sites"`
	Producer ProducerInfo         `json:"producer"`
	Chain    ChainInfo            `json:"chain"`
}

// IntervalInfo identifies the interval being audited.
type IntervalInfo struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	NRecords int       `json:"n_records"`
	RunID    string    `json:"run_id"`
}

// TableInfo contains checksum and metadata for a single table.
type TableInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
}

// SiteInfo summarizes what a site contributed.
type SiteInfo struct {
	Files       int  `json:"files"`
	Placeholder bool `json:"placeholder"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links the event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// SetChainHashes links the event to prev and computes its own hash.
func (e *Event) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash computes the SHA256 hash of an event over its canonical
// JSON, excluding the event_hash field itself. encoding/json sorts map keys,
// so table and site order does not matter.
func ComputeEventHash(evt *Event) string {
	cp := *evt
	cp.Chain.EventHash = ""

	canonical, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}
