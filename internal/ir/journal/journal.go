// Package journal implements the agent's append-only event log: a
// bounded-retention, in-memory ring of timestamped entries grouped into
// collections, generalized from the teacher's WAL in-memory manager
// (sync.RWMutex-guarded slice + monotone id counter) from slot-based
// retention to collection/window-based retention.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liquity/ir-manager/internal/ir/constants"
)

// Kind tags the category of a journal entry.
type Kind string

const (
	KindInfo                     Kind = "info"
	KindRateAdjustment           Kind = "rate_adjustment"
	KindRecharge                 Kind = "recharge"
	KindProviderReputationChange Kind = "provider_reputation_change"
	KindExecutionResult          Kind = "execution_result"
)

// Outcome is Ok or Err{kind}; Entry.ErrorKind carries the error kind string when
// Outcome is "err".
type Outcome string

const (
	OutcomeOk  Outcome = "ok"
	OutcomeErr Outcome = "err"
)

// Entry is one timestamped journal record.
type Entry struct {
	ID           uint64
	CollectionID uuid.UUID
	Timestamp    time.Time
	StrategyKey  *uint32
	Kind         Kind
	Note         string
	Outcome      Outcome
	ErrorKind    string
}

// Manager is the journal's public surface: write entries, open collections
// that share a window, and read back with pagination.
type Manager interface {
	// OpenCollection starts a new entry group, returning its id; strategyKey
	// is nil for fleet-wide collections (recharge, cleanup).
	OpenCollection(strategyKey *uint32) uuid.UUID
	WriteEntry(ctx context.Context, collectionID uuid.UUID, strategyKey *uint32, kind Kind, note string, outcome Outcome, errorKind string) error
	GetLogs(ctx context.Context, depth uint64) ([]Entry, error)
	GetRechargeLogs(ctx context.Context, depth uint64) ([]Entry, error)
	GetStrategyLogs(ctx context.Context, depth uint64, key uint32) ([]Entry, error)
	// Cleanup strips ProviderReputationChange entries from long-term
	// retention and truncates the ring to its hard cap.
	Cleanup(ctx context.Context) error
	// Snapshot and Restore support checkpointing the ring to the stable
	// store on a periodic checkpoint and on graceful shutdown.
	Snapshot() []Entry
	Restore(entries []Entry)
}

// memoryManager is the in-memory Manager implementation.
type memoryManager struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  uint64
}

// NewMemoryManager builds an empty in-memory journal.
func NewMemoryManager() Manager {
	return &memoryManager{}
}

func (m *memoryManager) OpenCollection(_ *uint32) uuid.UUID {
	return uuid.New()
}

func (m *memoryManager) WriteEntry(_ context.Context, collectionID uuid.UUID, strategyKey *uint32, kind Kind, note string, outcome Outcome, errorKind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.entries = append(m.entries, Entry{
		ID:           m.nextID,
		CollectionID: collectionID,
		Timestamp:    time.Now(),
		StrategyKey:  strategyKey,
		Kind:         kind,
		Note:         note,
		Outcome:      outcome,
		ErrorKind:    errorKind,
	})

	if len(m.entries) > constants.JournalRetentionWindow {
		m.entries = m.entries[len(m.entries)-constants.JournalRetentionWindow:]
	}
	return nil
}

// tail returns up to depth of the most recent entries matching keep, most
// recent first.
func (m *memoryManager) tail(depth uint64, keep func(Entry) bool) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, depth)
	for i := len(m.entries) - 1; i >= 0 && uint64(len(out)) < depth; i-- {
		if keep(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out
}

func (m *memoryManager) GetLogs(_ context.Context, depth uint64) ([]Entry, error) {
	return m.tail(depth, func(Entry) bool { return true }), nil
}

func (m *memoryManager) GetRechargeLogs(_ context.Context, depth uint64) ([]Entry, error) {
	return m.tail(depth, func(e Entry) bool { return e.Kind == KindRecharge }), nil
}

func (m *memoryManager) GetStrategyLogs(_ context.Context, depth uint64, key uint32) ([]Entry, error) {
	return m.tail(depth, func(e Entry) bool { return e.StrategyKey != nil && *e.StrategyKey == key }), nil
}

func (m *memoryManager) Cleanup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Kind != KindProviderReputationChange {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) > constants.JournalHardCap {
		filtered = filtered[len(filtered)-constants.JournalHardCap:]
	}
	m.entries = filtered
	return nil
}

// Snapshot returns every retained entry for persistence to the stable
// store's checkpoint file.
func (m *memoryManager) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Restore replaces the journal's contents, used when loading a checkpoint
// at startup.
func (m *memoryManager) Restore(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	for _, e := range entries {
		if e.ID > m.nextID {
			m.nextID = e.ID
		}
	}
}
