package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// SnapshotStore persists the last known session so a restarted process can
// reconnect silently. It is a hint, never the source of truth.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, bool, error)
	Delete(ctx context.Context, id string) error
}

// CallKind distinguishes reads from writes in the call journal.
type CallKind string

const (
	CallRead  CallKind = "read"
	CallWrite CallKind = "write"
)

// Call outcomes recorded in the journal.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// CallRecord is the journal entry written once an invocation completes.
type CallRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       CallKind        `json:"kind"`
	Operation  string          `json:"operation"`
	Args       json.RawMessage `json:"args,omitempty"`
	Account    string          `json:"account,omitempty"`
	Outcome    string          `json:"outcome"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	TxHash     string          `json:"tx_hash,omitempty"`
	IssuedAt   time.Time       `json:"issued_at"`
	DurationMS int64           `json:"duration_ms"`
}

// Journal records completed calls.
type Journal interface {
	Record(ctx context.Context, record CallRecord) error
}

// PendingCall describes an invocation that has not completed yet. It lives
// only in memory.
type PendingCall struct {
	ID        string    `json:"id"`
	Kind      CallKind  `json:"kind"`
	Operation string    `json:"operation"`
	Args      []any     `json:"args,omitempty"`
	Account   string    `json:"account,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{items: make(map[string]Snapshot)}
}

// Save implements SnapshotStore.
func (m *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.ID] = snap
	return nil
}

// Load implements SnapshotStore.
func (m *MemorySnapshotStore) Load(_ context.Context, id string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.items[id]
	return snap, ok, nil
}

// Delete implements SnapshotStore.
func (m *MemorySnapshotStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}
