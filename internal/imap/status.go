package imap

import (
	"sort"
	"sync"
	"time"
)

// SyncState is the position of one account in the sync cycle.
// Failed is not terminal: the next poll starts again from Idle.
type SyncState string

const (
	StateIdle       SyncState = "idle"
	StateConnecting SyncState = "connecting"
	StateFetching   SyncState = "fetching"
	StateProcessing SyncState = "processing"
	StateCommitting SyncState = "committing"
	StateFailed     SyncState = "failed"
)

// SyncStatus is a snapshot of an account's last or current sync.
type SyncStatus struct {
	AccountID  int64     `json:"account_id"`
	State      SyncState `json:"state"`
	LastError  string    `json:"last_error,omitempty"`
	LastSaved  int       `json:"last_saved"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type statusTracker struct {
	mu       sync.Mutex
	statuses map[int64]*SyncStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{statuses: make(map[int64]*SyncStatus)}
}

func (t *statusTracker) entry(accountID int64) *SyncStatus {
	status, ok := t.statuses[accountID]
	if !ok {
		status = &SyncStatus{AccountID: accountID, State: StateIdle}
		t.statuses[accountID] = status
	}
	return status
}

func (t *statusTracker) set(accountID int64, state SyncState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.entry(accountID)
	status.State = state
	status.UpdatedAt = time.Now().UTC()
}

func (t *statusTracker) succeed(accountID int64, saved int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	status := t.entry(accountID)
	status.State = StateIdle
	status.LastError = ""
	status.LastSaved = saved
	status.LastSyncAt = now
	status.UpdatedAt = now
}

func (t *statusTracker) fail(accountID int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.entry(accountID)
	status.State = StateFailed
	status.LastError = err.Error()
	status.UpdatedAt = time.Now().UTC()
}

func (t *statusTracker) get(accountID int64) SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if status, ok := t.statuses[accountID]; ok {
		return *status
	}
	return SyncStatus{AccountID: accountID, State: StateIdle}
}

func (t *statusTracker) all() []SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]SyncStatus, 0, len(t.statuses))
	for _, status := range t.statuses {
		result = append(result, *status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result
}
