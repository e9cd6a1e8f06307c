package keylock

import "sync"

// Table grants exclusive ownership of a key for the duration of a mutation.
// Entries exist only while a request owns the key; nothing is persisted.
type Table struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTable creates an empty lock table
func NewTable() *Table {
	return &Table{held: make(map[string]struct{})}
}

// TryLock atomically claims the key. It returns false if another request
// already owns it; the caller should answer 409 in that case.
func (t *Table) TryLock(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.held[key]; held {
		return false
	}
	t.held[key] = struct{}{}
	return true
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (t *Table) Unlock(key string) {
	t.mu.Lock()
	delete(t.held, key)
	t.mu.Unlock()
}
