package kvguard

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemStore is an in-process replica: one linearizable CAS register per
// key, guarded by a single lock. It backs tests and the demo command;
// several MemStore handles sharing the same registers model a correctly
// replicated store.
type MemStore struct {
	name string
	regs *registers
}

type registers struct {
	sync.RWMutex
	data map[string]Written
}

// NewMemStore creates a replica with its own backing registers
func NewMemStore(name string) *MemStore {
	return &MemStore{
		name: name,
		regs: &registers{data: make(map[string]Written)},
	}
}

// Replica returns another named handle over the same registers
func (m *MemStore) Replica(name string) *MemStore {
	return &MemStore{name: name, regs: m.regs}
}

func (m *MemStore) Name() string { return m.name }

// Put installs a value unconditionally
func (m *MemStore) Put(ctx context.Context, key, value, opID string) error {
	m.regs.Lock()
	defer m.regs.Unlock()
	m.regs.data[key] = Written{OpID: opID, Value: value}
	return nil
}

// Get reads the current holder of a key
func (m *MemStore) Get(ctx context.Context, key string) (Written, error) {
	m.regs.RLock()
	defer m.regs.RUnlock()
	w, ok := m.regs.data[key]
	if !ok {
		return Written{}, errors.Mark(errors.Newf("key %s not found", key), ErrCanceled)
	}
	return w, nil
}

// CompareAndSwap installs (value, opID) only if prevOpID still holds the
// key; on a lost race it reports the current holder instead
func (m *MemStore) CompareAndSwap(ctx context.Context, key, prevOpID, value, opID string) (Written, error) {
	m.regs.Lock()
	defer m.regs.Unlock()
	cur, ok := m.regs.data[key]
	if !ok {
		return Written{}, errors.Mark(errors.Newf("key %s not found", key), ErrCanceled)
	}
	if cur.OpID != prevOpID {
		return cur, nil
	}
	w := Written{OpID: opID, Value: value}
	m.regs.data[key] = w
	return w, nil
}

func (m *MemStore) String() string {
	m.regs.RLock()
	defer m.regs.RUnlock()
	b, _ := json.Marshal(m.regs.data)
	return m.name + string(b)
}
