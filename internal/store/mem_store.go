package store

import (
	"fmt"
	"sync"

	"github.com/tuannm99/novahtree/internal/storage"
)

// MemStore keeps records in a map. Addresses are handed out sequentially
// starting at 1 and never reused.
type MemStore struct {
	mu      sync.RWMutex
	records map[storage.Addr][]byte
	next    storage.Addr

	writes  int
	deletes int
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[storage.Addr][]byte),
		next:    1,
	}
}

func (m *MemStore) Read(addr storage.Addr) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRecordNotFound, addr)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Write(data []byte) (storage.Addr, error) {
	if len(data) == 0 {
		return storage.NullAddr, storage.ErrEmptyRecord
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := m.next
	m.next++
	m.records[addr] = append([]byte(nil), data...)
	m.writes++
	return addr, nil
}

func (m *MemStore) Delete(addr storage.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[addr]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrRecordNotFound, addr)
	}
	delete(m.records, addr)
	m.deletes++
	return nil
}

// Len is the number of live records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Counters reports how many writes and deletes the store has served.
func (m *MemStore) Counters() (writes, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes, m.deletes
}
