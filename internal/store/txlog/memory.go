package txlog

import "sync"

// Memory es el backend in-process, para tests y desarrollo. No es durable.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemory crea un log vacío en memoria.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uint64(len(m.entries)) + 1
	m.entries = append(m.entries, Entry{ID: id, Data: data})
	return id, nil
}

func (m *Memory) AppendAt(id uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != uint64(len(m.entries))+1 {
		return ErrOutOfSequence
	}
	m.entries = append(m.entries, Entry{ID: id, Data: data})
	return nil
}

func (m *Memory) ReadFrom(since uint64, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if since >= uint64(len(m.entries)) {
		return nil, nil
	}
	rest := m.entries[since:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]Entry, len(rest))
	copy(out, rest)
	return out, nil
}

func (m *Memory) Last() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *Memory) Close() error { return nil }
