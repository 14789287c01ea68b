package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps state in process memory. It is the single-process
// counterpart of RedisStore and backs the tests.
type MemoryStore struct {
	mu       sync.Mutex
	queue    []string
	owner    string
	leaseEnd time.Time
	times    map[string]time.Time
	settings map[string]string
	logs     []LogEntry // newest first
	now      func() time.Time
}

// NewMemoryStore returns an empty store. A nil now means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		times:    make(map[string]time.Time),
		settings: make(map[string]string),
		now:      now,
	}
}

func (m *MemoryStore) LoadQueue(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queue...), nil
}

func (m *MemoryStore) UpdateQueue(ctx context.Context, fn QueueFunc) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(append([]string(nil), m.queue...))
	if err != nil {
		return nil, err
	}
	m.queue = append([]string(nil), next...)
	return append([]string(nil), next...), nil
}

func (m *MemoryStore) AcquireProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != "" && m.now().Before(m.leaseEnd) {
		return false, nil
	}
	m.owner = owner
	m.leaseEnd = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryStore) RenewProcessing(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != owner || !m.now().Before(m.leaseEnd) {
		return false, nil
	}
	m.leaseEnd = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryStore) ReleaseProcessing(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner == owner {
		m.owner = ""
		m.leaseEnd = time.Time{}
	}
	return nil
}

func (m *MemoryStore) IsProcessing(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner != "" && m.now().Before(m.leaseEnd), nil
}

func (m *MemoryStore) SetTime(ctx context.Context, name string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[name] = t
	return nil
}

func (m *MemoryStore) GetTime(ctx context.Context, name string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.times[name]
	return t, ok, nil
}

func (m *MemoryStore) GetSetting(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[name]
	return v, ok, nil
}

func (m *MemoryStore) SetSetting(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[name] = value
	return nil
}

func (m *MemoryStore) AppendLog(ctx context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append([]LogEntry{entry}, m.logs...)
	if len(m.logs) > MaxLogEntries {
		m.logs = m.logs[:MaxLogEntries]
	}
	return nil
}

func (m *MemoryStore) RecentLogs(ctx context.Context, n int) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.logs) {
		n = len(m.logs)
	}
	return append([]LogEntry(nil), m.logs[:n]...), nil
}

func (m *MemoryStore) ClearLogs(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = nil
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
