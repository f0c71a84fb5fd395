package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/modelmux/modelmux/providers"
)

type memoryEntry struct {
	key        string
	response   *providers.Response
	createdAt  time.Time
	lastReadAt time.Time
	expiresAt  time.Time
	hitCount   uint64
	sizeBytes  int
}

// Memory is a thread-safe in-memory response cache with TTL expiry and
// least-recently-read eviction under size pressure. Entries are never
// mutated after insertion; hit bookkeeping lives beside them.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List // front = most recently read

	hits    uint64
	misses  uint64
	savings float64
}

// NewMemory creates a cache holding at most capacity entries, each expiring
// ttl after insertion. Defaults are applied for non-positive values:
// capacity=1024, ttl=5m.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Memory{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a copy of the cached response for key. On a hit the entry's
// last-read time and hit count are updated atomically with the lookup, and
// the entry's original cost is added to the estimated savings.
func (m *Memory) Get(key string) (*providers.Response, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeElement(elem)
		m.misses++
		return nil, false
	}

	entry.lastReadAt = time.Now()
	entry.hitCount++
	m.hits++
	m.savings += entry.response.CostUSD
	m.evictList.MoveToFront(elem)

	// Copy so callers can stamp per-call fields without mutating the entry.
	resp := *entry.response
	return &resp, true
}

// Put stores a response. Expired entries are swept first; if the cache is
// still full, the least-recently-read entry is evicted. Storing an existing
// key refreshes the entry in place.
func (m *Memory) Put(key string, resp *providers.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.response = resp
		entry.createdAt = now
		entry.expiresAt = now.Add(m.ttl)
		entry.sizeBytes = len(resp.Content)
		m.evictList.MoveToFront(elem)
		return
	}

	if m.evictList.Len() >= m.capacity {
		m.sweepExpired(now)
	}
	if m.evictList.Len() >= m.capacity {
		m.removeOldest()
	}

	elem := m.evictList.PushFront(&memoryEntry{
		key:        key,
		response:   resp,
		createdAt:  now,
		lastReadAt: now,
		expiresAt:  now.Add(m.ttl),
		sizeBytes:  len(resp.Content),
	})
	m.items[key] = elem
}

// Stats returns a consistent snapshot of the cache telemetry.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:          m.evictList.Len(),
		Hits:             m.hits,
		Misses:           m.misses,
		EstimatedSavings: m.savings,
	}
}

// Len returns the number of entries currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Clear removes all entries. Hit/miss counters survive a clear.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.evictList.Init()
}

func (m *Memory) sweepExpired(now time.Time) {
	for elem := m.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if entry := elem.Value.(*memoryEntry); now.After(entry.expiresAt) {
			m.removeElement(elem)
		}
		elem = prev
	}
}

func (m *Memory) removeOldest() {
	if elem := m.evictList.Back(); elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*memoryEntry).key)
}
