// Package contextmgr holds the shared key-value context of an execution run
// and the per-task contexts seeded from it.
package contextmgr

import (
	"encoding/json"
	"sort"
	"sync"
)

// SummaryKey holds the record of keys evicted by Compress.
const SummaryKey = "_summary"

// Manager owns the shared context of one run. Reads go through Snapshot and
// Get; all writes go through Merge.
type Manager struct {
	mu     sync.Mutex
	values map[string]any
	// touched records the merge sequence that last wrote each key.
	touched map[string]uint64
	seq     uint64
	pinned  map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPinned marks keys that Compress never evicts.
func WithPinned(keys ...string) Option {
	return func(m *Manager) {
		for _, k := range keys {
			m.pinned[k] = true
		}
	}
}

// WithInitial seeds the shared context. The values count as one merge.
func WithInitial(values map[string]any) Option {
	return func(m *Manager) {
		m.mergeLocked(values)
	}
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		values:  make(map[string]any),
		touched: make(map[string]uint64),
		pinned:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a deep copy of the shared context.
func (m *Manager) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMap(m.values)
}

// Get returns a deep copy of the value stored under key.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Merge applies delta to the shared context. The last writer wins per key.
func (m *Manager) Merge(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(delta)
}

func (m *Manager) mergeLocked(delta map[string]any) {
	m.seq++
	for k, v := range delta {
		m.values[k] = copyValue(v)
		m.touched[k] = m.seq
	}
}

// Len returns the number of keys in the shared context.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Size returns the length in bytes of the JSON encoding of the shared context.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sizeOf(m.values)
}

// Compress evicts the least recently merged keys until the encoded context
// fits in threshold bytes. Pinned keys are kept. Evicted key names are
// recorded under SummaryKey, which is itself dropped only when nothing else
// can go. Returns the number of keys evicted, not counting the summary.
func (m *Manager) Compress(threshold int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threshold <= 0 || sizeOf(m.values) <= threshold {
		return 0
	}

	candidates := make([]string, 0, len(m.values))
	for k := range m.values {
		if k == SummaryKey || m.pinned[k] {
			continue
		}
		candidates = append(candidates, k)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := m.touched[candidates[i]], m.touched[candidates[j]]
		if a != b {
			return a < b
		}
		return candidates[i] < candidates[j]
	})

	evicted := previouslyEvicted(m.values[SummaryKey])
	count := 0
	for _, k := range candidates {
		if sizeOf(m.values) <= threshold {
			break
		}
		delete(m.values, k)
		delete(m.touched, k)
		evicted = append(evicted, k)
		count++
		m.values[SummaryKey] = map[string]any{
			"evicted_keys": append([]string(nil), evicted...),
			"count":        len(evicted),
		}
		m.touched[SummaryKey] = m.seq
	}

	if sizeOf(m.values) > threshold && !m.pinned[SummaryKey] {
		delete(m.values, SummaryKey)
		delete(m.touched, SummaryKey)
	}

	return count
}

func previouslyEvicted(v any) []string {
	summary, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	switch keys := summary["evicted_keys"].(type) {
	case []string:
		return append([]string(nil), keys...)
	case []any:
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			if s, ok := k.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func sizeOf(values map[string]any) int {
	data, err := json.Marshal(values)
	if err != nil {
		// Values that cannot be encoded are counted by key only.
		n := 2
		for k := range values {
			n += len(k) + 4
		}
		return n
	}
	return len(data)
}

// copyValue deep-copies JSON-like values. Other types are returned as is.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

// Clone deep-copies a context map such as one returned by Snapshot.
func Clone(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	return copyMap(values)
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}
