package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/taskweave/internal/planner"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

// ResultStore holds one Execution Result per dispatched task. It is safe
// for concurrent use; stored and returned results are copies.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*models.Result
	// order is insertion order, used for retention.
	order []string
	limit int
}

// NewResultStore creates a store retaining at most limit results. Zero
// keeps everything.
func NewResultStore(limit int) *ResultStore {
	return &ResultStore{
		results: make(map[string]*models.Result),
		limit:   limit,
	}
}

// Put records r, replacing any previous result for the same task.
func (s *ResultStore) Put(r *models.Result) {
	if r == nil {
		return
	}
	c := copyResult(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[c.TaskID]; !ok {
		s.order = append(s.order, c.TaskID)
	}
	s.results[c.TaskID] = c
	s.enforceLimitLocked()
}

// enforceLimitLocked drops the oldest finished results beyond the limit.
// Caller must hold s.mu.
func (s *ResultStore) enforceLimitLocked() {
	if s.limit <= 0 {
		return
	}
	for i := 0; len(s.results) > s.limit && i < len(s.order); {
		id := s.order[i]
		if r := s.results[id]; r != nil && !r.Done() {
			i++
			continue
		}
		delete(s.results, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

// Get returns the result for a task.
func (s *ResultStore) Get(taskID string) (*models.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[taskID]
	if !ok {
		return nil, false
	}
	return copyResult(r), true
}

// All returns every result ordered by task id.
func (s *ResultStore) All() []*models.Result {
	s.mu.RLock()
	out := make([]*models.Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, copyResult(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return planner.NaturalLess(out[i].TaskID, out[j].TaskID)
	})
	return out
}

// Len returns the number of stored results.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Limit returns the retention limit.
func (s *ResultStore) Limit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// SetLimit changes the retention limit and applies it.
func (s *ResultStore) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = n
	s.enforceLimitLocked()
}

// Clear removes every result.
func (s *ResultStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make(map[string]*models.Result)
	s.order = nil
}

// MarshalJSON encodes the results as an array ordered by task id.
func (s *ResultStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.All())
}

// UnmarshalJSON replaces the store's contents. Every result must carry a
// known status.
func (s *ResultStore) UnmarshalJSON(data []byte) error {
	var list []*models.Result
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	for _, r := range list {
		if r == nil || r.TaskID == "" {
			return fmt.Errorf("decode results: result without task id")
		}
		if !r.Status.Valid() {
			return fmt.Errorf("decode results: task %s: unknown status %q", r.TaskID, r.Status)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make(map[string]*models.Result, len(list))
	s.order = s.order[:0]
	for _, r := range list {
		if _, ok := s.results[r.TaskID]; !ok {
			s.order = append(s.order, r.TaskID)
		}
		s.results[r.TaskID] = r
	}
	return nil
}

func copyResult(r *models.Result) *models.Result {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
