// Package resultstore holds the per-score append-only result logs of a run.
//
// The dispatcher appends from many goroutines while one aggregator loop per
// score reads. Each score has its own lock so a slow recompute of one score
// never stalls appends to another, and readers always receive copies so a
// snapshot stays valid after the lock is released.
package resultstore

import (
	"fmt"
	"slices"
	"sync"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

type scoreLog struct {
	mu      sync.RWMutex
	results []domain.ScoreResult
	samples map[string]struct{}
}

// Store is a set of per-score logs, each with its own lock. Logs are created
// on first append and never removed; a Store lives for one run.
type Store struct {
	mu   sync.RWMutex
	logs map[string]*scoreLog
	ids  []string

	onAppend func(scoreID string, count int)
}

// Option configures a Store.
type Option func(*Store)

// WithAppendHook calls fn after every successful append with the new count
// for that score. The runner uses it to start a score's aggregation loop on
// its first result. fn runs on the appending goroutine, outside the log's
// lock, and must not block.
func WithAppendHook(fn func(scoreID string, count int)) Option {
	return func(s *Store) { s.onAppend = fn }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{logs: make(map[string]*scoreLog)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) log(scoreID string, create bool) *scoreLog {
	s.mu.RLock()
	l, ok := s.logs[scoreID]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[scoreID]; ok {
		return l
	}
	l = &scoreLog{samples: make(map[string]struct{})}
	s.logs[scoreID] = l
	s.ids = append(s.ids, scoreID)
	return l
}

// Append records a result. A second result for the same sample and score is
// rejected with ErrDuplicateResult; each unit produces exactly one result,
// and a duplicate would be counted twice in every metric.
func (s *Store) Append(r domain.ScoreResult) error {
	l := s.log(r.ScoreID, true)

	l.mu.Lock()
	if _, dup := l.samples[r.SampleID]; dup {
		l.mu.Unlock()
		return fmt.Errorf("%w: sample %q score %q", domain.ErrDuplicateResult, r.SampleID, r.ScoreID)
	}
	l.samples[r.SampleID] = struct{}{}
	l.results = append(l.results, r)
	count := len(l.results)
	l.mu.Unlock()

	// The hook may read the store; calling it under the lock would deadlock.
	if s.onAppend != nil {
		s.onAppend(r.ScoreID, count)
	}
	return nil
}

// Count returns the number of results recorded for a score.
func (s *Store) Count(scoreID string) int {
	l := s.log(scoreID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}

// Snapshot returns a copy of every result recorded for a score.
func (s *Store) Snapshot(scoreID string) []domain.ScoreResult {
	return s.Since(scoreID, 0)
}

// Since returns a copy of the results from index onward. Results are never
// reordered, so a reader can keep the last count it saw as a cursor. An index
// past the end yields nil.
func (s *Store) Since(scoreID string, index int) []domain.ScoreResult {
	l := s.log(scoreID, false)
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 {
		index = 0
	}
	if index >= len(l.results) {
		return nil
	}
	return slices.Clone(l.results[index:])
}

// ScoreIDs returns the scores with at least one result, in first-append
// order. Scores that produced nothing are absent; callers that must cover
// every score track the full list themselves.
func (s *Store) ScoreIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids)
}

// Total returns the number of results across all scores. It takes each log's
// lock in turn, so under concurrent appends it is a lower bound.
func (s *Store) Total() int {
	total := 0
	for _, id := range s.ScoreIDs() {
		total += s.Count(id)
	}
	return total
}
