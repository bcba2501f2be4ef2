package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no report is available for a given directory.
	ErrNotFound = errors.New("no run report for directory")
)

// Status is the outcome of processing one tile directory.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// RunReport records one directory's pass through the pipeline.
type RunReport struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	Dir        string    `json:"dir"` // tile directory name relative to the root, e.g. "07"
	Path       string    `json:"path"`
	Status     Status    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Rows       int       `json:"rows"`
	Columns    int       `json:"columns"`
	Footprint  string    `json:"footprint,omitempty"`
	StartedAt  time.Time `json:"startedAt"`  // always UTC
	FinishedAt time.Time `json:"finishedAt"` // always UTC
}

// ReportHistory holds a time-ordered list of reports for a directory.
type ReportHistory struct {
	Reports []RunReport
}

// MemoryStore is a concurrency-safe in-memory implementation of a report store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: directory, value: history
	data map[string]*ReportHistory

	// retention configuration
	maxHistory int           // max number of reports per directory
	maxAge     time.Duration // optional max age for reports
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*ReportHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveReport appends a new report for its directory and enforces retention.
func (s *MemoryStore) SaveReport(report RunReport) {
	key := report.Dir

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &ReportHistory{}
		s.data[key] = history
	}

	history.Reports = append(history.Reports, report)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Reports) > s.maxHistory {
		over := len(history.Reports) - s.maxHistory
		history.Reports = history.Reports[over:]
	}

	// Enforce retention by age. The newest report is always kept.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Reports)-1; i++ {
			if !history.Reports[i].FinishedAt.Before(cutoff) {
				break
			}
		}
		history.Reports = history.Reports[i:]
	}
}

// GetLatest returns the most recent report for a directory.
func (s *MemoryStore) GetLatest(dir string) (RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[dir]
	if !ok || len(history.Reports) == 0 {
		return RunReport{}, ErrNotFound
	}
	return history.Reports[len(history.Reports)-1], nil
}

// GetRange returns all reports for a directory that finished between from and to (inclusive).
func (s *MemoryStore) GetRange(dir string, from, to time.Time) ([]RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[dir]
	if !ok || len(history.Reports) == 0 {
		return nil, ErrNotFound
	}

	var result []RunReport
	for _, r := range history.Reports {
		if !r.FinishedAt.Before(from) && !r.FinishedAt.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// Dirs returns the directories with at least one report, sorted.
func (s *MemoryStore) Dirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirs := make([]string, 0, len(s.data))
	for dir, h := range s.data {
		if len(h.Reports) > 0 {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}
