// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// Store implements prospector.JobStore and prospector.ProspectStore with
// mutex-guarded maps.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]prospector.Job
	prospects map[string][]prospector.Prospect
	seen      map[string]map[string]struct{}
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		jobs:      make(map[string]prospector.Job),
		prospects: make(map[string][]prospector.Prospect),
		seen:      make(map[string]map[string]struct{}),
	}
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job prospector.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (prospector.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return prospector.Job{}, prospector.ErrJobNotFound
	}
	return job, nil
}

// UpdateJob merges the partial update into the stored job and stamps
// UpdatedAt.
func (s *Store) UpdateJob(_ context.Context, jobID string, update prospector.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return prospector.ErrJobNotFound
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.ClearCursor {
		job.Cursor = nil
	} else if update.Cursor != nil {
		cursor := *update.Cursor
		job.Cursor = &cursor
	}
	if update.Counts != nil {
		job.Counts = *update.Counts
	}
	if update.SheetID != nil {
		job.SheetID = *update.SheetID
	}
	if update.SheetURL != nil {
		job.SheetURL = *update.SheetURL
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// ListRecentJobs returns jobs ordered by creation time, descending.
func (s *Store) ListRecentJobs(_ context.Context, limit int) ([]prospector.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]prospector.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// PutProspect writes a prospect at most once per (job id, place id).
func (s *Store) PutProspect(_ context.Context, prospect prospector.Prospect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.seen[prospect.JobID]
	if !ok {
		keys = make(map[string]struct{})
		s.seen[prospect.JobID] = keys
	}
	if _, dup := keys[prospect.PlaceID]; dup {
		return nil
	}
	keys[prospect.PlaceID] = struct{}{}
	s.prospects[prospect.JobID] = append(s.prospects[prospect.JobID], prospect)
	return nil
}

// ListProspects returns up to limit prospects for a job in insertion order.
func (s *Store) ListProspects(_ context.Context, jobID string, limit int) ([]prospector.Prospect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prospects := s.prospects[jobID]
	if limit > 0 && len(prospects) > limit {
		prospects = prospects[:limit]
	}
	out := make([]prospector.Prospect, len(prospects))
	copy(out, prospects)
	return out, nil
}
