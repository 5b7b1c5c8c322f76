// Package prospector defines core types shared across subsystems.
package prospector

import (
	"time"
)

// JobStatus represents the lifecycle state of a prospecting job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusError    JobStatus = "error"
	JobStatusCanceled JobStatus = "canceled"
)

// IsTerminal reports whether no transition leaves the status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusError, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Cursor marks where paged search resumes on the next batch.
type Cursor struct {
	PageToken string `json:"page_token,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Counts tracks per-job progress counters. All values are monotonically
// non-decreasing within a job's life.
type Counts struct {
	Found    int `json:"found"`
	Appended int `json:"appended"`
	Deduped  int `json:"deduped"`
	Errors   int `json:"errors"`
}

// Job represents the metadata persisted for each prospecting run.
type Job struct {
	ID           string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	SeedURL      string    `json:"seed_url"`
	Keyword      string    `json:"keyword"`
	Area         string    `json:"area"`
	RadiusMeters int       `json:"radius_meters"`
	MaxResults   int       `json:"max_results"`
	SheetID      string    `json:"sheet_id,omitempty"`
	SheetURL     string    `json:"sheet_url,omitempty"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	Counts       Counts    `json:"counts"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobUpdate carries the fields a partial job update may touch. Nil fields
// are left unchanged; the store stamps UpdatedAt on every merge.
type JobUpdate struct {
	Status      *JobStatus
	Cursor      *Cursor
	ClearCursor bool
	Counts      *Counts
	SheetID     *string
	SheetURL    *string
}

// Prospect is one accepted, enriched business listing scoped to a job.
// The pair (JobID, PlaceID) is unique; a prospect is written at most once.
type Prospect struct {
	JobID       string    `json:"job_id"`
	PlaceID     string    `json:"place_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	Website     string    `json:"website,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	Emails      []string  `json:"emails,omitempty"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Types       []string  `json:"types,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	RatingCount *int      `json:"rating_count,omitempty"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Candidate is a single listing returned by a search page, before details
// have been fetched.
type Candidate struct {
	PlaceID string
	Name    string
}

// SearchPage is one page of search results plus the resumption token.
type SearchPage struct {
	Candidates    []Candidate
	NextPageToken string
}

// PlaceDetails holds the full listing record fetched per candidate.
type PlaceDetails struct {
	PlaceID     string
	Name        string
	Phone       string
	Address     string
	Website     string
	Lat         float64
	Lng         float64
	Types       []string
	Rating      *float64
	RatingCount *int
}

// GeoLocation is a resolved area centre.
type GeoLocation struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
}

// CompletionEvent is delivered to notifiers when a job reaches a terminal
// state.
type CompletionEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Counts Counts `json:"counts"`
}
