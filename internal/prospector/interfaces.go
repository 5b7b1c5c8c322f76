package prospector

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by job stores when the id is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	ListRecentJobs(ctx context.Context, limit int) ([]Job, error)
}

// ProspectStore persists accepted prospects keyed by (job id, place id).
type ProspectStore interface {
	PutProspect(ctx context.Context, prospect Prospect) error
	ListProspects(ctx context.Context, jobID string, limit int) ([]Prospect, error)
}

// Geocoder resolves an area string to coordinates. Resolution failure is
// reported as (nil, nil); only transport-level problems return an error.
type Geocoder interface {
	Geocode(ctx context.Context, area string) (*GeoLocation, error)
}

// SearchProvider issues paged searches and per-candidate detail lookups.
type SearchProvider interface {
	SearchNearby(ctx context.Context, lat, lng float64, radiusMeters int, keyword, pageToken string) (SearchPage, error)
	SearchText(ctx context.Context, query, pageToken string) (SearchPage, error)
	GetDetails(ctx context.Context, placeID string) (PlaceDetails, error)
}

// ExportSink receives accepted prospects as spreadsheet rows.
type ExportSink interface {
	CreateSheet(ctx context.Context, title string) (sheetID, sheetURL string, err error)
	AppendRows(ctx context.Context, sheetID string, rows [][]string) error
	MakePublic(ctx context.Context, sheetID string) error
}

// Notifier delivers job completion events. The target URL is the job's
// caller-supplied webhook; implementations that publish elsewhere may
// ignore it. Delivery failures must be absorbed by the implementation,
// never failing the enclosing operation.
type Notifier interface {
	Notify(ctx context.Context, targetURL string, event CompletionEvent) error
}

// Enricher extracts contact emails from a candidate website.
type Enricher interface {
	Enrich(ctx context.Context, website, domain string) []string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
