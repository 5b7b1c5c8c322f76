package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// searchStrategy issues one page of the job's search. The two variants
// share a cursor-in, page-out contract so the batch loop does not care
// whether the area geocoded.
type searchStrategy interface {
	Search(ctx context.Context, pageToken string) (prospector.SearchPage, error)
	Name() string
}

// nearbyStrategy searches around resolved coordinates.
type nearbyStrategy struct {
	provider     prospector.SearchProvider
	lat, lng     float64
	radiusMeters int
	keyword      string
}

func (s *nearbyStrategy) Search(ctx context.Context, pageToken string) (prospector.SearchPage, error) {
	return s.provider.SearchNearby(ctx, s.lat, s.lng, s.radiusMeters, s.keyword, pageToken)
}

func (s *nearbyStrategy) Name() string { return "nearby" }

// textStrategy degrades to a free-form query when geocoding fails.
type textStrategy struct {
	provider prospector.SearchProvider
	query    string
}

func (s *textStrategy) Search(ctx context.Context, pageToken string) (prospector.SearchPage, error) {
	return s.provider.SearchText(ctx, s.query, pageToken)
}

func (s *textStrategy) Name() string { return "text" }

// chooseStrategy geocodes the job's area best-effort and picks the search
// variant. Geocoding failure degrades to text search, never fails the
// batch.
func (e *Engine) chooseStrategy(ctx context.Context, job prospector.Job) searchStrategy {
	geoCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	loc, err := e.geocoder.Geocode(geoCtx, job.Area)
	if err != nil {
		e.logger.Warn("geocoder returned error; degrading to text search",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		loc = nil
	}
	if loc != nil {
		e.logger.Debug("area geocoded",
			zap.String("job_id", job.ID),
			zap.Float64("lat", loc.Lat),
			zap.Float64("lng", loc.Lng),
		)
		return &nearbyStrategy{
			provider:     e.search,
			lat:          loc.Lat,
			lng:          loc.Lng,
			radiusMeters: job.RadiusMeters,
			keyword:      job.Keyword,
		}
	}
	return &textStrategy{
		provider: e.search,
		query:    fmt.Sprintf("%s in %s", job.Keyword, job.Area),
	}
}
