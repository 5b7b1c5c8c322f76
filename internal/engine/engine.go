// Package engine drives the prospecting job lifecycle: it creates jobs,
// runs one bounded batch per trigger, and moves jobs through the state
// machine queued -> running -> done|error|canceled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/metrics"
	"github.com/NofaBC/prospector-api/internal/prospector"
)

// ErrBatchInFlight is returned when a batch for the same job is already
// running; the API maps it to 409.
var ErrBatchInFlight = errors.New("a batch for this job is already in flight")

// rehydrateLimit bounds how many persisted prospects are loaded to seed
// the dedupe tracker at the start of a batch.
const rehydrateLimit = 10000

// Config tunes engine behavior.
type Config struct {
	// CallTimeout bounds each individual provider call inside a batch.
	CallTimeout time.Duration
	// SampleLimit caps how many prospects Status returns alongside the job.
	SampleLimit int
}

// Deps carries the engine's collaborators. All are required except
// Logger.
type Deps struct {
	Jobs      prospector.JobStore
	Prospects prospector.ProspectStore
	Geocoder  prospector.Geocoder
	Search    prospector.SearchProvider
	Enricher  prospector.Enricher
	Sink      prospector.ExportSink
	Notifier  prospector.Notifier
	Clock     prospector.Clock
	IDs       prospector.IDGenerator
	Retry     prospector.RetryPolicy
	Logger    *zap.Logger
}

// Engine orchestrates batch processing for prospecting jobs.
type Engine struct {
	cfg       Config
	jobs      prospector.JobStore
	prospects prospector.ProspectStore
	geocoder  prospector.Geocoder
	search    prospector.SearchProvider
	enricher  prospector.Enricher
	sink      prospector.ExportSink
	notifier  prospector.Notifier
	clock     prospector.Clock
	ids       prospector.IDGenerator
	retry     prospector.RetryPolicy
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		jobs:      deps.Jobs,
		prospects: deps.Prospects,
		geocoder:  deps.Geocoder,
		search:    deps.Search,
		enricher:  deps.Enricher,
		sink:      deps.Sink,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		ids:       deps.IDs,
		retry:     deps.Retry,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// CreateJobParams holds the validated inputs for a new job.
type CreateJobParams struct {
	SeedURL      string
	Keyword      string
	Area         string
	RadiusMeters int
	MaxResults   int
	WebhookURL   string
}

// CreateJob provisions the export sheet, persists the job in queued
// state, and runs the first batch inline. The returned job reflects the
// state after that first batch.
func (e *Engine) CreateJob(ctx context.Context, params CreateJobParams) (prospector.Job, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return prospector.Job{}, fmt.Errorf("generating job id: %w", err)
	}

	now := e.clock.Now()
	title := fmt.Sprintf("Prospects: %s in %s (%s)", params.Keyword, params.Area, now.Format("2006-01-02"))
	sheetID, sheetURL, err := e.sink.CreateSheet(ctx, title)
	if err != nil {
		return prospector.Job{}, fmt.Errorf("creating export sheet: %w", err)
	}

	job := prospector.Job{
		ID:           id,
		Status:       prospector.JobStatusQueued,
		SeedURL:      params.SeedURL,
		Keyword:      params.Keyword,
		Area:         params.Area,
		RadiusMeters: params.RadiusMeters,
		MaxResults:   params.MaxResults,
		SheetID:      sheetID,
		SheetURL:     sheetURL,
		WebhookURL:   params.WebhookURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return prospector.Job{}, fmt.Errorf("persisting job: %w", err)
	}
	metrics.ObserveJobStatus(string(prospector.JobStatusQueued))
	e.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("keyword", job.Keyword),
		zap.String("area", job.Area),
		zap.Int("max_results", job.MaxResults),
	)

	// First batch runs inline so the caller gets immediate progress.
	if err := e.ProcessBatch(ctx, job.ID); err != nil {
		return prospector.Job{}, err
	}
	return e.jobs.GetJob(ctx, job.ID)
}

// Advance runs the next batch for an existing job. Terminal jobs are a
// no-op; a concurrent batch for the same job returns ErrBatchInFlight.
func (e *Engine) Advance(ctx context.Context, jobID string) (prospector.Job, error) {
	if err := e.ProcessBatch(ctx, jobID); err != nil {
		return prospector.Job{}, err
	}
	return e.jobs.GetJob(ctx, jobID)
}

// Cancel moves a job to canceled. Canceling a job that is already done
// or canceled is an idempotent no-op; unknown jobs return
// prospector.ErrJobNotFound.
func (e *Engine) Cancel(ctx context.Context, jobID string) (prospector.Job, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return prospector.Job{}, err
	}
	if job.Status == prospector.JobStatusDone || job.Status == prospector.JobStatusCanceled {
		return job, nil
	}
	canceled := prospector.JobStatusCanceled
	if err := e.jobs.UpdateJob(ctx, jobID, prospector.JobUpdate{Status: &canceled}); err != nil {
		return prospector.Job{}, fmt.Errorf("canceling job: %w", err)
	}
	metrics.ObserveJobStatus(string(canceled))
	e.logger.Info("job canceled", zap.String("job_id", jobID))
	return e.jobs.GetJob(ctx, jobID)
}

// JobStatusView bundles a job with a small sample of its prospects.
type JobStatusView struct {
	Job       prospector.Job        `json:"job"`
	Prospects []prospector.Prospect `json:"prospects"`
}

// Status returns the job plus up to SampleLimit persisted prospects.
func (e *Engine) Status(ctx context.Context, jobID string) (JobStatusView, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return JobStatusView{}, err
	}
	sample, err := e.prospects.ListProspects(ctx, jobID, e.cfg.SampleLimit)
	if err != nil {
		return JobStatusView{}, fmt.Errorf("listing prospects: %w", err)
	}
	return JobStatusView{Job: job, Prospects: sample}, nil
}

// ListJobs returns the most recently created jobs.
func (e *Engine) ListJobs(ctx context.Context, limit int) ([]prospector.Job, error) {
	return e.jobs.ListRecentJobs(ctx, limit)
}

// ProcessBatch runs one bounded batch for the job: search one page,
// evaluate candidates, persist accepted prospects, and advance or
// complete the job. Fatal batch errors flip the job to error state and
// are swallowed so the trigger can always acknowledge; only not-found
// and in-flight conflicts surface to the caller.
func (e *Engine) ProcessBatch(ctx context.Context, jobID string) error {
	if !e.begin(jobID) {
		return ErrBatchInFlight
	}
	defer e.end(jobID)

	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		e.logger.Info("batch skipped; job is terminal",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		metrics.ObserveBatch("skipped", 0)
		return nil
	}

	if job.Status != prospector.JobStatusRunning {
		running := prospector.JobStatusRunning
		if err := e.jobs.UpdateJob(ctx, jobID, prospector.JobUpdate{Status: &running}); err != nil {
			return fmt.Errorf("marking job running: %w", err)
		}
		job.Status = running
		metrics.ObserveJobStatus(string(running))
	}

	start := time.Now()
	if err := e.runBatch(ctx, &job); err != nil {
		job.Counts.Errors++
		e.failJob(ctx, job, err)
		metrics.ObserveBatch("error", time.Since(start))
		return nil
	}
	metrics.ObserveBatch("ok", time.Since(start))
	return nil
}

// runBatch executes one page of work against the job. It mutates
// job.Counts in place and persists the outcome. A returned error is
// fatal for the job.
func (e *Engine) runBatch(ctx context.Context, job *prospector.Job) error {
	tracker, err := e.rehydrateTracker(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("rehydrating dedupe state: %w", err)
	}

	strategy := e.chooseStrategy(ctx, *job)

	pageToken := ""
	if job.Cursor != nil {
		pageToken = job.Cursor.PageToken
	}

	var page prospector.SearchPage
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		var searchErr error
		page, searchErr = strategy.Search(callCtx, pageToken)
		return searchErr
	})
	if err != nil {
		return fmt.Errorf("search (%s): %w", strategy.Name(), err)
	}
	e.logger.Info("search page fetched",
		zap.String("job_id", job.ID),
		zap.String("strategy", strategy.Name()),
		zap.Int("candidates", len(page.Candidates)),
		zap.Bool("has_next", page.NextPageToken != ""),
	)

	for _, candidate := range page.Candidates {
		if job.Counts.Found >= job.MaxResults {
			metrics.ObserveCandidate("capped")
			break
		}
		if err := e.processCandidate(ctx, job, tracker, candidate); err != nil {
			return err
		}
	}

	return e.finishBatch(ctx, job, page.NextPageToken)
}

// processCandidate evaluates one search result: fetch details, dedupe,
// enrich, persist, and append to the export sheet. Detail fetch failures
// count as candidate errors and skip the candidate; persistence and
// export failures are fatal for the batch.
func (e *Engine) processCandidate(ctx context.Context, job *prospector.Job, tracker *prospector.DedupeTracker, candidate prospector.Candidate) error {
	var details prospector.PlaceDetails
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		var detailsErr error
		details, detailsErr = e.search.GetDetails(callCtx, candidate.PlaceID)
		return detailsErr
	})
	if err != nil {
		job.Counts.Errors++
		metrics.ObserveCandidate("error")
		e.logger.Warn("details fetch failed; skipping candidate",
			zap.String("job_id", job.ID),
			zap.String("place_id", candidate.PlaceID),
			zap.Error(err),
		)
		return nil
	}

	if !tracker.ShouldInclude(details.PlaceID, details.Website) {
		job.Counts.Deduped++
		metrics.ObserveCandidate("deduped")
		return nil
	}
	tracker.MarkSeen(details.PlaceID, details.Website)

	domain := prospector.NormalizeDomain(details.Website)
	var emails []string
	if details.Website != "" {
		emails = e.enricher.Enrich(ctx, details.Website, domain)
	}

	prospect := prospector.Prospect{
		JobID:       job.ID,
		PlaceID:     details.PlaceID,
		Name:        details.Name,
		Phone:       details.Phone,
		Address:     details.Address,
		Website:     details.Website,
		Domain:      domain,
		Emails:      emails,
		Lat:         details.Lat,
		Lng:         details.Lng,
		Types:       details.Types,
		Rating:      details.Rating,
		RatingCount: details.RatingCount,
		Source:      "places",
		CreatedAt:   e.clock.Now(),
	}
	if err := e.prospects.PutProspect(ctx, prospect); err != nil {
		return fmt.Errorf("persisting prospect %s: %w", details.PlaceID, err)
	}

	err = e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return e.sink.AppendRows(callCtx, job.SheetID, [][]string{prospectRow(prospect)})
	})
	if err != nil {
		return fmt.Errorf("appending export row for %s: %w", details.PlaceID, err)
	}

	job.Counts.Found++
	job.Counts.Appended++
	metrics.ObserveProspect()
	metrics.ObserveCandidate("accepted")
	return nil
}

// finishBatch persists counts and either parks the cursor for the next
// trigger or completes the job.
func (e *Engine) finishBatch(ctx context.Context, job *prospector.Job, nextPageToken string) error {
	if job.Counts.Found < job.MaxResults && nextPageToken != "" {
		cursor := prospector.Cursor{PageToken: nextPageToken}
		update := prospector.JobUpdate{
			Cursor: &cursor,
			Counts: &job.Counts,
		}
		if err := e.jobs.UpdateJob(ctx, job.ID, update); err != nil {
			return fmt.Errorf("persisting cursor: %w", err)
		}
		e.logger.Info("batch complete; more pages remain",
			zap.String("job_id", job.ID),
			zap.Int("found", job.Counts.Found),
		)
		return nil
	}
	return e.completeJob(ctx, job)
}

// completeJob transitions the job to done, publishes the export, and
// fires the completion notification.
func (e *Engine) completeJob(ctx context.Context, job *prospector.Job) error {
	if err := e.sink.MakePublic(ctx, job.SheetID); err != nil {
		return fmt.Errorf("publishing export sheet: %w", err)
	}

	done := prospector.JobStatusDone
	update := prospector.JobUpdate{
		Status:      &done,
		Counts:      &job.Counts,
		ClearCursor: true,
	}
	if err := e.jobs.UpdateJob(ctx, job.ID, update); err != nil {
		return fmt.Errorf("marking job done: %w", err)
	}
	job.Status = done
	metrics.ObserveJobStatus(string(done))
	e.logger.Info("job complete",
		zap.String("job_id", job.ID),
		zap.Int("found", job.Counts.Found),
		zap.Int("deduped", job.Counts.Deduped),
		zap.Int("errors", job.Counts.Errors),
	)

	e.notify(ctx, *job)
	return nil
}

// failJob records a fatal batch error: counts are persisted, the job
// flips to error, and the completion notification still fires. Store
// failures here are logged, not propagated; the job is already lost.
func (e *Engine) failJob(ctx context.Context, job prospector.Job, cause error) {
	e.logger.Error("batch failed; job moved to error state",
		zap.String("job_id", job.ID),
		zap.Error(cause),
	)
	failed := prospector.JobStatusError
	update := prospector.JobUpdate{
		Status: &failed,
		Counts: &job.Counts,
	}
	if err := e.jobs.UpdateJob(ctx, job.ID, update); err != nil {
		e.logger.Error("persisting error state failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}
	job.Status = failed
	metrics.ObserveJobStatus(string(failed))
	e.notify(ctx, job)
}

// notify fires the completion event. Notifier implementations absorb
// their own failures; an error here is only logged.
func (e *Engine) notify(ctx context.Context, job prospector.Job) {
	event := prospector.CompletionEvent{
		JobID:  job.ID,
		Status: string(job.Status),
		Counts: job.Counts,
	}
	if err := e.notifier.Notify(ctx, job.WebhookURL, event); err != nil {
		e.logger.Warn("completion notification failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// rehydrateTracker rebuilds dedupe state from persisted prospects so a
// later batch never re-accepts a listing from an earlier one.
func (e *Engine) rehydrateTracker(ctx context.Context, jobID string) (*prospector.DedupeTracker, error) {
	existing, err := e.prospects.ListProspects(ctx, jobID, rehydrateLimit)
	if err != nil {
		return nil, err
	}
	tracker := prospector.NewDedupeTracker()
	for _, p := range existing {
		tracker.MarkSeen(p.PlaceID, p.Website)
	}
	return tracker, nil
}

// begin claims the per-job in-flight slot.
func (e *Engine) begin(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[jobID]; busy {
		return false
	}
	e.inFlight[jobID] = struct{}{}
	return true
}

func (e *Engine) end(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, jobID)
}

// prospectRow renders one prospect as an export sheet row.
func prospectRow(p prospector.Prospect) []string {
	rating := ""
	if p.Rating != nil {
		rating = strconv.FormatFloat(*p.Rating, 'f', 1, 64)
	}
	ratingCount := ""
	if p.RatingCount != nil {
		ratingCount = strconv.Itoa(*p.RatingCount)
	}
	return []string{
		p.Name,
		p.Phone,
		p.Address,
		p.Website,
		strings.Join(p.Emails, ", "),
		rating,
		ratingCount,
		strings.Join(p.Types, ", "),
		p.PlaceID,
	}
}
