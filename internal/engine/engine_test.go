package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NofaBC/prospector-api/internal/prospector"
	"github.com/NofaBC/prospector-api/internal/storage/memory"
)

type fakeGeocoder struct {
	loc *prospector.GeoLocation
	err error
}

func (g *fakeGeocoder) Geocode(context.Context, string) (*prospector.GeoLocation, error) {
	return g.loc, g.err
}

type fakeSearch struct {
	mu          sync.Mutex
	pages       map[string]prospector.SearchPage
	searchErr   error
	details     map[string]prospector.PlaceDetails
	detailErrs  map[string]error
	nearbyCalls int
	textCalls   int
	lastQuery   string

	// When set, Search signals entered and then blocks until release is
	// closed.
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSearch) serve(pageToken string) (prospector.SearchPage, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	if s.searchErr != nil {
		return prospector.SearchPage{}, s.searchErr
	}
	return s.pages[pageToken], nil
}

func (s *fakeSearch) SearchNearby(_ context.Context, _, _ float64, _ int, _, pageToken string) (prospector.SearchPage, error) {
	s.mu.Lock()
	s.nearbyCalls++
	s.mu.Unlock()
	return s.serve(pageToken)
}

func (s *fakeSearch) SearchText(_ context.Context, query, pageToken string) (prospector.SearchPage, error) {
	s.mu.Lock()
	s.textCalls++
	s.lastQuery = query
	s.mu.Unlock()
	return s.serve(pageToken)
}

func (s *fakeSearch) GetDetails(_ context.Context, placeID string) (prospector.PlaceDetails, error) {
	if err := s.detailErrs[placeID]; err != nil {
		return prospector.PlaceDetails{}, err
	}
	details, ok := s.details[placeID]
	if !ok {
		return prospector.PlaceDetails{}, fmt.Errorf("no details for %s", placeID)
	}
	return details, nil
}

type fakeSink struct {
	mu        sync.Mutex
	rows      [][]string
	published []string
	createErr error
	appendErr error
	publicErr error
}

func (s *fakeSink) CreateSheet(context.Context, string) (string, string, error) {
	if s.createErr != nil {
		return "", "", s.createErr
	}
	return "sheet-1", "https://sheets.example/sheet-1", nil
}

func (s *fakeSink) AppendRows(_ context.Context, _ string, rows [][]string) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *fakeSink) MakePublic(_ context.Context, sheetID string) error {
	if s.publicErr != nil {
		return s.publicErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, sheetID)
	return nil
}

type notification struct {
	targetURL string
	event     prospector.CompletionEvent
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []notification
	notErr error
}

func (n *fakeNotifier) Notify(_ context.Context, targetURL string, event prospector.CompletionEvent) error {
	if n.notErr != nil {
		return n.notErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{targetURL: targetURL, event: event})
	return nil
}

type fakeEnricher struct {
	emails map[string][]string
}

func (e *fakeEnricher) Enrich(_ context.Context, _, domain string) []string {
	return e.emails[domain]
}

type staticClock struct{ t time.Time }

func (c staticClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fixture struct {
	store    *memory.Store
	geocoder *fakeGeocoder
	search   *fakeSearch
	sink     *fakeSink
	notifier *fakeNotifier
	enricher *fakeEnricher
	engine   *Engine
}

func newFixture() *fixture {
	f := &fixture{
		store: memory.NewStore(),
		geocoder: &fakeGeocoder{
			loc: &prospector.GeoLocation{Lat: 30.27, Lng: -97.74},
		},
		search: &fakeSearch{
			pages:      make(map[string]prospector.SearchPage),
			details:    make(map[string]prospector.PlaceDetails),
			detailErrs: make(map[string]error),
		},
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
		enricher: &fakeEnricher{emails: make(map[string][]string)},
	}
	f.engine = New(Config{CallTimeout: time.Second}, Deps{
		Jobs:      f.store,
		Prospects: f.store,
		Geocoder:  f.geocoder,
		Search:    f.search,
		Enricher:  f.enricher,
		Sink:      f.sink,
		Notifier:  f.notifier,
		Clock:     staticClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:       &seqIDs{},
		Retry:     prospector.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	return f
}

func (f *fixture) addCandidate(pageToken, placeID, name, website string) {
	page := f.search.pages[pageToken]
	page.Candidates = append(page.Candidates, prospector.Candidate{PlaceID: placeID, Name: name})
	f.search.pages[pageToken] = page
	f.search.details[placeID] = prospector.PlaceDetails{
		PlaceID: placeID,
		Name:    name,
		Website: website,
		Phone:   "+1 512 555 0100",
		Address: "100 Congress Ave, Austin, TX",
	}
}

func (f *fixture) setNextToken(pageToken, next string) {
	page := f.search.pages[pageToken]
	page.NextPageToken = next
	f.search.pages[pageToken] = page
}

func defaultParams() CreateJobParams {
	return CreateJobParams{
		Keyword:      "coffee",
		Area:         "Austin, TX",
		RadiusMeters: 16000,
		MaxResults:   100,
		WebhookURL:   "https://hooks.example/done",
	}
}

func TestCreateJob_RunsFirstBatchToCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.addCandidate("", "p2", "Roast House", "roasthouse.com")
	f.enricher.emails["bluecup.com"] = []string{"info@bluecup.com"}

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Equal(t, "sheet-1", job.SheetID)
	require.Equal(t, 2, job.Counts.Found)
	require.Equal(t, 2, job.Counts.Appended)
	require.Zero(t, job.Counts.Deduped)
	require.Zero(t, job.Counts.Errors)
	require.Nil(t, job.Cursor)

	require.Equal(t, []string{"sheet-1"}, f.sink.published)
	require.Len(t, f.sink.rows, 2)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "https://hooks.example/done", f.notifier.sent[0].targetURL)
	require.Equal(t, "done", f.notifier.sent[0].event.Status)
	require.Equal(t, 2, f.notifier.sent[0].event.Counts.Found)

	stored, err := f.store.ListProspects(context.Background(), job.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, []string{"info@bluecup.com"}, stored[0].Emails)
	require.Equal(t, "bluecup.com", stored[0].Domain)
}

func TestAdvance_PaginationPersistsCursor(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.setNextToken("", "tok-2")
	f.addCandidate("tok-2", "p2", "Roast House", "https://roasthouse.com")

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusRunning, job.Status)
	require.NotNil(t, job.Cursor)
	require.Equal(t, "tok-2", job.Cursor.PageToken)
	require.Equal(t, 1, job.Counts.Found)
	require.Empty(t, f.sink.published)
	require.Empty(t, f.notifier.sent)

	job, err = f.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Nil(t, job.Cursor)
	require.Equal(t, 2, job.Counts.Found)
	require.Len(t, f.notifier.sent, 1)
}

func TestAdvance_DedupesByPlaceIDAndDomain(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.addCandidate("", "p1", "Blue Cup Again", "https://bluecup.com")
	f.addCandidate("", "p2", "Blue Cup Downtown", "https://www.bluecup.com/downtown")

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Equal(t, 1, job.Counts.Found)
	require.Equal(t, 2, job.Counts.Deduped)
	require.Len(t, f.sink.rows, 1)
}

func TestAdvance_RehydratesDedupeAcrossBatches(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.setNextToken("", "tok-2")
	// Same domain under a fresh place id in the next batch.
	f.addCandidate("tok-2", "p2", "Blue Cup East", "https://www.bluecup.com/east")

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)
	require.Equal(t, 1, job.Counts.Found)

	job, err = f.engine.Advance(context.Background(), job.ID)
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Equal(t, 1, job.Counts.Found)
	require.Equal(t, 1, job.Counts.Deduped)
}

func TestProcessBatch_SearchFailureMovesJobToError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.search.searchErr = &prospector.ProviderError{
		Provider:   "places",
		StatusCode: http.StatusInternalServerError,
		Message:    "backend down",
	}

	f.seedJob(t, prospector.JobStatusQueued, nil)

	err := f.engine.ProcessBatch(context.Background(), "job-seeded")
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusError, job.Status)
	require.Equal(t, 1, job.Counts.Errors)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "error", f.notifier.sent[0].event.Status)
}

func TestProcessBatch_DetailFailureSkipsCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.addCandidate("", "p2", "Broken", "")
	f.search.detailErrs["p2"] = &prospector.ProviderError{
		Provider:   "places",
		StatusCode: http.StatusBadRequest,
		Message:    "invalid place id",
	}
	f.addCandidate("", "p3", "Roast House", "https://roasthouse.com")

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Equal(t, 2, job.Counts.Found)
	require.Equal(t, 1, job.Counts.Errors)
}

func TestProcessBatch_MaxResultsCompletesDespiteNextToken(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "One", "https://one.com")
	f.addCandidate("", "p2", "Two", "https://two.com")
	f.addCandidate("", "p3", "Three", "https://three.com")
	f.setNextToken("", "tok-2")

	params := defaultParams()
	params.MaxResults = 2

	job, err := f.engine.CreateJob(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, prospector.JobStatusDone, job.Status)
	require.Equal(t, 2, job.Counts.Found)
	require.Nil(t, job.Cursor)
	require.Len(t, f.sink.rows, 2)
}

func TestProcessBatch_TerminalJobIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedJob(t, prospector.JobStatusDone, nil)

	err := f.engine.ProcessBatch(context.Background(), "job-seeded")
	require.NoError(t, err)

	require.Zero(t, f.search.nearbyCalls)
	require.Zero(t, f.search.textCalls)
	require.Empty(t, f.notifier.sent)
}

func TestProcessBatch_UnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	err := f.engine.ProcessBatch(context.Background(), "nope")
	require.ErrorIs(t, err, prospector.ErrJobNotFound)
}

func TestProcessBatch_ConcurrentBatchRejected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.search.entered = make(chan struct{}, 1)
	f.search.release = make(chan struct{})
	f.seedJob(t, prospector.JobStatusQueued, nil)

	done := make(chan error, 1)
	go func() {
		done <- f.engine.ProcessBatch(context.Background(), "job-seeded")
	}()

	select {
	case <-f.search.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never reached the search provider")
	}

	err := f.engine.ProcessBatch(context.Background(), "job-seeded")
	require.ErrorIs(t, err, ErrBatchInFlight)

	close(f.search.release)
	require.NoError(t, <-done)
}

func TestProcessBatch_ExportFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addCandidate("", "p1", "Blue Cup", "https://bluecup.com")
	f.sink.appendErr = errors.New("quota exhausted")
	f.seedJob(t, prospector.JobStatusQueued, nil)

	err := f.engine.ProcessBatch(context.Background(), "job-seeded")
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusError, job.Status)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedJob(t, prospector.JobStatusRunning, &prospector.Cursor{PageToken: "tok-2"})

	job, err := f.engine.Cancel(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusCanceled, job.Status)

	// Idempotent on an already canceled job.
	job, err = f.engine.Cancel(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusCanceled, job.Status)

	_, err = f.engine.Cancel(context.Background(), "missing")
	require.ErrorIs(t, err, prospector.ErrJobNotFound)
}

func TestCancel_DoneJobStaysDone(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedJob(t, prospector.JobStatusDone, nil)

	job, err := f.engine.Cancel(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusDone, job.Status)
}

func TestCancel_ErrorJobCanBeCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedJob(t, prospector.JobStatusError, nil)

	job, err := f.engine.Cancel(context.Background(), "job-seeded")
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusCanceled, job.Status)
}

func TestCreateJob_SheetCreationFailureFailsFast(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.sink.createErr = errors.New("sheets unavailable")

	_, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.Error(t, err)

	jobs, err := f.store.ListRecentJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestStatus_ReturnsJobWithSample(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for i := 0; i < 15; i++ {
		f.addCandidate("", fmt.Sprintf("p%d", i), fmt.Sprintf("Shop %d", i), fmt.Sprintf("https://shop%d.com", i))
	}

	job, err := f.engine.CreateJob(context.Background(), defaultParams())
	require.NoError(t, err)

	view, err := f.engine.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, prospector.JobStatusDone, view.Job.Status)
	require.Len(t, view.Prospects, 10)

	_, err = f.engine.Status(context.Background(), "missing")
	require.ErrorIs(t, err, prospector.ErrJobNotFound)
}

// seedJob plants a job directly in the store, bypassing CreateJob.
func (f *fixture) seedJob(t *testing.T, status prospector.JobStatus, cursor *prospector.Cursor) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := f.store.CreateJob(context.Background(), prospector.Job{
		ID:           "job-seeded",
		Status:       status,
		Keyword:      "coffee",
		Area:         "Austin, TX",
		RadiusMeters: 16000,
		MaxResults:   100,
		SheetID:      "sheet-1",
		Cursor:       cursor,
		WebhookURL:   "https://hooks.example/done",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
}
