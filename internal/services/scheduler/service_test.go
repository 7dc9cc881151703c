package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/grantscout/internal/common"
	"github.com/ternarybob/grantscout/internal/interfaces"
	"github.com/ternarybob/grantscout/internal/models"
	"github.com/ternarybob/grantscout/internal/services/orchestrator"
	"github.com/ternarybob/grantscout/internal/services/sources"
)

// Mock implementations

type mockSourceStorage struct {
	sources map[string]*models.ScrapedSource
	order   []string
}

func newMockSourceStorage() *mockSourceStorage {
	return &mockSourceStorage{sources: make(map[string]*models.ScrapedSource)}
}

func (m *mockSourceStorage) SaveSource(ctx context.Context, source *models.ScrapedSource) error {
	if _, ok := m.sources[source.ID]; !ok {
		m.order = append(m.order, source.ID)
	}
	copied := *source
	m.sources[source.ID] = &copied
	return nil
}

func (m *mockSourceStorage) GetSource(ctx context.Context, id string) (*models.ScrapedSource, error) {
	if source, ok := m.sources[id]; ok {
		copied := *source
		return &copied, nil
	}
	return nil, models.ErrSourceNotFound
}

func (m *mockSourceStorage) GetSourceByURL(ctx context.Context, normalizedURL string) (*models.ScrapedSource, error) {
	for _, source := range m.sources {
		if source.URL == normalizedURL {
			copied := *source
			return &copied, nil
		}
	}
	return nil, models.ErrSourceNotFound
}

func (m *mockSourceStorage) ListSources(ctx context.Context, opts *interfaces.SourceListOptions) ([]*models.ScrapedSource, error) {
	var list []*models.ScrapedSource
	for _, id := range m.order {
		copied := *m.sources[id]
		list = append(list, &copied)
	}
	return list, nil
}

func (m *mockSourceStorage) DeleteSource(ctx context.Context, id string) error {
	delete(m.sources, id)
	return nil
}

// mockJobStorage implements interfaces.JobStorage with the same
// single-flight semantics as the badger implementation.
type mockJobStorage struct {
	mu    chan struct{} // simple semaphore, tests run concurrent workers
	jobs  map[string]*models.ScrapeJob
	order []string
}

func newMockJobStorage() *mockJobStorage {
	m := &mockJobStorage{
		mu:   make(chan struct{}, 1),
		jobs: make(map[string]*models.ScrapeJob),
	}
	m.mu <- struct{}{}
	return m
}

func (m *mockJobStorage) lock()   { <-m.mu }
func (m *mockJobStorage) unlock() { m.mu <- struct{}{} }

func (m *mockJobStorage) CreateJob(ctx context.Context, job *models.ScrapeJob, force bool) error {
	m.lock()
	defer m.unlock()
	if !force {
		for _, existing := range m.jobs {
			if existing.SourceID == job.SourceID && existing.IsActive() {
				return models.ErrAlreadyRunning
			}
		}
	}
	copied := *job
	m.jobs[job.ID] = &copied
	m.order = append(m.order, job.ID)
	return nil
}

func (m *mockJobStorage) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	m.lock()
	defer m.unlock()
	if job, ok := m.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, models.ErrJobNotFound
}

func (m *mockJobStorage) UpdateJob(ctx context.Context, job *models.ScrapeJob) error {
	m.lock()
	defer m.unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockJobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.ScrapeJob, error) {
	m.lock()
	defer m.unlock()
	var list []*models.ScrapeJob
	for _, id := range m.order {
		job := m.jobs[id]
		if opts != nil {
			if opts.SourceID != "" && job.SourceID != opts.SourceID {
				continue
			}
			if opts.Status != "" && string(job.Status) != opts.Status {
				continue
			}
		}
		copied := *job
		list = append(list, &copied)
	}
	return list, nil
}

func (m *mockJobStorage) GetActiveJobForSource(ctx context.Context, sourceID string) (*models.ScrapeJob, error) {
	m.lock()
	defer m.unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.SourceID == sourceID && job.IsActive() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, models.ErrJobNotFound
}

func (m *mockJobStorage) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	m.lock()
	defer m.unlock()
	count := 0
	for _, job := range m.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *mockJobStorage) GetStaleJobs(ctx context.Context, olderThan time.Time) ([]*models.ScrapeJob, error) {
	m.lock()
	defer m.unlock()
	var stale []*models.ScrapeJob
	for _, job := range m.jobs {
		if job.Status == models.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(olderThan) {
			copied := *job
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (m *mockJobStorage) HasJobsForSource(ctx context.Context, sourceID string) (bool, error) {
	m.lock()
	defer m.unlock()
	for _, job := range m.jobs {
		if job.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

type mockGrantStorage struct{}

func (m *mockGrantStorage) SaveGrant(ctx context.Context, grant *models.Grant) error { return nil }
func (m *mockGrantStorage) GetGrantByKey(ctx context.Context, naturalKey string) (*models.Grant, error) {
	return nil, nil
}
func (m *mockGrantStorage) CountGrantsForSource(ctx context.Context, sourceID string) (int, error) {
	return 0, nil
}

type mockExecutor struct {
	result *interfaces.ScrapeResult
	err    error
}

func (m *mockExecutor) Execute(ctx context.Context, source *models.ScrapedSource) (*interfaces.ScrapeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &interfaces.ScrapeResult{}, nil
}

type fixture struct {
	svc           *Service
	sourceStorage *mockSourceStorage
	jobStorage    *mockJobStorage
	sourceService *sources.Service
	config        *common.SchedulerConfig
}

func newFixture(t *testing.T, executor interfaces.ScrapeExecutor) *fixture {
	t.Helper()

	logger := arbor.NewLogger()
	sourceStorage := newMockSourceStorage()
	jobStorage := newMockJobStorage()

	config := &common.SchedulerConfig{
		DefaultFrequency:    "WEEKLY",
		MaxConcurrentJobs:   2,
		RetryAttempts:       1,
		RetryBackoff:        10 * time.Millisecond,
		HealthCheckInterval: 50 * time.Millisecond,
		StaleAfter:          30 * time.Minute,
		FailCountCeiling:    5,
	}
	sourceService := sources.NewService(sourceStorage, jobStorage, config, logger)
	orchestratorService := orchestrator.NewService(
		jobStorage, &mockGrantStorage{}, sourceService, executor,
		&common.ScraperConfig{JobTimeout: 5 * time.Second}, logger)

	return &fixture{
		svc:           NewService(sourceService, jobStorage, orchestratorService, config, logger),
		sourceStorage: sourceStorage,
		jobStorage:    jobStorage,
		sourceService: sourceService,
		config:        config,
	}
}

func seedSource(t *testing.T, f *fixture, id string, lastScraped *time.Time) *models.ScrapedSource {
	t.Helper()
	source := &models.ScrapedSource{
		ID:            id,
		URL:           "https://" + id + ".example.org",
		Type:          models.SourceTypeGov,
		Status:        models.SourceStatusActive,
		Frequency:     models.FrequencyWeekly,
		LastScrapedAt: lastScraped,
	}
	require.NoError(t, f.sourceStorage.SaveSource(context.Background(), source))
	return source
}

func TestRunTick_CreatesOneJobPerDueSource(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	eightDaysAgo := time.Now().Add(-8 * 24 * time.Hour)
	seedSource(t, f, "src_due", &eightDaysAgo)

	// Scheduler is not started, so jobs stay PENDING rather than being
	// picked up by workers.
	f.svc.RunTick()

	jobs, err := f.jobStorage.ListJobs(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusPending, jobs[0].Status)
	assert.Equal(t, "src_due", jobs[0].SourceID)
	assert.Equal(t, models.TriggerScheduler, jobs[0].Metadata.TriggeredBy)

	// A second tick respects the single-flight invariant
	f.svc.RunTick()
	jobs, err = f.jobStorage.ListJobs(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRunTick_RespectsConcurrencyBudget(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	for _, id := range []string{"src_1", "src_2", "src_3"} {
		seedSource(t, f, id, nil)
	}

	f.svc.RunTick()

	jobs, err := f.jobStorage.ListJobs(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "maxConcurrentJobs=2 caps job creation per tick")

	// The rolled-over source is picked up next tick once capacity frees
	for _, job := range jobs {
		job.Status = models.JobStatusSuccess
		require.NoError(t, f.jobStorage.UpdateJob(context.Background(), job))
		require.NoError(t, f.sourceService.RecordOutcome(context.Background(), job.SourceID, sources.OutcomeSuccess, 10, ""))
	}

	f.svc.RunTick()
	pending, err := f.jobStorage.ListJobs(context.Background(), &interfaces.JobListOptions{Status: string(models.JobStatusPending)})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "src_3", pending[0].SourceID)
}

func TestRunTick_FairnessOrdering(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	f.config.MaxConcurrentJobs = 1

	recent := time.Now().Add(-8 * 24 * time.Hour)
	ancient := time.Now().Add(-30 * 24 * time.Hour)
	seedSource(t, f, "src_recent", &recent)
	seedSource(t, f, "src_never", nil)
	seedSource(t, f, "src_ancient", &ancient)

	f.svc.RunTick()

	jobs, err := f.jobStorage.ListJobs(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "src_never", jobs[0].SourceID, "never-scraped sources go first")
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	job, err := f.svc.Trigger(ctx, "src_1", 5, false)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.TriggerManual, job.Metadata.TriggeredBy)
	assert.Equal(t, 5, job.Metadata.Priority)
	assert.Equal(t, 1, job.Metadata.Attempt)
	assert.Equal(t, 2, job.Metadata.MaxAttempts)
}

func TestTrigger_UnknownSource(t *testing.T) {
	f := newFixture(t, &mockExecutor{})

	_, err := f.svc.Trigger(context.Background(), "src_missing", 0, false)
	assert.ErrorIs(t, err, models.ErrSourceNotFound)
}

func TestTrigger_InactiveSource(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	source := seedSource(t, f, "src_1", nil)
	source.Status = models.SourceStatusInactive
	require.NoError(t, f.sourceStorage.SaveSource(ctx, source))

	_, err := f.svc.Trigger(ctx, "src_1", 0, false)
	assert.ErrorIs(t, err, models.ErrSourceInactive)

	// force overrides the status gate
	job, err := f.svc.Trigger(ctx, "src_1", 0, true)
	require.NoError(t, err)
	assert.True(t, job.Metadata.Force)
}

func TestTrigger_SingleFlightConflict(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	first, err := f.svc.Trigger(ctx, "src_1", 0, false)
	require.NoError(t, err)

	_, err = f.svc.Trigger(ctx, "src_1", 0, false)
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)

	// The conflicting job is discoverable for the 409 response body
	active, err := f.jobStorage.GetActiveJobForSource(ctx, "src_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	// force bypasses the single-flight check
	forced, err := f.svc.Trigger(ctx, "src_1", 0, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	job, err := f.svc.Trigger(ctx, "src_1", 0, false)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)

	// Terminal jobs cannot be re-cancelled
	_, err = f.svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	_, err = f.svc.CancelJob(ctx, "job_missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestMaybeRetry_EnqueuesRetryWithBackoff(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	failed := models.NewScrapeJob("job_failed", "src_1", models.JobMetadata{
		TriggeredBy: models.TriggerScheduler,
		Attempt:     1,
		MaxAttempts: 2,
	})
	require.NoError(t, f.jobStorage.CreateJob(ctx, failed, false))
	require.NoError(t, failed.MarkRunning())
	require.NoError(t, failed.ApplyResult(models.JobStatusFailed, &models.JobResult{Errors: []string{"FETCH_FAILURE: boom"}}))
	require.NoError(t, f.jobStorage.UpdateJob(ctx, failed))

	f.svc.maybeRetry("job_failed")

	require.Eventually(t, func() bool {
		jobs, err := f.jobStorage.ListJobs(ctx, &interfaces.JobListOptions{Status: string(models.JobStatusPending)})
		return err == nil && len(jobs) == 1
	}, time.Second, 5*time.Millisecond)

	jobs, err := f.jobStorage.ListJobs(ctx, &interfaces.JobListOptions{Status: string(models.JobStatusPending)})
	require.NoError(t, err)
	retry := jobs[0]
	assert.Equal(t, models.TriggerRetry, retry.Metadata.TriggeredBy)
	assert.Equal(t, 2, retry.Metadata.Attempt)
	assert.Equal(t, 2, retry.Metadata.MaxAttempts)
	assert.Equal(t, "job_failed", retry.Metadata.RetryOfJob)
}

func TestMaybeRetry_ExhaustedAttemptsStop(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	failed := models.NewScrapeJob("job_failed", "src_1", models.JobMetadata{
		TriggeredBy: models.TriggerRetry,
		Attempt:     2,
		MaxAttempts: 2,
	})
	require.NoError(t, f.jobStorage.CreateJob(ctx, failed, false))
	require.NoError(t, failed.MarkRunning())
	require.NoError(t, failed.ApplyResult(models.JobStatusFailed, nil))
	require.NoError(t, f.jobStorage.UpdateJob(ctx, failed))

	f.svc.maybeRetry("job_failed")
	time.Sleep(50 * time.Millisecond)

	jobs, err := f.jobStorage.ListJobs(ctx, &interfaces.JobListOptions{Status: string(models.JobStatusPending)})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCleanupOrphanedJobs(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	orphan := models.NewScrapeJob("job_orphan", "src_1", models.JobMetadata{TriggeredBy: models.TriggerScheduler})
	require.NoError(t, f.jobStorage.CreateJob(ctx, orphan, false))
	require.NoError(t, orphan.MarkRunning())
	require.NoError(t, f.jobStorage.UpdateJob(ctx, orphan))

	require.NoError(t, f.svc.cleanupOrphanedJobs())

	job, err := f.jobStorage.GetJob(ctx, "job_orphan")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.Log)
	assert.Contains(t, job.Log[0], string(models.ErrCodeStale))

	// The source is free for new jobs again
	_, err = f.jobStorage.GetActiveJobForSource(ctx, "src_1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestDetectStaleJobs(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	seedSource(t, f, "src_1", nil)

	stale := models.NewScrapeJob("job_stale", "src_1", models.JobMetadata{TriggeredBy: models.TriggerScheduler})
	require.NoError(t, f.jobStorage.CreateJob(ctx, stale, false))
	started := time.Now().Add(-time.Hour)
	stale.Status = models.JobStatusRunning
	stale.StartedAt = &started
	require.NoError(t, f.jobStorage.UpdateJob(ctx, stale))

	fresh := models.NewScrapeJob("job_fresh", "src_1", models.JobMetadata{TriggeredBy: models.TriggerScheduler})
	require.NoError(t, f.jobStorage.CreateJob(ctx, fresh, true))
	now := time.Now()
	fresh.Status = models.JobStatusRunning
	fresh.StartedAt = &now
	require.NoError(t, f.jobStorage.UpdateJob(ctx, fresh))

	require.NoError(t, f.svc.detectStaleJobs())

	staleAfter, err := f.jobStorage.GetJob(ctx, "job_stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, staleAfter.Status)

	freshAfter, err := f.jobStorage.GetJob(ctx, "job_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, freshAfter.Status)
}

func TestStartStop_ExecutesDueSources(t *testing.T) {
	f := newFixture(t, &mockExecutor{result: &interfaces.ScrapeResult{}})
	seedSource(t, f, "src_1", nil)

	require.NoError(t, f.svc.Start())
	defer f.svc.Stop()

	assert.True(t, f.svc.IsRunning())

	require.Eventually(t, func() bool {
		jobs, err := f.jobStorage.ListJobs(context.Background(), &interfaces.JobListOptions{
			Status: string(models.JobStatusSuccess),
		})
		return err == nil && len(jobs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, f.svc.Stop())
	assert.False(t, f.svc.IsRunning())
}
