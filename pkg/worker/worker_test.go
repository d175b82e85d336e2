package worker

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/enrichment"
	"github.com/bookhive/bookhive/pkg/importer"
	"github.com/bookhive/bookhive/pkg/joblogs"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type fakeSessions struct{}

func (fakeSessions) Restore(_ context.Context, did string) (*models.Session, error) {
	if did == "did:plc:gone" {
		return nil, errors.New("session expired")
	}
	return &models.Session{DID: did}, nil
}

type fakeImporter struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeImporter) Run(_ context.Context, _ *models.Job, sess *models.Session, log importer.Logger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, sess.DID)
	log.Info("imported", logger.Data{"rows": 1})
	return nil
}

type fakeEnricher struct{}

func (fakeEnricher) EnrichByID(_ context.Context, hiveID string) (*enrichment.Result, error) {
	if hiveID == "bk_boom" {
		panic("scraper exploded")
	}
	return &enrichment.Result{HiveID: hiveID, Outcome: enrichment.OutcomeEnriched}, nil
}

type fakeFollows struct{}

func (fakeFollows) Sync(context.Context, string) (int, error) { return 3, nil }

type testContext struct {
	ctx        context.Context
	db         *bun.DB
	worker     *Worker
	jobService *jobs.Service
	importer   *fakeImporter
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	cfg := config.NewForTest()
	cfg.WorkerProcesses = 1
	cfg.WorkerPollInterval = 10 * time.Millisecond
	cfg.EnrichmentSweepInterval = 0
	cfg.EnrichmentSweepBatch = 2

	imp := &fakeImporter{}
	jobService := jobs.NewService(db)
	w := New(cfg, Services{
		Catalog:  catalog.NewService(db),
		Jobs:     jobService,
		JobLogs:  joblogs.NewService(db),
		Sessions: fakeSessions{},
		Importer: imp,
		Enricher: fakeEnricher{},
		Follows:  fakeFollows{},
	})

	return &testContext{
		ctx:        context.Background(),
		db:         db,
		worker:     w,
		jobService: jobService,
		importer:   imp,
	}
}

func (tc *testContext) createJob(t *testing.T, job *models.Job) *models.Job {
	t.Helper()
	job.Status = models.JobStatusPending
	require.NoError(t, tc.jobService.CreateJob(tc.ctx, job))
	return job
}

func (tc *testContext) waitForStatus(t *testing.T, id int, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := tc.jobService.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &id})
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_RunsJobsToCompletion(t *testing.T) {
	tc := newTestContext(t)
	alice := "did:plc:alice"

	imp := tc.createJob(t, &models.Job{Type: models.JobTypeImport, UserDID: &alice, DataParsed: &models.JobImportData{Filename: "x.csv"}})
	follow := tc.createJob(t, &models.Job{Type: models.JobTypeFollowSync, UserDID: &alice, DataParsed: &models.JobFollowSyncData{DID: alice}})
	enrich := tc.createJob(t, &models.Job{Type: models.JobTypeEnrich, DataParsed: &models.JobEnrichData{HiveIDs: []string{"bk_1", "bk_2"}}})

	tc.worker.Start()
	t.Cleanup(tc.worker.Shutdown)

	tc.waitForStatus(t, imp.ID, models.JobStatusCompleted)
	tc.waitForStatus(t, follow.ID, models.JobStatusCompleted)
	tc.waitForStatus(t, enrich.ID, models.JobStatusCompleted)

	tc.importer.mu.Lock()
	assert.Contains(t, tc.importer.runs, alice)
	tc.importer.mu.Unlock()

	logs, err := joblogs.NewService(tc.db).ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{JobID: imp.ID})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "starting import", logs[0].Message)

	done, err := tc.jobService.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &enrich.ID})
	require.NoError(t, err)
	assert.Equal(t, 100, done.Progress)
}

func TestWorker_FailuresMarkJobFailed(t *testing.T) {
	tc := newTestContext(t)
	gone := "did:plc:gone"

	imp := tc.createJob(t, &models.Job{Type: models.JobTypeImport, UserDID: &gone, DataParsed: &models.JobImportData{}})
	boom := tc.createJob(t, &models.Job{Type: models.JobTypeEnrich, DataParsed: &models.JobEnrichData{HiveIDs: []string{"bk_boom"}}})

	tc.worker.Start()
	t.Cleanup(tc.worker.Shutdown)

	tc.waitForStatus(t, imp.ID, models.JobStatusFailed)
	tc.waitForStatus(t, boom.ID, models.JobStatusFailed)

	logs, err := joblogs.NewService(tc.db).ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{
		JobID:  boom.ID,
		Levels: []string{models.JobLogLevelFatal},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].StackTrace)
}

func TestQueueStaleEnrichment(t *testing.T) {
	tc := newTestContext(t)
	catalogService := catalog.NewService(tc.db)
	for _, title := range []string{"A", "B", "C"} {
		require.NoError(t, catalogService.UpsertBook(tc.ctx, &models.HiveBook{Title: title, Authors: "Someone"}))
	}

	job, err := tc.worker.QueueStaleEnrichment(tc.ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Len(t, job.DataParsed.(*models.JobEnrichData).HiveIDs, 2)

	// One outstanding enrich job at a time.
	again, err := tc.worker.QueueStaleEnrichment(tc.ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueueFollowSync(t *testing.T) {
	tc := newTestContext(t)

	job, err := QueueFollowSync(tc.ctx, tc.jobService, "did:plc:alice")
	require.NoError(t, err)
	require.NotNil(t, job)

	again, err := QueueFollowSync(tc.ctx, tc.jobService, "did:plc:alice")
	require.NoError(t, err)
	assert.Nil(t, again)
}
