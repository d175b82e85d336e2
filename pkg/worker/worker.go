// Package worker runs queued jobs (imports, enrichment batches, follow
// resyncs) from the jobs table, and periodically queues enrichment for stale
// catalog rows.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/enrichment"
	"github.com/bookhive/bookhive/pkg/importer"
	"github.com/bookhive/bookhive/pkg/joblogs"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

var processID = randStringBytes(8)

// Importer runs an import job for a signed-in user.
type Importer interface {
	Run(ctx context.Context, job *models.Job, sess *models.Session, log importer.Logger) error
}

type Enricher interface {
	EnrichByID(ctx context.Context, hiveID string) (*enrichment.Result, error)
}

type FollowSyncer interface {
	Sync(ctx context.Context, did string) (int, error)
}

// SessionRestorer loads a user's OAuth session so jobs can write to their
// repo.
type SessionRestorer interface {
	Restore(ctx context.Context, did string) (*models.Session, error)
}

// Services are what the process functions call into.
type Services struct {
	Catalog  *catalog.Service
	Jobs     *jobs.Service
	JobLogs  *joblogs.Service
	Sessions SessionRestorer
	Importer Importer
	Enricher Enricher
	Follows  FollowSyncer
}

type processFunc func(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) error

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]processFunc

	catalogService *catalog.Service
	jobService     *jobs.Service
	jobLogService  *joblogs.Service
	sessions       SessionRestorer
	importer       Importer
	enricher       Enricher
	follows        FollowSyncer

	queue          chan *models.Job
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneSweeping   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, svcs Services) *Worker {
	w := &Worker{
		config: cfg,
		log:    logger.New(),

		catalogService: svcs.Catalog,
		jobService:     svcs.Jobs,
		jobLogService:  svcs.JobLogs,
		sessions:       svcs.Sessions,
		importer:       svcs.Importer,
		enricher:       svcs.Enricher,
		follows:        svcs.Follows,

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneSweeping:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}

	w.processFuncs = map[string]processFunc{
		models.JobTypeImport:     w.ProcessImportJob,
		models.JobTypeEnrich:     w.ProcessEnrichJob,
		models.JobTypeFollowSync: w.ProcessFollowSyncJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	go w.sweepStale()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.config.WorkerPollInterval > 0 {
		return w.config.WorkerPollInterval
	}
	return 5 * time.Second
}

func (w *Worker) fetchJobs() {
	duration := w.pollInterval()
	timer := time.NewTimer(duration)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			job, err := w.jobService.ClaimJob(context.Background(), processID)
			if err != nil {
				w.log.Err(err).Error("claim job error")
				timer.Reset(duration)
				continue
			}
			if job == nil {
				timer.Reset(duration)
				continue
			}
			select {
			case w.queue <- job:
			case <-w.shutdown:
				// Claimed but never started; the next run picks it back up.
				w.doneFetching <- struct{}{}
				return
			}
			// More work may be waiting, so check again right away.
			timer.Reset(0)
		}
	}
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.process(job)
		}
	}
}

func (w *Worker) process(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(context.Background())
	jobLog := w.jobLogService.NewJobLogger(ctx, job, log)

	// Find and invoke the appropriate process function.
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		jobLog.Error("can't find process function for type", errors.Errorf("unknown job type %q", job.Type), nil)
		w.finish(ctx, job, models.JobStatusFailed)
		return
	}

	err = w.run(ctx, fn, job, jobLog)
	if err != nil {
		jobLog.Error("process error", err, nil)
		w.finish(ctx, job, models.JobStatusFailed)
		return
	}

	// Update job to be completed so that it's not picked up anymore.
	w.finish(ctx, job, models.JobStatusCompleted)
}

// run calls fn, turning a panic into a failed job.
func (w *Worker) run(ctx context.Context, fn processFunc, job *models.Job, jobLog *joblogs.JobLogger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
			jobLog.Fatal("job panicked", err, nil)
		}
	}()
	return fn(ctx, job, jobLog)
}

func (w *Worker) finish(ctx context.Context, job *models.Job, status string) {
	job.Status = status
	err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status"},
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("update job error")
	}
}

func (w *Worker) ProcessImportJob(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) error {
	if job.UserDID == nil {
		return errors.New("import job has no user")
	}
	sess, err := w.sessions.Restore(ctx, *job.UserDID)
	if err != nil {
		return errors.Wrap(err, "user session is no longer valid")
	}
	jobLog.Info("starting import", logger.Data{"did": sess.DID})
	return w.importer.Run(ctx, job, sess, jobLog)
}

func (w *Worker) ProcessEnrichJob(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) error {
	data, ok := job.DataParsed.(*models.JobEnrichData)
	if !ok {
		return errors.Errorf("job %d has no enrich data", job.ID)
	}

	counts := map[enrichment.Outcome]int{}
	for i, hiveID := range data.HiveIDs {
		res, err := w.enricher.EnrichByID(ctx, hiveID)
		if err != nil {
			jobLog.Warn("failed to enrich book", logger.Data{"hive_id": hiveID, "error": err.Error()})
			counts[enrichment.OutcomeFailed]++
		} else {
			counts[res.Outcome]++
		}

		job.Progress = (i + 1) * 100 / len(data.HiveIDs)
		if err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{Columns: []string{"progress"}}); err != nil {
			return err
		}
	}

	jobLog.Info("enrichment batch finished", logger.Data{
		"enriched": counts[enrichment.OutcomeEnriched],
		"skipped":  counts[enrichment.OutcomeSkipped],
		"failed":   counts[enrichment.OutcomeFailed],
	})
	return nil
}

func (w *Worker) ProcessFollowSyncJob(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) error {
	data, ok := job.DataParsed.(*models.JobFollowSyncData)
	if !ok {
		return errors.Errorf("job %d has no follow sync data", job.ID)
	}
	n, err := w.follows.Sync(ctx, data.DID)
	if err != nil {
		return err
	}
	jobLog.Info("synced follows", logger.Data{"did": data.DID, "following": n})
	return nil
}

func (w *Worker) sweepStale() {
	interval := w.config.EnrichmentSweepInterval
	if interval <= 0 {
		<-w.shutdown
		w.doneSweeping <- struct{}{}
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			w.doneSweeping <- struct{}{}
			return
		case <-ticker.C:
			ctx := w.log.WithContext(context.Background())
			if _, err := w.QueueStaleEnrichment(ctx); err != nil {
				w.log.Err(err).Error("enrichment sweep error")
			}
			w.pruneLogs(ctx)
		}
	}
}

// QueueStaleEnrichment creates one enrich job for the catalog rows most in
// need of it. Nothing is queued while an enrich job is still outstanding.
func (w *Worker) QueueStaleEnrichment(ctx context.Context) (*models.Job, error) {
	active, err := w.jobService.HasActiveJobByType(ctx, models.JobTypeEnrich)
	if err != nil || active {
		return nil, err
	}

	before := time.Now().Add(-w.config.EnrichmentStaleAfter)
	ids, err := w.catalogService.ListStaleBookIDs(ctx, before, w.config.EnrichmentSweepBatch)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	job := &models.Job{
		Type:       models.JobTypeEnrich,
		Status:     models.JobStatusPending,
		DataParsed: &models.JobEnrichData{HiveIDs: ids},
	}
	if err := w.jobService.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("queued stale enrichment", logger.Data{"job_id": job.ID, "books": len(ids)})
	return job, nil
}

func (w *Worker) pruneLogs(ctx context.Context) {
	if w.config.JobLogRetention <= 0 {
		return
	}
	n, err := w.jobLogService.PruneJobLogs(ctx, time.Now().Add(-w.config.JobLogRetention))
	if err != nil {
		w.log.Err(err).Error("prune job logs error")
		return
	}
	if n > 0 {
		w.log.Info("pruned job logs", logger.Data{"count": n})
	}
}

// QueueFollowSync asks the worker to resync did's follows.
func QueueFollowSync(ctx context.Context, jobService *jobs.Service, did string) (*models.Job, error) {
	active, err := jobService.HasActiveJob(ctx, models.JobTypeFollowSync, did)
	if err != nil || active {
		return nil, err
	}
	job := &models.Job{
		Type:       models.JobTypeFollowSync,
		Status:     models.JobStatusPending,
		UserDID:    &did,
		DataParsed: &models.JobFollowSyncData{DID: did},
	}
	if err := jobService.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneFetching
	<-w.doneSweeping
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
