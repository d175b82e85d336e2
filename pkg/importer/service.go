// Package importer brings a Goodreads library export into a user's shelf.
package importer

import (
	"bytes"
	"context"
	"time"

	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	// MaxUploadBytes bounds the size of an accepted export.
	MaxUploadBytes = 10 << 20
	progressEvery  = 10
	lockedRetries  = 3
)

// Indexer adds newly created catalog rows to the search index.
type Indexer interface {
	IndexBook(book *models.HiveBook) error
}

// Logger receives per-row outcomes. joblogs.JobLogger satisfies it.
type Logger interface {
	Info(msg string, data logger.Data)
	Warn(msg string, data logger.Data)
}

type Service struct {
	jobs      *jobs.Service
	catalog   *catalog.Service
	userBooks *userbooks.Service
	index     Indexer
	retryWait time.Duration
}

func NewService(jobService *jobs.Service, catalogService *catalog.Service, userBookService *userbooks.Service, index Indexer) *Service {
	return &Service{
		jobs:      jobService,
		catalog:   catalogService,
		userBooks: userBookService,
		index:     index,
		retryWait: time.Second,
	}
}

// Queue checks an uploaded export and creates an import job for it. A user
// has at most one import pending or running.
func (svc *Service) Queue(ctx context.Context, did, filename string, data []byte) (*models.Job, error) {
	mt := mimetype.Detect(data)
	if !mt.Is("text/csv") && !mt.Is("text/plain") {
		return nil, errcodes.ValidationError("Upload the CSV file from a Goodreads library export.")
	}

	rows, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errcodes.ValidationError("The export doesn't contain any books.")
	}

	active, err := svc.jobs.HasActiveJob(ctx, models.JobTypeImport, did)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errcodes.Conflict("An import is already running.")
	}

	job := &models.Job{
		Type:    models.JobTypeImport,
		Status:  models.JobStatusPending,
		UserDID: &did,
		DataParsed: &models.JobImportData{
			Filename: filename,
			CSV:      string(data),
			Total:    len(rows),
		},
	}
	if err := svc.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("queued import", logger.Data{"job_id": job.ID, "did": did, "rows": len(rows)})
	return job, nil
}

// Run imports every row of an import job on behalf of sess. Failed rows are
// logged and counted. The job only fails when no row could be imported.
func (svc *Service) Run(ctx context.Context, job *models.Job, sess *models.Session, log Logger) error {
	data, ok := job.DataParsed.(*models.JobImportData)
	if !ok {
		return errors.Errorf("job %d is not an import", job.ID)
	}
	rows, err := ParseCSV(bytes.NewReader([]byte(data.CSV)))
	if err != nil {
		return err
	}
	data.Total = len(rows)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if err := svc.importRow(ctx, sess, row); err != nil {
			data.Failed++
			log.Warn("failed to import book", logger.Data{"title": row.Title, "goodreads_id": row.GoodreadsID, "error": err.Error()})
		} else {
			data.Imported++
		}
		if (i+1)%progressEvery == 0 {
			if err := svc.saveProgress(ctx, job, data); err != nil {
				return err
			}
		}
	}

	data.CSV = ""
	if err := svc.saveProgress(ctx, job, data); err != nil {
		return err
	}
	log.Info("import finished", logger.Data{"imported": data.Imported, "failed": data.Failed})

	if data.Imported == 0 && data.Failed > 0 {
		return errors.Errorf("none of %d books could be imported", data.Failed)
	}
	return nil
}

func (svc *Service) importRow(ctx context.Context, sess *models.Session, row *Row) error {
	hiveID, err := svc.catalogBook(ctx, row)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		_, err = svc.userBooks.UpdateBook(ctx, sess, row.Input(hiveID))
		if err == nil || !errcodes.HasCode(err, "book_locked") || attempt >= lockedRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(svc.retryWait):
		}
	}
}

// catalogBook finds the row's book in the catalog, adding it when it isn't
// there yet.
func (svc *Service) catalogBook(ctx context.Context, row *Row) (string, error) {
	lookup := row.Lookup()
	if !lookup.IsEmpty() {
		res, err := svc.catalog.Resolve(ctx, lookup)
		if err == nil {
			return res.Book.ID, nil
		}
		if !errors.Is(err, errcodes.NotFound("Book")) {
			return "", err
		}
	}

	book := row.HiveBook()
	if err := svc.catalog.UpsertBook(ctx, book); err != nil {
		return "", err
	}
	if svc.index != nil {
		if err := svc.index.IndexBook(book); err != nil {
			logger.FromContext(ctx).Err(err).Warn("failed to index imported book", logger.Data{"hive_id": book.ID})
		}
	}
	return book.ID, nil
}

func (svc *Service) saveProgress(ctx context.Context, job *models.Job, data *models.JobImportData) error {
	job.DataParsed = data
	if data.Total > 0 {
		job.Progress = (data.Imported + data.Failed) * 100 / data.Total
	}
	return svc.jobs.UpdateJob(ctx, job, jobs.UpdateJobOptions{Columns: []string{"data", "progress"}})
}
