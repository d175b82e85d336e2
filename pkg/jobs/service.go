// Package jobs is the database-backed queue for background work: Goodreads
// imports, catalog enrichment and follow resyncs.
package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

type RetrieveJobOptions struct {
	ID      *int
	UserDID *string
}

type ListJobsOptions struct {
	Limit       *int
	Offset      *int
	Statuses    []string
	Type        *string
	UserDID     *string
	NewestFirst bool
}

type UpdateJobOptions struct {
	Columns []string
}

var activeStatuses = []string{models.JobStatusPending, models.JobStatusInProgress}

type Service struct {
	db  *bun.DB
	now func() time.Time
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// CreateJob stores a pending job. DataParsed is encoded into Data unless the
// caller already set Data.
func (svc *Service) CreateJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = svc.now()
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if job.Data == "" && job.DataParsed != nil {
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}

	_, err := svc.db.NewInsert().Model(job).Returning("*").Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.Job, error) {
	job := &models.Job{}
	q := svc.db.NewSelect().Model(job)
	if opts.ID != nil {
		q = q.Where("j.id = ?", *opts.ID)
	}
	if opts.UserDID != nil {
		q = q.Where("j.user_did = ?", *opts.UserDID)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Job")
		}
		return nil, errors.WithStack(err)
	}
	return job, decode(job)
}

// ClaimJob atomically hands the oldest runnable job to processID. A job is
// runnable when it is pending, or in progress under a different process
// (left behind by a previous run). Returns nil when the queue is empty.
func (svc *Service) ClaimJob(ctx context.Context, processID string) (*models.Job, error) {
	next := svc.db.NewSelect().
		Model((*models.Job)(nil)).
		Column("id").
		Where("status IN (?)", bun.In(activeStatuses)).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("process_id IS NULL").WhereOr("process_id != ?", processID)
		}).
		OrderExpr("created_at ASC, id ASC").
		Limit(1)

	job := &models.Job{}
	err := svc.db.NewUpdate().
		Model(job).
		Set("status = ?", models.JobStatusInProgress).
		Set("process_id = ?", processID).
		Set("updated_at = ?", svc.now()).
		Where("id IN (?)", next).
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return job, decode(job)
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	list := []*models.Job{}
	err := svc.listQuery(&list, opts).Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return list, decodeAll(list)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	list := []*models.Job{}
	total, err := svc.listQuery(&list, opts).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	return list, total, decodeAll(list)
}

// LatestJob is the user's most recent job of the given type, or nil.
func (svc *Service) LatestJob(ctx context.Context, jobType, userDID string) (*models.Job, error) {
	limit := 1
	list, err := svc.ListJobs(ctx, ListJobsOptions{
		Limit:       &limit,
		Type:        &jobType,
		UserDID:     &userDID,
		NewestFirst: true,
	})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (svc *Service) listQuery(dest *[]*models.Job, opts ListJobsOptions) *bun.SelectQuery {
	q := svc.db.NewSelect().Model(dest)

	if opts.NewestFirst {
		q = q.Order("j.created_at DESC", "j.id DESC")
	} else {
		q = q.Order("j.created_at ASC", "j.id ASC")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("j.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.Type != nil {
		q = q.Where("j.type = ?", *opts.Type)
	}
	if opts.UserDID != nil {
		q = q.Where("j.user_did = ?", *opts.UserDID)
	}
	return q
}

// HasActiveJob reports whether the user has a pending or in-progress job of
// the given type.
func (svc *Service) HasActiveJob(ctx context.Context, jobType, userDID string) (bool, error) {
	return svc.hasActive(ctx, jobType, &userDID)
}

// HasActiveJobByType is HasActiveJob across all users.
func (svc *Service) HasActiveJobByType(ctx context.Context, jobType string) (bool, error) {
	return svc.hasActive(ctx, jobType, nil)
}

func (svc *Service) hasActive(ctx context.Context, jobType string, userDID *string) (bool, error) {
	q := svc.db.NewSelect().
		Model((*models.Job)(nil)).
		Where("type = ?", jobType).
		Where("status IN (?)", bun.In(activeStatuses))
	if userDID != nil {
		q = q.Where("user_did = ?", *userDID)
	}
	exists, err := q.Exists(ctx)
	return exists, errors.WithStack(err)
}

// UpdateJob writes the named columns and bumps updated_at.
func (svc *Service) UpdateJob(ctx context.Context, job *models.Job, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}
	job.UpdatedAt = svc.now()
	if job.DataParsed != nil && containsColumn(opts.Columns, "data") {
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}

	columns := append(append([]string{}, opts.Columns...), "updated_at")
	res, err := svc.db.NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Job")
	}
	return nil
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func decode(job *models.Job) error {
	if job.Data == "" {
		return nil
	}
	return errors.WithStack(job.UnmarshalData())
}

func decodeAll(list []*models.Job) error {
	for _, job := range list {
		if err := decode(job); err != nil {
			return err
		}
	}
	return nil
}
