// Package joblogs stores the per-job log lines shown on the import progress
// page.
package joblogs

import (
	"context"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// maxPage caps a single poll so a huge import can't return every line at
// once. Clients page forward with AfterID.
const maxPage = 500

type ListJobLogsOptions struct {
	JobID   int
	AfterID *int
	Levels  []string
	// Search matches message or data text, case-insensitively.
	Search *string
}

type Service struct {
	db  *bun.DB
	now func() time.Time
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (svc *Service) CreateJobLog(ctx context.Context, entry *models.JobLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = svc.now()
	}
	_, err := svc.db.NewInsert().Model(entry).Returning("*").Exec(ctx)
	return errors.WithStack(err)
}

// ListJobLogs returns a job's lines oldest first.
func (svc *Service) ListJobLogs(ctx context.Context, opts ListJobLogsOptions) ([]*models.JobLog, error) {
	logs := []*models.JobLog{}
	q := svc.db.NewSelect().
		Model(&logs).
		Where("jl.job_id = ?", opts.JobID).
		Order("jl.id ASC").
		Limit(maxPage)

	if opts.AfterID != nil {
		q = q.Where("jl.id > ?", *opts.AfterID)
	}
	if len(opts.Levels) > 0 {
		q = q.Where("jl.level IN (?)", bun.In(opts.Levels))
	}
	if opts.Search != nil {
		if term := strings.TrimSpace(*opts.Search); term != "" {
			pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
			q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.
					Where(`LOWER(jl.message) LIKE ? ESCAPE '\'`, pattern).
					WhereOr(`LOWER(COALESCE(jl.data, '')) LIKE ? ESCAPE '\'`, pattern)
			})
		}
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return logs, nil
}

// PruneJobLogs deletes lines written before the cutoff and reports how many
// went.
func (svc *Service) PruneJobLogs(ctx context.Context, before time.Time) (int, error) {
	res, err := svc.db.NewDelete().
		Model((*models.JobLog)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	return int(n), errors.WithStack(err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
