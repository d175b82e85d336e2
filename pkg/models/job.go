package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeImport = "import"
	JobTypeEnrich = "enrich"
	// JobTypeFollowSync resyncs one user's follows from the AppView.
	JobTypeFollowSync = "follow_sync"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int         `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Type       string      `bun:",nullzero" json:"type"`
	Status     string      `bun:",nullzero" json:"status"`
	Data       string      `bun:",nullzero" json:"-"`
	DataParsed interface{} `bun:"-" json:"data"`
	Progress   int         `json:"progress"`
	ProcessID  *string     `json:"process_id,omitempty"`
	UserDID    *string     `bun:"user_did" json:"user_did,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeImport:
		job.DataParsed = &JobImportData{}
	case JobTypeEnrich:
		job.DataParsed = &JobEnrichData{}
	case JobTypeFollowSync:
		job.DataParsed = &JobFollowSyncData{}
	default:
		return errors.Errorf("unknown job type %q", job.Type)
	}

	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// JobImportData carries a Goodreads CSV export to import for one user.
type JobImportData struct {
	Filename string `json:"filename"`
	CSV      string `json:"csv,omitempty"`
	Total    int    `json:"total"`
	Imported int    `json:"imported"`
	Failed   int    `json:"failed"`
}

// JobEnrichData asks the worker to enrich a batch of catalog rows.
type JobEnrichData struct {
	HiveIDs []string `json:"hive_ids"`
}

type JobFollowSyncData struct {
	DID string `json:"did"`
}

const (
	JobLogLevelInfo  = "info"
	JobLogLevelWarn  = "warn"
	JobLogLevelError = "error"
	JobLogLevelFatal = "fatal"
)

type JobLog struct {
	bun.BaseModel `bun:"table:job_logs,alias:jl"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	JobID      int       `bun:",nullzero" json:"job_id"`
	Level      string    `bun:",nullzero" json:"level"`
	Message    string    `bun:",nullzero" json:"message"`
	Data       *string   `json:"data,omitempty"`
	StackTrace *string   `json:"stack_trace,omitempty"`
}
