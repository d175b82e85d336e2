package joblogs

import (
	"context"
	"runtime/debug"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// maxDataValueLen caps string values kept in job_logs.data. Import rows can
// carry whole reviews.
const maxDataValueLen = 1024

// JobLogger writes to the process log and to the job's rows in job_logs, so
// users can follow an import from the import page. Writes to job_logs are
// best effort.
type JobLogger struct {
	ctx     context.Context
	job     *models.Job
	service *Service
	log     logger.Logger
}

func (svc *Service) NewJobLogger(ctx context.Context, job *models.Job, log logger.Logger) *JobLogger {
	fields := logger.Data{"job_id": job.ID, "job_type": job.Type}
	if job.UserDID != nil {
		fields["did"] = *job.UserDID
	}
	return &JobLogger{
		ctx:     ctx,
		job:     job,
		service: svc,
		log:     log.Data(fields),
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data, false)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data, false)
}

// Error logs err and keeps the stack in job_logs.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)
	l.persist(models.JobLogLevelError, msg, withError(data, err), true)
}

// Fatal is for panics recovered by the worker.
func (l *JobLogger) Fatal(msg string, err error, data logger.Data) {
	data = withError(data, err)
	l.log.Error(msg, data)
	l.persist(models.JobLogLevelFatal, msg, data, true)
}

func (l *JobLogger) persist(level, msg string, data logger.Data, withStack bool) {
	row := &models.JobLog{
		JobID:   l.job.ID,
		Level:   level,
		Message: msg,
	}
	if encoded, ok := encodeData(data); ok {
		row.Data = &encoded
	}
	if withStack {
		stack := string(debug.Stack())
		row.StackTrace = &stack
	}

	if err := l.service.CreateJobLog(l.ctx, row); err != nil {
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func withError(data logger.Data, err error) logger.Data {
	if err == nil {
		return data
	}
	out := logger.Data{"error": err.Error()}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func encodeData(data logger.Data) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	truncated := make(logger.Data, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			v = truncateMiddle(s, maxDataValueLen)
		}
		truncated[k] = v
	}
	b, err := json.Marshal(truncated)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
