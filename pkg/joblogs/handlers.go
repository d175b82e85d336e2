package joblogs

import (
	"net/http"

	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	jobLogService *Service
	jobService    *jobs.Service
}

type listLogsResponse struct {
	Job  *models.Job      `json:"job"`
	Logs []*models.JobLog `json:"logs"`
}

// listLogs is polled by the import progress view; after_id lets it fetch
// only lines it hasn't seen.
func (h *handler) listLogs(c echo.Context) error {
	job, err := jobs.OwnedJob(c, h.jobService)
	if err != nil {
		return err
	}

	// Bind params.
	params := ListJobLogsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	logs, err := h.jobLogService.ListJobLogs(c.Request().Context(), ListJobLogsOptions{
		JobID:   job.ID,
		AfterID: params.AfterID,
		Levels:  params.Level,
		Search:  params.Search,
	})
	if err != nil {
		return err
	}

	return errors.WithStack(c.JSON(http.StatusOK, listLogsResponse{Job: job, Logs: logs}))
}
