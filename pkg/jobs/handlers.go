package jobs

import (
	"net/http"
	"strconv"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	jobService *Service
}

// OwnedJob loads the job named by the :id path param, scoped to the
// signed-in user. Someone else's job reads as missing.
func OwnedJob(c echo.Context, jobService *Service) (*models.Job, error) {
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return nil, errcodes.Unauthorized("Authentication required")
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return nil, errcodes.NotFound("Job")
	}

	job, err := jobService.RetrieveJob(c.Request().Context(), RetrieveJobOptions{
		ID:      &id,
		UserDID: &sess.DID,
	})
	if err != nil {
		return nil, err
	}
	return Redact(job), nil
}

// Redact drops the raw CSV from import payloads before a job leaves the
// server. Progress counters stay.
func Redact(job *models.Job) *models.Job {
	if data, ok := job.DataParsed.(*models.JobImportData); ok && data.CSV != "" {
		cp := *data
		cp.CSV = ""
		job.DataParsed = &cp
	}
	return job
}

func (h *handler) retrieve(c echo.Context) error {
	job, err := OwnedJob(c, h.jobService)
	if err != nil {
		return err
	}
	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return errcodes.Unauthorized("Authentication required")
	}

	// Bind params.
	params := ListJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	list, total, err := h.jobService.ListJobsWithTotal(ctx, ListJobsOptions{
		Limit:       &params.Limit,
		Offset:      &params.Offset,
		Statuses:    params.Status,
		Type:        params.Type,
		UserDID:     &sess.DID,
		NewestFirst: true,
	})
	if err != nil {
		return err
	}
	for _, job := range list {
		Redact(job)
	}

	return errors.WithStack(c.JSON(http.StatusOK, ListJobsResponse{
		Jobs:  list,
		Total: total,
	}))
}
