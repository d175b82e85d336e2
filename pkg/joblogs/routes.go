package joblogs

import (
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers job log routes on the jobs group.
func RegisterRoutes(jobsGroup *echo.Group, jobLogService *Service, jobService *jobs.Service) {
	h := &handler{
		jobLogService: jobLogService,
		jobService:    jobService,
	}

	// GET /api/jobs/:id/logs
	jobsGroup.GET("/:id/logs", h.listLogs)
}
