package importer

import (
	"io"
	"net/http"
	"strconv"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	importService *Service
}

func (h *handler) queue(c echo.Context) (*models.Job, error) {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return nil, errcodes.Unauthorized("Authentication required")
	}

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, MaxUploadBytes+1<<20)

	// Bind params.
	params := ImportPayload{}
	if err := c.Bind(&params); err != nil {
		return nil, errors.WithStack(err)
	}
	header, ok := params.FormFiles[uploadField]
	if !ok {
		return nil, errcodes.ValidationError("Choose a Goodreads export to upload.")
	}
	if header.Size > MaxUploadBytes {
		return nil, errcodes.ValidationError("The export is too large.")
	}

	f, err := header.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return h.importService.Queue(ctx, sess.DID, header.Filename, data)
}

func (h *handler) importForm(c echo.Context) error {
	job, err := h.queue(c)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/import?job="+strconv.Itoa(job.ID))
}

func (h *handler) importJSON(c echo.Context) error {
	job, err := h.queue(c)
	if err != nil {
		return err
	}
	return errors.WithStack(c.JSON(http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "Import queued",
		"job":     job,
	}))
}
