package export

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, exportService *Service, adminToken string) {
	h := &handler{exportService: exportService, token: adminToken}

	e.GET("/admin/export", h.export, h.requireToken)
}
