package usage

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medisure/tpa/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "claims", "medical"))
	read.GET("/members/:id/benefit-usage", h.ListByMember)
}

// ListByMember returns the member's ledger rows for the requested year
// (default: current year).
func (h *Handler) ListByMember(c echo.Context) error {
	memberID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	year := time.Now().Year()
	if y := c.QueryParam("year"); y != "" {
		year, err = strconv.Atoi(y)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
	}
	items, err := h.svc.ListByMember(c.Request().Context(), memberID, year)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
