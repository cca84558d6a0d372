package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medisure/tpa/internal/platform/auth"
	"github.com/medisure/tpa/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "claims", "medical"))
	read.GET("/policies", h.ListPolicies)
	read.GET("/policies/:id", h.GetPolicy)
	read.GET("/policies/:id/benefits", h.ListBenefits)
	read.GET("/benefits/:id", h.GetBenefit)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/policies", h.CreatePolicy)
	write.PUT("/policies/:id", h.UpdatePolicy)
	write.DELETE("/policies/:id", h.DeactivatePolicy)
	write.POST("/policies/:id/benefits", h.CreateBenefit)
	write.PUT("/benefits/:id", h.UpdateBenefit)
	write.DELETE("/benefits/:id", h.DeactivateBenefit)
}

// -- Policy handlers --

func (h *Handler) CreatePolicy(c echo.Context) error {
	var p Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreatePolicy(c.Request().Context(), actor, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPolicy(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPolicies(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("include_inactive") != "true"
	items, total, err := h.svc.ListPolicies(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.UpdatePolicy(c.Request().Context(), actor, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivatePolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeactivatePolicy(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Benefit handlers --

func (h *Handler) CreateBenefit(c echo.Context) error {
	policyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid policy id")
	}
	var b BenefitDefinition
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.PolicyID = policyID
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateBenefit(c.Request().Context(), actor, &b); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBenefit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBenefit(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBenefits(c echo.Context) error {
	policyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid policy id")
	}
	activeOnly := c.QueryParam("include_inactive") != "true"
	items, err := h.svc.ListBenefitsByPolicy(c.Request().Context(), policyID, activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateBenefit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var b BenefitDefinition
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.ID = id
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.UpdateBenefit(c.Request().Context(), actor, &b); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeactivateBenefit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeactivateBenefit(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
