package member

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
	read.GET("/members/:id", h.Get)
	read.GET("/members", h.List)
	read.GET("/members/:id/conditions", h.ListMemberConditions)
	read.GET("/chronic-conditions", h.ListConditions)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/members", h.Create)
	write.PUT("/members/:id", h.Update)
	write.DELETE("/members/:id", h.Deactivate)
	write.POST("/chronic-conditions", h.CreateCondition)
	write.POST("/members/:id/conditions/:conditionId", h.LinkCondition)
}

func (h *Handler) Create(c echo.Context) error {
	var m Member
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), actor, &m); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.Find(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) List(c echo.Context) error {
	policyID, err := uuid.Parse(c.QueryParam("policy_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "policy_id query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPolicy(c.Request().Context(), policyID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var m Member
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = id
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Update(c.Request().Context(), actor, &m); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Deactivate(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateCondition(c echo.Context) error {
	var cond ChronicCondition
	if err := c.Bind(&cond); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateCondition(c.Request().Context(), actor, &cond); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cond)
}

func (h *Handler) ListConditions(c echo.Context) error {
	items, err := h.svc.ListConditions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) LinkCondition(c echo.Context) error {
	memberID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	conditionID, err := uuid.Parse(c.Param("conditionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid condition id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.LinkCondition(c.Request().Context(), actor, memberID, conditionID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMemberConditions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListMemberConditions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
