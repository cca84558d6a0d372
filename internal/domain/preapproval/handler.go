package preapproval

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	read.GET("/pre-approvals", h.List)
	read.GET("/pre-approvals/:id", h.Get)
	read.GET("/members/:id/pre-approvals", h.ListByMember)
	read.GET("/pre-approval-rules", h.ListRules)

	submit := api.Group("", auth.RequireRole("admin", "claims"))
	submit.POST("/pre-approvals", h.Submit)

	review := api.Group("", auth.RequireRole("admin", "medical"))
	review.PUT("/pre-approvals/:id", h.Review)

	rules := api.Group("", auth.RequireRole("admin"))
	rules.POST("/pre-approval-rules", h.CreateRule)
	rules.PUT("/pre-approval-rules/:id", h.UpdateRule)
	rules.DELETE("/pre-approval-rules/:id", h.DeactivateRule)
}

func (h *Handler) Submit(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.Submit(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Find(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// reviewRequest is the decision payload: APPROVED needs an amount,
// REJECTED a reason.
type reviewRequest struct {
	Status          string           `json:"status"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
}

func (h *Handler) Review(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ctx := c.Request().Context()

	var p *PreApproval
	switch req.Status {
	case StatusApproved:
		amount := decimal.Zero
		if req.ApprovedAmount != nil {
			amount = *req.ApprovedAmount
		}
		p, err = h.svc.Approve(ctx, actor, id, amount, req.Notes)
	case StatusRejected:
		p, err = h.svc.Reject(ctx, actor, id, req.RejectionReason)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be APPROVED or REJECTED")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByMember(c echo.Context) error {
	memberID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByMember(c.Request().Context(), memberID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Rule handlers --

func (h *Handler) CreateRule(c echo.Context) error {
	var r Rule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateRule(c.Request().Context(), actor, &r); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r Rule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.UpdateRule(c.Request().Context(), actor, &r); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeactivateRule(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeactivateRule(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListRules(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRules(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
