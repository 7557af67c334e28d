package event

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carealert/carealert/pkg/pagination"
)

// ReportInput is a new event report.
type ReportInput struct {
	Kind        Kind
	Severity    Severity
	Location    string
	Description string
	SubjectID   *uuid.UUID
	DetectedAt  time.Time
	Actor       string
}

// Coordinator drives the escalation pipeline. Implemented by the engine;
// defined here so the HTTP layer does not depend on it directly.
type Coordinator interface {
	Report(ctx context.Context, in ReportInput) (*Event, error)
	Acknowledge(ctx context.Context, id, responderID uuid.UUID, note string) (*Event, error)
	Transition(ctx context.Context, id uuid.UUID, action Action, actor, note string) (*Event, error)
}

type Handler struct {
	coord    Coordinator
	registry *Registry
}

func NewHandler(coord Coordinator, registry *Registry) *Handler {
	return &Handler{coord: coord, registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/events", h.Report)
	api.GET("/events", h.List)
	api.GET("/events/open", h.ListOpen)
	api.GET("/events/:id", h.Get)
	api.GET("/events/:id/history", h.History)
	api.POST("/events/:id/acknowledge", h.Acknowledge)
	api.POST("/events/:id/start-response", h.action(ActionStartResponse))
	api.POST("/events/:id/contain", h.action(ActionContain))
	api.POST("/events/:id/resolve", h.action(ActionResolve))
	api.POST("/events/:id/close", h.action(ActionClose))
	api.POST("/events/:id/cancel", h.action(ActionCancel))
}

type reportRequest struct {
	Kind        string     `json:"kind"`
	Severity    string     `json:"severity"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	SubjectID   *uuid.UUID `json:"subject_id"`
	DetectedAt  time.Time  `json:"detected_at"`
	ReportedBy  string     `json:"reported_by"`
}

func (h *Handler) Report(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	severity, err := ParseSeverity(req.Severity)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ev, err := h.coord.Report(c.Request().Context(), ReportInput{
		Kind:        kind,
		Severity:    severity,
		Location:    req.Location,
		Description: req.Description,
		SubjectID:   req.SubjectID,
		DetectedAt:  req.DetectedAt,
		Actor:       req.ReportedBy,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ev)
}

type ackRequest struct {
	ResponderID uuid.UUID `json:"responder_id"`
	Note        string    `json:"note"`
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req ackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResponderID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "responder_id is required")
	}

	ev, err := h.coord.Acknowledge(c.Request().Context(), id, req.ResponderID, req.Note)
	if err != nil {
		return transitionError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

type actionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (h *Handler) action(a Action) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var req actionRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if req.Actor == "" {
			req.Actor = "unknown"
		}

		ev, err := h.coord.Transition(c.Request().Context(), id, a, req.Actor, req.Note)
		if err != nil {
			return transitionError(err)
		}
		return c.JSON(http.StatusOK, ev)
	}
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ev, err := h.registry.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.registry.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ListOpen(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.registry.ListOpen(c.Request().Context(), f))
}

func (h *Handler) List(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.registry.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("kind"); v != "" {
		kind, err := ParseKind(v)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	if v := c.QueryParam("severity"); v != "" {
		severity, err := ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.Severity = severity
	}
	if v := c.QueryParam("state"); v != "" {
		f.State = State(v)
	}
	if v := c.QueryParam("subject_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, err
		}
		f.Subject = &id
	}
	return f, nil
}

// transitionError maps domain errors onto HTTP statuses: conflicts for
// illegal transitions, 422 for failed preconditions.
func transitionError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPreconditionFailed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
