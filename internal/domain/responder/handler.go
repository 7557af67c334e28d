package responder

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	directory *Directory
}

func NewHandler(directory *Directory) *Handler {
	return &Handler{directory: directory}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/responders", h.List)
	api.GET("/responders/:id", h.Get)
	api.GET("/responders/:id/load", h.Load)
	api.PUT("/responders/:id", h.Upsert)
	api.PUT("/responders/:id/status", h.SetStatus)
	api.DELETE("/responders/:id", h.Remove)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.directory.List())
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.directory.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "responder not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Load(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	load, err := h.directory.Load(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "responder not found")
	}
	return c.JSON(http.StatusOK, map[string]int{"load": load})
}

func (h *Handler) Upsert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r Responder
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if r.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := h.directory.Upsert(c.Request().Context(), r); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case StatusAvailable, StatusResponding, StatusOnBreak, StatusOffShift:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	if err := h.directory.SetStatus(c.Request().Context(), id, req.Status); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "responder not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Remove(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.directory.Remove(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
