package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/httperr"
	"github.com/clinic/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/practitioners", h.ListPractitioners)
	readGroup.GET("/practitioners/:id", h.GetPractitioner)

	patientWrite := api.Group("", auth.RequireRole(auth.RoleRegistrar))
	patientWrite.POST("/patients", h.CreatePatient)

	practitionerWrite := api.Group("", auth.RequireRole(auth.RoleAdmin))
	practitionerWrite.POST("/practitioners", h.CreatePractitioner)
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_body", err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return h.mapError(c, err, "patient")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_id", "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.mapError(c, err, "patient")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}

// -- Practitioner Handlers --

func (h *Handler) CreatePractitioner(c echo.Context) error {
	var p Practitioner
	if err := c.Bind(&p); err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_body", err.Error())
	}
	if err := h.svc.CreatePractitioner(c.Request().Context(), &p); err != nil {
		return h.mapError(c, err, "practitioner")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_id", "invalid id")
	}
	p, err := h.svc.GetPractitioner(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "practitioner")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPractitioners(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPractitioners(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.mapError(c, err, "practitioner")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) mapError(c echo.Context, err error, resource string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httperr.New(http.StatusNotFound, "not_found", resource+" not found")
	case errors.Is(err, ErrInvalid):
		return httperr.New(http.StatusBadRequest, "invalid_input", err.Error())
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("resource", resource).Msg("identity storage failure")
		return httperr.Wrap(http.StatusServiceUnavailable, "storage_failure", "storage unavailable", err)
	}
}
