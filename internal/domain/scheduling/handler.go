package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/httperr"
	"github.com/clinic/booking/internal/platform/jobs"
)

// SweepPath is the admin endpoint that triggers a retention sweep. It is
// exempt from the request timeout.
const SweepPath = "/api/v1/admin/sweep"

// SweepFunc runs a retention sweep and returns the number of deleted rows.
type SweepFunc func(ctx context.Context) (int64, error)

type Handler struct {
	availability *AvailabilityService
	appointments *AppointmentService
	sweep        SweepFunc
}

// NewHandler wires the HTTP endpoints. A nil sweep runs
// SweepExpiredAppointments directly.
func NewHandler(availability *AvailabilityService, appointments *AppointmentService, sweep SweepFunc) *Handler {
	if sweep == nil {
		sweep = appointments.SweepExpiredAppointments
	}
	return &Handler{availability: availability, appointments: appointments, sweep: sweep}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: every clinical and front-desk role
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar))
	readGroup.GET("/availability/:id", h.GetAvailability)
	readGroup.GET("/practitioners/:id/availability", h.ListAvailability)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/practitioners/:id/appointments", h.ListAppointmentsByOwner)
	readGroup.GET("/practitioners/:id/appointments/today", h.ListTodayAppointments)
	readGroup.GET("/practitioners/:id/appointments/overlapping", h.CountOverlappingAppointments)
	readGroup.GET("/patients/:id/appointments", h.ListAppointmentsByPatient)

	// Availability is published by the practitioner it belongs to
	availWrite := api.Group("", auth.RequireRole(auth.RolePhysician))
	availWrite.POST("/availability", h.CreateAvailability)
	availWrite.DELETE("/availability/:id", h.DeleteAvailability)

	apptWrite := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleRegistrar))
	apptWrite.POST("/appointments", h.CreateAppointment)
	apptWrite.DELETE("/appointments/:id", h.DeleteAppointment)

	adminGroup := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/sweep", h.Sweep)
}

// -- Availability Handlers --

type availabilityRequest struct {
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_body", err.Error())
	}
	owner, err := resolveOwner(c, req.PractitionerID)
	if err != nil {
		return err
	}
	a, err := h.availability.CreateAvailability(c.Request().Context(), owner, req.StartTime, req.EndTime)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.availability.GetAvailability(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var requested *uuid.UUID
	if q := c.QueryParam("practitioner_id"); q != "" {
		pid, err := uuid.Parse(q)
		if err != nil {
			return httperr.New(http.StatusBadRequest, "invalid_id", "invalid practitioner_id")
		}
		requested = &pid
	}
	owner, err := resolveOwner(c, requested)
	if err != nil {
		return err
	}
	if err := h.availability.DeleteAvailability(c.Request().Context(), owner, id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListAvailability lists a practitioner's windows, restricted to one
// calendar day when ?day=YYYY-MM-DD is given.
func (h *Handler) ListAvailability(c echo.Context) error {
	owner, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var items []*Availability
	if day := c.QueryParam("day"); day != "" {
		d, perr := ParseDay(day, time.Local)
		if perr != nil {
			return httperr.New(http.StatusBadRequest, "invalid_day", "day must be formatted as "+DayLayout)
		}
		items, err = h.availability.ListAvailabilityByDay(ctx, owner, d)
	} else {
		items, err = h.availability.ListAvailability(ctx, owner)
	}
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

// -- Appointment Handlers --

type appointmentRequest struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(http.StatusBadRequest, "invalid_body", err.Error())
	}
	if req.PractitionerID == uuid.Nil || req.PatientID == uuid.Nil {
		return httperr.New(http.StatusBadRequest, "invalid_body", "practitioner_id and patient_id are required")
	}
	a, err := h.appointments.CreateAppointment(c.Request().Context(),
		req.PractitionerID, req.PatientID, req.StartTime, req.EndTime)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.appointments.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.appointments.DeleteAppointment(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAppointmentsByOwner(c echo.Context) error {
	owner, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.appointments.ListAppointmentsByOwner(c.Request().Context(), owner)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) ListTodayAppointments(c echo.Context) error {
	owner, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.appointments.ListTodayAppointments(c.Request().Context(), owner)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) ListAppointmentsByPatient(c echo.Context) error {
	patient, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.appointments.ListAppointmentsByPatient(c.Request().Context(), patient)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) CountOverlappingAppointments(c echo.Context) error {
	owner, err := parseID(c)
	if err != nil {
		return err
	}
	start, serr := time.Parse(time.RFC3339, c.QueryParam("start"))
	end, eerr := time.Parse(time.RFC3339, c.QueryParam("end"))
	if serr != nil || eerr != nil {
		return httperr.New(http.StatusBadRequest, "invalid_query", "start and end must be RFC 3339 timestamps")
	}
	n, err := h.appointments.CountOverlappingAppointments(c.Request().Context(), owner, start, end)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// -- Admin Handlers --

func (h *Handler) Sweep(c echo.Context) error {
	n, err := h.sweep(c.Request().Context())
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) || errors.Is(err, jobs.ErrLockHeld) {
			return httperr.New(http.StatusConflict, "sweep_in_progress", err.Error())
		}
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// -- Helpers --

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidInterval:
		return http.StatusBadRequest
	case KindOwnerNotFound, KindPatientNotFound, KindNotFound:
		return http.StatusNotFound
	case KindConflictingWindow, KindDuplicateBooking, KindHasDependentBookings:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) mapError(c echo.Context, err error) error {
	kind := KindOf(err)
	if kind == KindStorageFailure {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("scheduling storage failure")
		return httperr.Wrap(HTTPStatus(kind), string(kind), "storage unavailable, retry later", err)
	}
	var e *Error
	msg := string(kind)
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	return httperr.New(HTTPStatus(kind), string(kind), msg)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, httperr.New(http.StatusBadRequest, "invalid_id", "invalid id")
	}
	return id, nil
}

// resolveOwner returns the practitioner an availability write acts for: the
// caller itself, or any practitioner when the caller is an admin.
func resolveOwner(c echo.Context, requested *uuid.UUID) (uuid.UUID, error) {
	ctx := c.Request().Context()
	subject, subjErr := uuid.Parse(auth.UserIDFromContext(ctx))

	if requested != nil && *requested != uuid.Nil {
		if auth.HasRole(ctx, auth.RoleAdmin) || (subjErr == nil && subject == *requested) {
			return *requested, nil
		}
		return uuid.Nil, httperr.New(http.StatusForbidden, "forbidden", "cannot manage another practitioner's availability")
	}
	if subjErr != nil {
		return uuid.Nil, httperr.New(http.StatusBadRequest, "invalid_body", "practitioner_id is required")
	}
	return subject, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
