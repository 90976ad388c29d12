package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/service/appointment"
	"github.com/gin-gonic/gin"
)

type AppointmentHandler struct {
	service appointment.AppointmentUseCase
	limiter gin.HandlerFunc
}

type slotBookingRequest struct {
	CustomerID      int64   `json:"customerId" binding:"omitempty,gt=0"`
	VehicleID       int64   `json:"vehicleId" binding:"required,gt=0"`
	ServiceID       int64   `json:"serviceId" binding:"omitempty,gt=0"`
	ServiceIDs      []int64 `json:"serviceIds" binding:"omitempty,dive,gt=0"`
	AppointmentDate string  `json:"appointmentDate" binding:"required,date"`
	SessionPeriod   string  `json:"sessionPeriod" binding:"required,session"`
	SlotNumber      int     `json:"slotNumber" binding:"required,gte=1"`
	CustomerNotes   string  `json:"customerNotes" binding:"max=1000"`
}

type quoteRequest struct {
	CustomerID    int64   `json:"customerId" binding:"omitempty,gt=0"`
	VehicleID     int64   `json:"vehicleId" binding:"required,gt=0"`
	ServiceIDs    []int64 `json:"serviceIds" binding:"required,min=1,dive,gt=0"`
	CustomerNotes string  `json:"customerNotes" binding:"max=1000"`
}

type statusRequest struct {
	Status          string  `json:"status" binding:"required"`
	TechnicianNotes *string `json:"technicianNotes" binding:"omitempty,max=1000"`
}

type assigneesRequest struct {
	EmployeeIDs []int64 `json:"employeeIds" binding:"required,dive,gt=0"`
}

type appointmentResponse struct {
	ID                  int64     `json:"id"`
	CustomerID          int64     `json:"customerId"`
	VehicleID           int64     `json:"vehicleId"`
	ServiceIDs          []int64   `json:"serviceIds"`
	AppointmentDate     string    `json:"appointmentDate,omitempty"`
	SessionPeriod       string    `json:"sessionPeriod,omitempty"`
	SlotNumber          int       `json:"slotNumber,omitempty"`
	Status              string    `json:"status"`
	CustomerNotes       string    `json:"customerNotes,omitempty"`
	TechnicianNotes     string    `json:"technicianNotes,omitempty"`
	AssignedEmployeeIDs []int64   `json:"assignedEmployeeIds"`
	Version             int       `json:"version"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	NextStatuses        []string  `json:"nextStatuses"`
}

// NewAppointmentHandler applies limiter, when given, to the endpoints that
// create appointments.
func NewAppointmentHandler(service appointment.AppointmentUseCase, limiter gin.HandlerFunc) *AppointmentHandler {
	if limiter == nil {
		limiter = func(c *gin.Context) { c.Next() }
	}
	return &AppointmentHandler{service: service, limiter: limiter}
}

func (h *AppointmentHandler) Register(router *gin.RouterGroup) {
	router.POST("/slot-based", h.limiter, h.book)
	router.POST("/quote", h.limiter, h.quote)
	router.PUT("/:id/status", h.updateStatus)
	router.PUT("/:id/assignees", h.assign)
	router.GET("", h.list)
	router.GET("/:id", h.get)
}

func (h *AppointmentHandler) book(c *gin.Context) {
	var req slotBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	appt, err := h.service.Book(c.Request.Context(), appointment.BookInput{
		Actor:         actorFrom(c),
		CustomerID:    req.CustomerID,
		VehicleID:     req.VehicleID,
		ServiceIDs:    mergeServiceIDs(req.ServiceID, req.ServiceIDs),
		Date:          req.AppointmentDate,
		Session:       req.SessionPeriod,
		SlotNumber:    req.SlotNumber,
		CustomerNotes: req.CustomerNotes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAppointmentResponse(appt, actorFrom(c)))
}

func (h *AppointmentHandler) quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	appt, err := h.service.RequestQuote(c.Request.Context(), appointment.QuoteInput{
		Actor:         actorFrom(c),
		CustomerID:    req.CustomerID,
		VehicleID:     req.VehicleID,
		ServiceIDs:    mergeServiceIDs(0, req.ServiceIDs),
		CustomerNotes: req.CustomerNotes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAppointmentResponse(appt, actorFrom(c)))
}

func (h *AppointmentHandler) updateStatus(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	appt, err := h.service.Transition(c.Request.Context(), appointment.TransitionInput{
		ID:              id,
		Status:          domain.AppointmentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Actor:           actorFrom(c),
		TechnicianNotes: req.TechnicianNotes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAppointmentResponse(appt, actorFrom(c)))
}

func (h *AppointmentHandler) assign(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req assigneesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	appt, err := h.service.AssignEmployees(c.Request.Context(), id, req.EmployeeIDs, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAppointmentResponse(appt, actorFrom(c)))
}

func (h *AppointmentHandler) get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	appt, err := h.service.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAppointmentResponse(appt, actorFrom(c)))
}

// list accepts ?status=A&status=B as well as ?status=A,B.
func (h *AppointmentHandler) list(c *gin.Context) {
	var input appointment.ListInput
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				input.Statuses = append(input.Statuses, domain.AppointmentStatus(strings.ToUpper(s)))
			}
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: invalid limit %q", domain.ErrInvalidRequest, raw))
			return
		}
		input.Limit = limit
	}

	actor := actorFrom(c)
	appts, err := h.service.List(c.Request.Context(), input, actor)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]appointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i], actor))
	}
	c.JSON(http.StatusOK, resp)
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", domain.ErrInvalidRequest, c.Param("id"))
	}
	return id, nil
}

func mergeServiceIDs(single int64, many []int64) []int64 {
	out := make([]int64, 0, len(many)+1)
	seen := make(map[int64]bool, len(many)+1)
	if single > 0 {
		out = append(out, single)
		seen[single] = true
	}
	for _, id := range many {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func toAppointmentResponse(a *domain.Appointment, actor domain.Actor) appointmentResponse {
	resp := appointmentResponse{
		ID:                  a.ID,
		CustomerID:          a.CustomerID,
		VehicleID:           a.VehicleID,
		ServiceIDs:          nonNil(a.ServiceIDs),
		Status:              string(a.Status),
		CustomerNotes:       a.CustomerNotes,
		TechnicianNotes:     a.TechnicianNotes,
		AssignedEmployeeIDs: nonNil(a.AssignedEmployeeIDs),
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
		NextStatuses:        []string{},
	}
	if r := a.Reservation; r != nil {
		resp.AppointmentDate = r.Date.Format(calendar.DateFormat)
		resp.SessionPeriod = string(r.Session)
		resp.SlotNumber = r.SlotNumber
	}
	for _, s := range domain.NextStatuses(a.Status, actor.Role) {
		resp.NextStatuses = append(resp.NextStatuses, string(s))
	}
	return resp
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
