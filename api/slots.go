package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/service/availability"
	"github.com/gin-gonic/gin"
)

type SlotHandler struct {
	service availability.AvailabilityUseCase
}

type availableSlotsQuery struct {
	Date    string `form:"date" binding:"required,date"`
	Session string `form:"session" binding:"required,session"`
}

type slotResponse struct {
	SlotNumber  int    `json:"slotNumber"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsAvailable bool   `json:"isAvailable"`
}

func NewSlotHandler(service availability.AvailabilityUseCase) *SlotHandler {
	return &SlotHandler{service: service}
}

func (h *SlotHandler) Register(router *gin.RouterGroup) {
	router.GET("/available-slots", h.list)
}

func (h *SlotHandler) list(c *gin.Context) {
	var q availableSlotsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, bindError(err))
		return
	}
	// both already passed the binding validators
	date, _ := time.Parse(calendar.DateFormat, q.Date)
	session, _ := calendar.ParseSession(q.Session)

	slots, err := h.service.GetAvailableSlots(c.Request.Context(), date, session)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotResponse{
			SlotNumber:  s.SlotNumber,
			StartTime:   s.Start.Format(calendar.ClockFormat),
			EndTime:     s.End.Format(calendar.ClockFormat),
			IsAvailable: s.IsAvailable,
		})
	}
	c.JSON(http.StatusOK, resp)
}
