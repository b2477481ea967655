package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/services"
)

// BookingAPI handles booking admission endpoints
type BookingAPI struct {
	scheduler services.Scheduler
}

func NewBookingAPI(scheduler services.Scheduler) *BookingAPI {
	return &BookingAPI{scheduler: scheduler}
}

// RegisterRoutes registers booking endpoints under /bookings
func (a *BookingAPI) RegisterRoutes(router *gin.RouterGroup) {
	bookings := router.Group("/bookings")
	bookings.POST("", a.requestBooking)
	bookings.POST("/suggest", a.suggestTimes)
	bookings.POST("/:id/cancel", a.cancelBooking)
	bookings.GET("/:id/conflicts", a.conflictHistory)
}

// bookingRequest is the wire shape for a booking submission.
type bookingRequest struct {
	OwnerParty string              `json:"owner_party" binding:"required"`
	Title      string              `json:"title" binding:"required"`
	StartTime  time.Time           `json:"start_time" binding:"required"`
	Duration   time.Duration       `json:"duration" binding:"required"`
	Location   string              `json:"location"`
	Virtual    bool                `json:"virtual"`
	Attendees  models.AttendeeList `json:"attendees"`
	Metadata   models.JSONMap      `json:"metadata"`
}

func (r bookingRequest) toItem() *models.ScheduledItem {
	return &models.ScheduledItem{
		OwnerParty: r.OwnerParty,
		Title:      r.Title,
		StartTime:  r.StartTime,
		Duration:   r.Duration,
		Location:   r.Location,
		Virtual:    r.Virtual,
		Attendees:  r.Attendees,
		Metadata:   r.Metadata,
	}
}

func (a *BookingAPI) requestBooking(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := a.scheduler.RequestBooking(c.Request.Context(), req.toItem())
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	switch decision.Outcome {
	case services.BookingDenied:
		status = http.StatusConflict
	case services.BookingPendingNegotiation:
		status = http.StatusAccepted
	}
	c.JSON(status, decision)
}

type suggestRequest struct {
	bookingRequest
	MaxSuggestions int `json:"max_suggestions"`
}

func (a *BookingAPI) suggestTimes(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	times, err := a.scheduler.SuggestAlternativeTimes(c.Request.Context(), req.toItem(), req.MaxSuggestions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": times})
}

func (a *BookingAPI) cancelBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}
	if err := a.scheduler.CancelBooking(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *BookingAPI) conflictHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}
	history, err := a.scheduler.ConflictHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": history})
}
