package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/services"
)

// DependencyAPI handles dependency-graph endpoints
type DependencyAPI struct {
	scheduler services.Scheduler
}

func NewDependencyAPI(scheduler services.Scheduler) *DependencyAPI {
	return &DependencyAPI{scheduler: scheduler}
}

// RegisterRoutes registers graph endpoints under /dependencies and /items
func (a *DependencyAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/dependencies", a.addDependency)
	items := router.Group("/items")
	items.GET("/:id/impact", a.cascadingImpact)
	items.POST("/:id/reschedule", a.reschedule)
}

type dependencyRequest struct {
	SourceID uuid.UUID     `json:"source_id" binding:"required"`
	TargetID uuid.UUID     `json:"target_id" binding:"required"`
	Lag      time.Duration `json:"lag"`
}

func (a *DependencyAPI) addDependency(c *gin.Context) {
	var req dependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	edge, err := a.scheduler.AddDependency(c.Request.Context(), req.SourceID, req.TargetID, req.Lag)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"edge": edge})
}

func (a *DependencyAPI) cascadingImpact(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	newStart, err := time.Parse(time.RFC3339, c.Query("new_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_start must be RFC3339"})
		return
	}

	impacted, err := a.scheduler.GetCascadingImpact(c.Request.Context(), id, newStart)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"impacted": impacted})
}

type rescheduleRequest struct {
	NewStart time.Time `json:"new_start" binding:"required"`
}

func (a *DependencyAPI) reschedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes, err := a.scheduler.PropagateChanges(c.Request.Context(), id, req.NewStart)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}
