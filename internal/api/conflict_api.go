package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/repository"
	"github.com/concord-io/concord/pkg/services"
)

// ConflictAPI handles conflict inspection and on-demand scans
type ConflictAPI struct {
	detector services.ConflictDetector
	store    repository.Store
}

func NewConflictAPI(detector services.ConflictDetector, store repository.Store) *ConflictAPI {
	return &ConflictAPI{detector: detector, store: store}
}

// RegisterRoutes registers conflict endpoints under /conflicts
func (a *ConflictAPI) RegisterRoutes(router *gin.RouterGroup) {
	conflicts := router.Group("/conflicts")
	conflicts.GET("", a.listOpen)
	conflicts.GET("/:id", a.getConflict)
	conflicts.POST("/scan", a.scan)
}

func (a *ConflictAPI) listOpen(c *gin.Context) {
	open, err := a.store.Conflicts().ListOpen(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": open})
}

func (a *ConflictAPI) getConflict(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}
	conflict, err := a.store.Conflicts().Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflict": conflict})
}

func (a *ConflictAPI) scan(c *gin.Context) {
	found, err := a.detector.DetectConflicts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": found})
}
