package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/repository"
	"github.com/concord-io/concord/pkg/services"
)

// NegotiationAPI drives negotiation sessions over HTTP
type NegotiationAPI struct {
	negotiator services.NegotiationCoordinator
	store      repository.Store
}

func NewNegotiationAPI(negotiator services.NegotiationCoordinator, store repository.Store) *NegotiationAPI {
	return &NegotiationAPI{negotiator: negotiator, store: store}
}

// RegisterRoutes registers negotiation endpoints
func (a *NegotiationAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/conflicts/:id/negotiations", a.initiate)

	sessions := router.Group("/negotiations")
	sessions.GET("/:id", a.getSession)
	sessions.POST("/:id/rounds", a.runRound)
	sessions.POST("/:id/complete", a.runToCompletion)
	sessions.POST("/:id/approve", a.approve)
	sessions.POST("/:id/reject", a.reject)
	sessions.POST("/:id/escalate", a.escalate)
}

func (a *NegotiationAPI) initiate(c *gin.Context) {
	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}
	session, err := a.negotiator.Initiate(c.Request.Context(), conflictID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (a *NegotiationAPI) getSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	session, err := a.store.Sessions().Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (a *NegotiationAPI) runRound(c *gin.Context) {
	a.drive(c, a.negotiator.RunRound)
}

func (a *NegotiationAPI) runToCompletion(c *gin.Context) {
	a.drive(c, a.negotiator.RunToCompletion)
}

func (a *NegotiationAPI) approve(c *gin.Context) {
	a.drive(c, a.negotiator.ApplyPendingResolution)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *NegotiationAPI) reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	session, err := a.negotiator.RejectPendingResolution(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (a *NegotiationAPI) escalate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual escalation"
	}

	session, err := a.negotiator.Escalate(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// drive runs one session-advancing call shared by several endpoints.
func (a *NegotiationAPI) drive(c *gin.Context, fn func(context.Context, uuid.UUID) (*models.NegotiationSession, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	session, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
