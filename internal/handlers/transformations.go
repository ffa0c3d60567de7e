package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/middleware"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/remote"
	"video-effects-backend/internal/supabase"
)

// TransformationService is the coordinator as seen by the HTTP layer.
type TransformationService interface {
	Submit(ctx context.Context, sourcePath, effectID string, ownerID uuid.UUID) (*models.Transformation, error)
	Get(ctx context.Context, id uuid.UUID) (models.Snapshot, error)
	IssueAccessToken(id uuid.UUID) (remote.AccessToken, error)
	Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.Snapshot, error)
}

type TransformationsHandler struct {
	service TransformationService
	log     *logrus.Entry
}

func NewTransformationsHandler(service TransformationService, log *logrus.Entry) *TransformationsHandler {
	if log == nil {
		log = logging.Component(nil, "handlers")
	}
	return &TransformationsHandler{service: service, log: log}
}

// Create godoc
// @Summary     Submit a transformation
// @Description Creates a pending transformation for an uploaded video. The insert triggers the worker.
// @Tags        transformations
// @Accept      json
// @Produce     json
// @Param       request body models.CreateTransformationRequest true "Source object and effect"
// @Success     201 {object} models.TransformationResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /transformations [post]
func (h *TransformationsHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return
	}

	var req models.CreateTransformationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	effect, err := effects.Lookup(req.Effect)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unknown effect", Message: err.Error()})
		return
	}
	if effect.IsNone() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "no effect selected"})
		return
	}
	if !strings.HasPrefix(req.SourcePath, userID.String()+"/") {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid source path",
			Message: "source_path must be inside the caller's folder",
		})
		return
	}

	record, err := h.service.Submit(c.Request.Context(), req.SourcePath, req.Effect, userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("submit failed")
		if errors.Is(err, remote.ErrSubmissionFailed) {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "submission failed", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create transformation", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.TransformationResponse{Snapshot: models.Snapshot{Transformation: *record}})
}

// Get godoc
// @Summary     Get a transformation
// @Description Returns the caller's transformation, with a signed result URL once completed.
// @Tags        transformations
// @Produce     json
// @Param       id path string true "Transformation ID"
// @Success     200 {object} models.TransformationResponse
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /transformations/{id} [get]
func (h *TransformationsHandler) Get(c *gin.Context) {
	snap, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.TransformationResponse{Snapshot: snap})
}

// IssueToken godoc
// @Summary     Issue a status token
// @Description Returns a short-lived read-only token for one transformation's event stream.
// @Tags        transformations
// @Produce     json
// @Param       id path string true "Transformation ID"
// @Success     200 {object} models.AccessTokenResponse
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /transformations/{id}/token [post]
func (h *TransformationsHandler) IssueToken(c *gin.Context) {
	snap, ok := h.owned(c)
	if !ok {
		return
	}
	tok, err := h.service.IssueAccessToken(snap.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to issue token", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.AccessTokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// Events godoc
// @Summary     Stream transformation updates
// @Description Server-sent events, one "snapshot" event per record change. Closes after completed or failed.
// @Tags        transformations
// @Produce     text/event-stream
// @Param       id path string true "Transformation ID"
// @Param       token query string false "Scoped access token"
// @Success     200 {object} models.Snapshot
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /transformations/{id}/events [get]
func (h *TransformationsHandler) Events(c *gin.Context) {
	id := c.MustGet(middleware.TransformationIDKey).(uuid.UUID)

	stream, err := h.service.Subscribe(c.Request.Context(), id)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Status(http.StatusOK)
	for snap := range stream {
		c.SSEvent("snapshot", snap)
		c.Writer.Flush()
	}
}

func (h *TransformationsHandler) owned(c *gin.Context) (models.Snapshot, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return models.Snapshot{}, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transformation id"})
		return models.Snapshot{}, false
	}
	snap, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondLookupError(c, err)
		return models.Snapshot{}, false
	}
	if snap.UserID != userID {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "transformation not found"})
		return models.Snapshot{}, false
	}
	return snap, true
}

func (h *TransformationsHandler) respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, supabase.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "transformation not found"})
		return
	}
	h.log.WithError(err).Error("transformation lookup failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to get transformation", Message: err.Error()})
}
