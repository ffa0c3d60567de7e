package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/config"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/worker"
)

type Dispatcher interface {
	Dispatch(p worker.Payload) error
}

// WebhookHandler receives database insert events for the transformations
// table and schedules the worker.
type WebhookHandler struct {
	config     *config.Config
	dispatcher Dispatcher
	log        *logrus.Entry
}

func NewWebhookHandler(cfg *config.Config, dispatcher Dispatcher, log *logrus.Entry) *WebhookHandler {
	if log == nil {
		log = logging.Component(nil, "webhook")
	}
	return &WebhookHandler{config: cfg, dispatcher: dispatcher, log: log}
}

// HandleTransformationCreated godoc
// @Summary     Transformation insert webhook
// @Description Database webhook fired on insert. Hands the new record to the worker pool and returns immediately.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Authorization header string true "Bearer <WEBHOOK_SECRET>"
// @Success     202 {object} models.JobAcceptedResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /webhooks/transformations [post]
func (h *WebhookHandler) HandleTransformationCreated(c *gin.Context) {
	if h.config.WebhookSecret == "" {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "webhook secret not configured"})
		return
	}

	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "missing authorization token"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.WebhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid authorization token"})
		return
	}

	var event models.TransformationCreatedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to parse event", Message: err.Error()})
		return
	}

	if event.Type != "INSERT" || (event.Table != "" && event.Table != "transformations") {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	id, err := uuid.Parse(event.Record.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid record id", Message: err.Error()})
		return
	}
	payload := worker.Payload{
		TransformationID: id,
		VideoPath:        event.Record.SourcePath,
		Effect:           event.Record.Effect,
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid record", Message: err.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(payload); err != nil {
		if errors.Is(err, worker.ErrDispatcherClosed) {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "shutting down"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to schedule job", Message: err.Error()})
		return
	}

	h.log.WithField("transformation_id", id).Info("job scheduled")
	c.JSON(http.StatusAccepted, models.JobAcceptedResponse{Status: "accepted", TransformationID: id.String()})
}
