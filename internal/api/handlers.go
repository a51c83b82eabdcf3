package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/madcadaver/dbot/internal/agent"
	"github.com/madcadaver/dbot/internal/models"
	"github.com/madcadaver/dbot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HealthCheck pings one backing store.
type HealthCheck func(ctx context.Context) error

// API provides the gateway handlers: message ingestion, reply subscription
// and health.
type API struct {
	coordinator *agent.Coordinator
	conns       *ConnectionManager
	health      map[string]HealthCheck
	logger      *logger.Logger
	upgrader    websocket.Upgrader
}

// NewAPI creates a new API handler.
func NewAPI(coordinator *agent.Coordinator, conns *ConnectionManager, health map[string]HealthCheck) *API {
	return &API{
		coordinator: coordinator,
		conns:       conns,
		health:      health,
		logger:      logger.New("gateway", "", ""),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // In production, implement a proper origin check.
			},
		},
	}
}

// messageRequest is the inbound payload from a chat connector. Attachment
// data arrives base64-encoded, the default JSON encoding for byte slices.
type messageRequest struct {
	UserID      string        `json:"user_id" binding:"required"`
	Username    string        `json:"username"`
	ChannelID   string        `json:"channel_id" binding:"required"`
	Text        string        `json:"text" binding:"required"`
	DM          bool          `json:"dm"`
	Attachments []models.Blob `json:"attachments"`
}

// PostMessageHandler runs one turn for an inbound message and returns the
// reply. A thread already mid-turn in reject mode answers 429.
func (a *API) PostMessageHandler(c *gin.Context) {
	var payload messageRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	inbound := &models.InboundMessage{
		UserID:      payload.UserID,
		Username:    payload.Username,
		ChannelID:   payload.ChannelID,
		Text:        payload.Text,
		IsDM:        payload.DM,
		Attachments: payload.Attachments,
	}

	result, err := a.coordinator.Handle(c.Request.Context(), inbound)
	if err != nil {
		if errors.Is(err, models.ErrThreadBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "A reply for this conversation is already in progress"})
			return
		}
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		return
	}

	a.pushReply(payload.ChannelID, result)

	c.JSON(http.StatusOK, gin.H{
		"reply":        result.Reply,
		"state":        result.State,
		"iterations":   result.Iterations,
		"artifact_url": result.ArtifactURL,
	})
}

// pushReply fans the reply out to WebSocket subscribers of the channel.
func (a *API) pushReply(channelID string, result *models.TurnResult) {
	payload, err := json.Marshal(gin.H{
		"channel_id":   channelID,
		"reply":        result.Reply,
		"artifact_url": result.ArtifactURL,
		"timestamp":    time.Now().Unix(),
	})
	if err != nil {
		return
	}
	a.conns.Broadcast(channelID, payload)
}

// WebSocketHandler subscribes a connection to a channel's replies.
func (a *API) WebSocketHandler(c *gin.Context) {
	channelID := c.Query("channel_id")
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to upgrade WebSocket connection")
		return
	}

	a.conns.Add(channelID, conn)

	go func() {
		defer a.conns.Remove(channelID, conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				break
			}
		}
	}()
}

// HealthzHandler pings every registered store and reports per-store status.
func (a *API) HealthzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range a.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "stores": checks})
}
