package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/subscription"
)

const healthText = "Nexus chat server is running!"

// handleWebSocket upgrades the request and hands the connection to the hub.
func (a *App) handleWebSocket(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		a.log.Warn("websocket upgrade failed",
			zap.String("origin", c.GetHeader("Origin")), zap.Error(err))
		return
	}

	if _, err := a.hub.Register(conn, c.Request.RemoteAddr, c.Request.UserAgent()); err != nil {
		a.log.Warn("rejected websocket connection", zap.Error(err))
	}
}

func (a *App) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, healthText)
}

// handleMessages returns every retained message newer than ?since=, or the
// whole log when since is absent. Service workers that have not seen a
// message yet send "undefined" or "null".
func (a *App) handleMessages(c *gin.Context) {
	var since *time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" && raw != "undefined" && raw != "null" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		since = &ts
	}
	c.JSON(http.StatusOK, a.messages.Since(since))
}

func (a *App) handleNewUser(c *gin.Context) {
	c.JSON(http.StatusOK, a.issuer.NewUser())
}

func (a *App) handleVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": a.vapid.Public})
}

type subscribeRequest struct {
	Subscription json.RawMessage `json:"subscription"`
	UserID       string          `json:"userId"`
}

func (a *App) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing subscription or userId"})
		return
	}
	if err := a.subscriptions.Put(req.UserID, req.Subscription); errors.Is(err, subscription.ErrInvalidEndpoint) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing subscription or userId"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscription added successfully"})
}

func (a *App) handleUnsubscribe(c *gin.Context) {
	a.subscriptions.Remove(c.Param("userId"))
	c.Status(http.StatusNoContent)
}

func (a *App) handlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"users":       a.presence.Snapshot(),
		"connections": a.hub.ClientCount(),
	})
}
