package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/courier/internal/processor"
	"github.com/zulandar/courier/internal/queue"
	"github.com/zulandar/courier/internal/ratelimit"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, proc *processor.Processor) {
	router.POST("/schedule-message", handleScheduleMessage(db))
	router.POST("/cancel-message", handleCancelMessage(db))
	router.POST("/process-queue", handleProcessQueue(proc))
	router.POST("/inbound-activity", handleInboundActivity(db))
	router.GET("/health", handleHealth(db, proc))
}

// scheduleRequest is the body of POST /schedule-message.
type scheduleRequest struct {
	UserID           string          `json:"userId"`
	AgentID          string          `json:"agentId"`
	MessageData      json.RawMessage `json:"messageData"`
	FinalText        string          `json:"finalText"`
	Priority         string          `json:"priority"`
	CanDelay         *bool           `json:"canDelay"`
	ScheduledFor     *time.Time      `json:"scheduledFor"`
	SequenceID       string          `json:"sequenceId"`
	SequencePosition int             `json:"sequencePosition"`
	SequenceTotal    int             `json:"sequenceTotal"`
}

func handleScheduleMessage(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body"})
			return
		}
		if req.UserID == "" || req.AgentID == "" || len(req.MessageData) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "userId, agentId, and messageData are required",
			})
			return
		}

		opts := queue.EnqueueOpts{
			Priority:         req.Priority,
			FinalText:        req.FinalText,
			SequenceID:       req.SequenceID,
			SequencePosition: req.SequencePosition,
			SequenceTotal:    req.SequenceTotal,
		}
		// canDelay=false demands the next tick; a future scheduledFor is
		// honored only for delayable messages.
		if req.ScheduledFor != nil && (req.CanDelay == nil || *req.CanDelay) {
			opts.ScheduledFor = *req.ScheduledFor
		}

		msg, err := queue.Enqueue(db, req.UserID, req.AgentID, string(req.MessageData), opts)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"messageId": msg.ID,
			"status":    msg.Status,
		})
	}
}

func handleCancelMessage(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			MessageID string `json:"messageId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "messageId is required"})
			return
		}
		if err := queue.Cancel(db, req.MessageID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleProcessQueue runs the requested tick before answering, so the
// returned lastProcessTime is this tick's, not a stale one.
func handleProcessQueue(proc *processor.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := proc.ProcessDueMessages(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		snap := proc.Stats().Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"lastProcessTime": snap.LastProcessTime,
		})
	}
}

func handleInboundActivity(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId is required"})
			return
		}
		if err := ratelimit.RecordInbound(db, req.UserID, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func handleHealth(db *gorm.DB, proc *processor.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := proc.Stats().Snapshot()

		queued, err := queue.CountQueued(db)
		status := "ok"
		if err != nil {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"stats": gin.H{
				"messagesQueued":    queued,
				"messagesProcessed": snap.MessagesProcessed,
				"messagesBlocked":   snap.MessagesBlocked,
				"dispatchFailures":  snap.DispatchFailures,
				"lastProcessTime":   snap.LastProcessTime,
				"processorRunning":  snap.ProcessorRunning,
			},
		})
	}
}
