package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ProductLabsUS/Flusso-Automation/internal/dispatch"
	"github.com/ProductLabsUS/Flusso-Automation/internal/storage"
	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

type webhookRequest struct {
	TicketID any `json:"ticket_id"`
}

// WebhookResponse 同步模式的返回体
type WebhookResponse struct {
	TicketID          string                `json:"ticket_id"`
	ResolutionStatus  string                `json:"resolution_status"`
	Category          string                `json:"category"`
	CustomerType      workflow.CustomerType `json:"customer_type"`
	Tags              []string              `json:"tags"`
	WorkflowCompleted bool                  `json:"workflow_completed"`
}

// ticketIDFrom 接受整数或字符串形式的工单号
func ticketIDFrom(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case float64:
		if id <= 0 || id != math.Trunc(id) {
			return "", false
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (s *Server) webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	ticketID, ok := ticketIDFrom(req.TicketID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing ticket_id in payload"})
		return
	}
	if s.disp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "workflow not initialized", "workflow_completed": false})
		return
	}

	s.logger.Info("webhook received", "ticket_id", ticketID)
	ctx := c.Request.Context()

	wait := !s.cfg.Async
	if v, err := strconv.ParseBool(c.Query("wait")); err == nil {
		wait = v
	}

	if !wait {
		if err := s.disp.Submit(ctx, ticketID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "ticket_id": ticketID, "queued": false})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ticket_id": ticketID, "queued": true})
		return
	}

	res, err := s.disp.Run(ctx, ticketID)
	if err != nil {
		s.logger.Error("workflow error", "ticket_id", ticketID, "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "workflow_completed": false})
		return
	}
	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, WebhookResponse{
		TicketID:          ticketID,
		ResolutionStatus:  res.Status.Wire(),
		Category:          res.Category,
		CustomerType:      res.CustomerType,
		Tags:              tags,
		WorkflowCompleted: res.Completed,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidTicketID):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrStopped), errors.Is(err, dispatch.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit storage not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.runs.QueryRunRecords(c.Request.Context(), storage.RunQuery{
		TicketID: c.Param("ticket_id"),
		Limit:    limit,
		Desc:     true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]workflow.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.ToRecord()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, rec)
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": c.Param("ticket_id"), "runs": out})
}
