package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/callbridge-backend/internal/services"
)

type QueueHandler struct {
	jobs services.JobService
}

func NewQueueHandler(jobs services.JobService) *QueueHandler {
	return &QueueHandler{jobs: jobs}
}

// GET /api/queue/counts
func (h *QueueHandler) Counts(c *gin.Context) {
	counts, err := h.jobs.QueueCounts(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "queue_counts_failed", err)
		return
	}
	RespondOK(c, gin.H{"counts": counts})
}

// GET /api/queue/repeatable
func (h *QueueHandler) Repeatable(c *gin.Context) {
	info, err := h.jobs.Repeatable(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "repeatable_failed", err)
		return
	}
	RespondOK(c, gin.H{"repeatable": info})
}

// POST /api/queue/sync-now
func (h *QueueHandler) SyncNow(c *gin.Context) {
	job, err := h.jobs.TriggerSyncNow(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "sync_now_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
