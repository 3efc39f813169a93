package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/callbridge-backend/internal/repos"
	"github.com/yungbote/callbridge-backend/internal/services"
)

type CallsHandler struct {
	callRepo repos.CallRepo
	embRepo  repos.CallTranscriptEmbeddingRepo
	procLog  repos.ProcessingLogRepo
	grouping services.CallGroupingService
}

func NewCallsHandler(callRepo repos.CallRepo, embRepo repos.CallTranscriptEmbeddingRepo, procLog repos.ProcessingLogRepo, grouping services.CallGroupingService) *CallsHandler {
	return &CallsHandler{
		callRepo: callRepo,
		embRepo:  embRepo,
		procLog:  procLog,
		grouping: grouping,
	}
}

// GET /api/calls/:id
func (h *CallsHandler) GetCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_call_id", err)
		return
	}
	call, err := h.callRepo.GetByID(c.Request.Context(), nil, callID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "call_lookup_failed", err)
		return
	}
	if call == nil {
		RespondError(c, http.StatusNotFound, "call_not_found", fmt.Errorf("call %s not found", callID))
		return
	}

	var group []any
	if call.CallGroupID != nil {
		members, err := h.callRepo.ListByGroup(c.Request.Context(), nil, *call.CallGroupID)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "group_lookup_failed", err)
			return
		}
		for _, m := range members {
			group = append(group, gin.H{
				"id":             m.ID,
				"call_sid":       m.CallSID,
				"status":         m.Status,
				"start_time":     m.StartTime,
				"call_leg_order": m.CallLegOrder,
			})
		}
	}

	embeddings, err := h.embRepo.CountByCallID(c.Request.Context(), nil, call.ID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "embedding_count_failed", err)
		return
	}

	RespondOK(c, gin.H{"call": call, "group": group, "embedding_count": embeddings})
}

// GET /api/calls/:id/logs
func (h *CallsHandler) GetCallLogs(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_call_id", err)
		return
	}
	entries, err := h.procLog.ListByCallID(c.Request.Context(), nil, callID, 200)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "logs_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"logs": entries})
}

type linkCallsRequest struct {
	CallIDs []string `json:"call_ids" binding:"required"`
}

// POST /api/calls/link
func (h *CallsHandler) LinkCalls(c *gin.Context) {
	var req linkCallsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.CallIDs))
	for _, raw := range req.CallIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_call_id", err)
			return
		}
		ids = append(ids, id)
	}

	groupID, err := h.grouping.LinkCalls(c.Request.Context(), ids)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "link_failed", err)
		return
	}
	RespondOK(c, gin.H{"call_group_id": groupID})
}

// POST /api/calls/:id/unlink
func (h *CallsHandler) UnlinkCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_call_id", err)
		return
	}
	if err := h.grouping.UnlinkCall(c.Request.Context(), callID); err != nil {
		RespondError(c, http.StatusBadRequest, "unlink_failed", err)
		return
	}
	RespondOK(c, gin.H{"unlinked": callID})
}
