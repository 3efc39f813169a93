package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/callbridge-backend/internal/clients/redis"
)

type CacheHandler struct {
	cache redis.Cache
}

func NewCacheHandler(cache redis.Cache) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// GET /api/cache/keys?pattern=company:*
func (h *CacheHandler) Keys(c *gin.Context) {
	if h.cache == nil {
		RespondOK(c, gin.H{"keys": []string{}, "enabled": false})
		return
	}
	keys, err := h.cache.Keys(c.Request.Context(), c.Query("pattern"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "cache_keys_failed", err)
		return
	}
	RespondOK(c, gin.H{"keys": keys, "enabled": true})
}
