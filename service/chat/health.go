package chat

import (
	"context"
	"net/http"

	"PChat/logger"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleHealth GET /health
func (s *Server) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.conf.OpTimeout)
	defer cancel()

	st, err := s.store.Stats(ctx)
	if err != nil {
		logger.Warn("[health] store stats failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"database": "disconnected",
			"message":  errs.Reason(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"database":             "connected",
		"onlineUsers":          s.deps.Registry.Count(),
		"totalUsers":           st.TotalUsers,
		"totalMessages":        st.TotalMessages,
		"totalPrivateMessages": st.TotalPrivateMessages,
	})
}
