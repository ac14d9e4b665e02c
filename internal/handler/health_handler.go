package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz 存活探针（liveness probe）
// 检查服务是否正在运行，总是返回 200（除非服务完全崩溃）
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// Readiness 就绪探针（readiness probe）
// 启动超过 Warmup 且数据库可用时才返回就绪
func (h *Handler) Readiness(c *gin.Context) {
	elapsed := time.Since(h.startTime)
	if elapsed < h.Warmup {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"type":      "readiness",
			"message":   "服务启动中，等待就绪",
			"elapsed":   elapsed.String(),
			"remaining": (h.Warmup - elapsed).String(),
		})
		return
	}

	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "数据库未初始化",
		})
		return
	}

	if err := h.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "数据库连接失败",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"type":    "readiness",
		"message": "服务已就绪",
		"uptime":  elapsed.String(),
	})
}
