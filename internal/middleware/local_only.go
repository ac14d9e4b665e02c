package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly 中间件：只允许本地访问（127.0.0.1 或 ::1），以及 allowed 中的网段（CIDR）。
// 无法解析的网段会被忽略。
func LocalOnly(allowed ...string) gin.HandlerFunc {
	var nets []*net.IPNet
	for _, cidr := range allowed {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}

	return func(c *gin.Context) {
		// 获取客户端 IP
		ip := net.ParseIP(c.ClientIP())
		if ip == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "禁止访问"})
			return
		}

		if ip.IsLoopback() {
			c.Next()
			return
		}
		for _, n := range nets {
			if n.Contains(ip) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "禁止访问：仅允许本地访问"})
	}
}
