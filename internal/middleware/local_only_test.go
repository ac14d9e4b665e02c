package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestLocalOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", LocalOnly("10.0.0.0/8", "not-a-cidr"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		remote string
		want   int
	}{
		{remote: "127.0.0.1:5000", want: http.StatusNoContent},
		{remote: "[::1]:5000", want: http.StatusNoContent},
		{remote: "10.1.2.3:5000", want: http.StatusNoContent},
		{remote: "192.0.2.1:5000", want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.RemoteAddr = tc.remote
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code)
		})
	}
}
