package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smm-publisher/infrastructure/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth("secret"))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func TestAuth(t *testing.T) {
	valid, err := utils.GenerateOperatorToken("u-1", "editor", time.Hour, "secret")
	require.NoError(t, err)
	subjectOnly, err := utils.GenerateToken(map[string]interface{}{"sub": "u-2"}, "secret")
	require.NoError(t, err)
	expired, err := utils.GenerateToken(map[string]interface{}{"iss": "u-1", "exp": time.Now().Add(-time.Hour).Unix()}, "secret")
	require.NoError(t, err)
	foreign, err := utils.GenerateToken(map[string]interface{}{"iss": "u-1"}, "other")
	require.NoError(t, err)
	anonymous, err := utils.GenerateToken(map[string]interface{}{"scope": "x"}, "secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "valid token", header: "Bearer " + valid, code: http.StatusOK, body: "u-1"},
		{name: "subject fallback", header: "Bearer " + subjectOnly, code: http.StatusOK, body: "u-2"},
		{name: "missing header", header: "", code: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", code: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer abc", code: http.StatusUnauthorized, body: "That's not even a token"},
		{name: "expired", header: "Bearer " + expired, code: http.StatusUnauthorized, body: "Timing is everything"},
		{name: "wrong secret", header: "Bearer " + foreign, code: http.StatusUnauthorized},
		{name: "no identity", header: "Bearer " + anonymous, code: http.StatusUnauthorized},
	}
	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
		})
	}
}
