package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		key    string
		header string
		bearer string
		want   int
	}{
		{name: "disabled", key: "", header: "", want: http.StatusOK},
		{name: "missing", key: "secret", header: "", want: http.StatusUnauthorized},
		{name: "wrong", key: "secret", header: "nope", want: http.StatusForbidden},
		{name: "valid", key: "secret", header: " secret ", want: http.StatusOK},
		{name: "bearer", key: "secret", bearer: "Bearer secret", want: http.StatusOK},
		{name: "wrong bearer", key: "secret", bearer: "Bearer other", want: http.StatusForbidden},
		{name: "basic scheme", key: "secret", bearer: "Basic secret", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/p", APIKeyAuth(tc.key), func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}
			if tc.bearer != "" {
				req.Header.Set("Authorization", tc.bearer)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
