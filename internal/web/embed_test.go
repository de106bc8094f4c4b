package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRoutes(t *testing.T) {
	require.True(t, HasEmbeddedFiles())

	e := echo.New()
	require.NoError(t, RegisterStaticRoutes(e))

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<title>Servo Bridge</title>"},
		{"/channels/2", http.StatusOK, "<title>Servo Bridge</title>"},
		{"/index.html", http.StatusOK, "Servo Bridge"},
		{"/api/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}
