package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

// TestHealthHandler verifies the liveness endpoint answers "ok" as plain text.
func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rr := httptest.NewRecorder()

	HealthHandler(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", rr.Body.String())
}

// TestSetupRoutes checks routing of health, upgrade-less root and unknown
// paths through a real listener.
func TestSetupRoutes(t *testing.T) {
	hub := NewHub(Config{})
	srv := testhelpers.CreateTestServer(t, SetupRoutes(hub))

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{name: "health", path: "/healthz", status: http.StatusOK, body: "ok"},
		{name: "root without upgrade", path: "/", status: http.StatusNotFound},
		{name: "unknown path", path: "/nope", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, http.MethodGet, srv.URL+tt.path)
			testhelpers.AssertStatusCode(t, resp, tt.status)
			if tt.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	hub := NewHub(Config{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
			rr := httptest.NewRecorder()

			RootHandler(hub).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		})
	}
}

func TestCreateServerTimeouts(t *testing.T) {
	srv := CreateServer(":0", http.NewServeMux())
	assert.Equal(t, ":0", srv.Addr)
	assert.Positive(t, srv.ReadTimeout)
	assert.Positive(t, srv.WriteTimeout)
	assert.Positive(t, srv.IdleTimeout)
}
