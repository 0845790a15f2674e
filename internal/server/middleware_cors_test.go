package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"outpost/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiLimit = 300

func limitedApp(method string) *fiber.App {
	srv := &Server{
		config: &config.Config{
			AllowedOrigins: "http://localhost:5173",
		},
	}

	app := fiber.New()
	srv.SetupMiddleware(app)
	app.Add(method, "/api/v1/limited", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Add(method, "/inbox", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func exhaust(t *testing.T, app *fiber.App, method, path string) {
	t.Helper()
	for i := 0; i < apiLimit; i++ {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Origin", "http://localhost:5173")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestSetupMiddleware_RateLimitedResponseIncludesCORSHeaders(t *testing.T) {
	app := limitedApp(http.MethodGet)

	// Exhaust the limiter and assert the final response still carries CORS headers.
	exhaust(t, app, http.MethodGet, "/api/v1/limited")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/limited", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSetupMiddleware_LimiterOnlyCoversClientAPI(t *testing.T) {
	app := limitedApp(http.MethodPost)
	exhaust(t, app, http.MethodPost, "/api/v1/limited")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/inbox", nil), -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSetupMiddleware_PreflightBypassesLimiter(t *testing.T) {
	app := limitedApp(http.MethodPost)

	// Saturate limiter using non-OPTIONS requests.
	exhaust(t, app, http.MethodPost, "/api/v1/limited")

	// Verify POST is now rate-limited.
	limitedReq := httptest.NewRequest(http.MethodPost, "/api/v1/limited", nil)
	limitedReq.Header.Set("Origin", "http://localhost:5173")
	limitedResp, err := app.Test(limitedReq, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, limitedResp.StatusCode)
	_ = limitedResp.Body.Close()

	// Preflight should still pass and include CORS headers.
	preflightReq := httptest.NewRequest(http.MethodOptions, "/api/v1/limited", nil)
	preflightReq.Header.Set("Origin", "http://localhost:5173")
	preflightReq.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflightReq.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	preflightResp, err := app.Test(preflightReq, -1)
	require.NoError(t, err)
	defer func() { _ = preflightResp.Body.Close() }()

	assert.Equal(t, fiber.StatusNoContent, preflightResp.StatusCode)
	assert.Equal(t, "http://localhost:5173", preflightResp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, preflightResp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
