package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"outpost/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for unit tests.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return gormDB, mock
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// --- humanizeParam (pure function, no HTTP) ---

func TestHumanizeParam(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"postId", "post ID"},
		{"accountId", "account ID"},
		{"inReplyToId", "in reply to ID"},
		{"handle", "handle"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, humanizeParam(tt.param))
		})
	}
}

// --- parsePage ---

func pageApp() *fiber.App {
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		p := parsePage(c, 25)
		return c.JSON(fiber.Map{"limit": p.Limit, "cursor": p.Cursor})
	})
	return app
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  float64
		cursor float64
	}{
		{"defaults", "", 25, 0},
		{"custom", "?limit=10&cursor=30", 10, 30},
		{"limit capped", "?limit=1000", maxPaginationLimit, 0},
		{"non-positive limit", "?limit=-3", 25, 0},
		{"garbage cursor", "?cursor=abc", 25, 0},
	}
	app := pageApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)

			var body map[string]float64
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.limit, body["limit"])
			assert.Equal(t, tt.cursor, body["cursor"])
		})
	}
}

// --- parseID ---

func idApp(param string) *fiber.App {
	app := fiber.New()
	app.Get("/items/:"+param, func(c *fiber.Ctx) error {
		id, err := parseID(c, param)
		if err != nil {
			return nil
		}
		return c.JSON(fiber.Map{"id": id})
	})
	return app
}

func TestParseID_ValidID(t *testing.T) {
	resp, err := idApp("id").Test(httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]float64
	decodeBody(t, resp, &body)
	assert.Equal(t, float64(42), body["id"])
}

func TestParseID_Rejects(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-4"} {
		t.Run(raw, func(t *testing.T) {
			resp, err := idApp("id").Test(httptest.NewRequest(http.MethodGet, "/items/"+raw, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]interface{}
			decodeBody(t, resp, &body)
			assert.Equal(t, "Invalid ID", body["error"])
		})
	}
}

func TestParseID_ContextSpecificErrorMessage(t *testing.T) {
	tests := []struct {
		param       string
		expectedMsg string
	}{
		{"id", "Invalid ID"},
		{"postId", "Invalid post ID"},
		{"accountId", "Invalid account ID"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			resp, err := idApp(tt.param).Test(httptest.NewRequest(http.MethodGet, "/items/abc", nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]interface{}
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.expectedMsg, body["error"])
		})
	}
}

// --- pathParam / currentUserID ---

func TestPathParam_Unescapes(t *testing.T) {
	app := fiber.New()
	app.Get("/follow/:handle", func(c *fiber.Ctx) error {
		return c.SendString(pathParam(c, "handle"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/follow/alice%40remote.example", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "alice@remote.example", string(body))
}

func TestCurrentUserID_Missing(t *testing.T) {
	app := fiber.New()
	app.Get("/me", func(c *fiber.Ctx) error {
		if _, err := currentUserID(c); err != nil {
			return nil
		}
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// --- ReadinessCheck ---

func TestReadinessCheck_DatabaseDown(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	s := &Server{db: db, config: &config.Config{}}
	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "unhealthy", body.Checks["database"])
	assert.Equal(t, "disabled", body.Checks["redis"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadinessCheck_QueueWithoutRedis(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectPing()

	s := &Server{db: db, config: &config.Config{QueueEnabled: true}}
	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "unavailable", body.Checks["redis"])
}
