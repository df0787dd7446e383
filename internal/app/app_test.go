package app

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docx-renderer/internal/config"
	"docx-renderer/internal/docx/docxtest"
	"docx-renderer/internal/domain"
	"docx-renderer/internal/handlers"
	"docx-renderer/internal/infra/tokens"
)

func renderRequest(t *testing.T, template []byte, data string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile(domain.TemplateField, "t.docx")
	require.NoError(t, err)
	_, err = fw.Write(template)
	require.NoError(t, err)
	require.NoError(t, w.WriteField(domain.DataField, data))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/render-docx", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSetupApp_Routes(t *testing.T) {
	app := SetupApp(Deps{Config: config.Default()})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","service":"docx-renderer"}`, string(body))

	for _, path := range []string{"/livez", "/readyz", "/metrics"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}

	tpl := docxtest.Build(t, docxtest.P("Dear {name},"))
	resp, err = app.Test(renderRequest(t, tpl, `{"name":"Grace"}`), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	doc, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Dear Grace,", docxtest.DocumentText(t, doc))
}

func TestSetupApp_NotFoundIsJSON(t *testing.T) {
	app := SetupApp(Deps{Config: config.Default()})

	resp, err := app.Test(httptest.NewRequest("GET", "/does-not-exist", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var out domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Not Found", out.Error)
	assert.Equal(t, "Cannot GET /does-not-exist", out.Details)
}

func TestSetupApp_BodyLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BodyLimitMB = 1
	app := SetupApp(Deps{Config: cfg})

	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	resp, err := app.Test(renderRequest(t, big, `{}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSetupApp_RenderCache(t *testing.T) {
	mrs := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.Cache.RenderCacheEnabled = true
	reg := prometheus.NewRegistry()
	app := SetupApp(Deps{Config: cfg, Redis: rdb, Registry: reg})

	tpl := docxtest.Build(t, docxtest.P("{greeting}"))
	for i := 0; i < 2; i++ {
		resp, err := app.Test(renderRequest(t, tpl, `{"greeting":"hi"}`), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	assert.Len(t, mrs.Keys(), 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `docx_renderer_renders_total{outcome="cached"} 1`))
	assert.True(t, strings.Contains(string(body), `docx_renderer_renders_total{outcome="rendered"} 1`))
}

func TestSetupApp_HealthIgnoresUserLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiter.UserLimit = 1
	app := SetupApp(Deps{Config: cfg})

	for _, path := range []string{"/health", "/livez", "/readyz"} {
		for i := 0; i < 3; i++ {
			resp, err := app.Test(httptest.NewRequest("GET", path, nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode, "%s #%d", path, i+1)
		}
	}

	// Other routes are still limited.
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{fiber.StatusOK, fiber.StatusTooManyRequests}, codes)
}

func TestSetupApp_NestedInlineSectionsRender(t *testing.T) {
	app := SetupApp(Deps{Config: config.Default()})
	tpl := docxtest.Build(t, docxtest.P("{#a}[{#b}{.}{/b}]{/a}"))

	resp, err := app.Test(renderRequest(t, tpl, `{"a":[{"b":["1","2"]},{"b":["3"]}]}`), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	doc, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "[12][3]", docxtest.DocumentText(t, doc))

	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegisterMiddleware_RecoversPanics(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	RegisterMiddleware(app, config.Default(), nil, nil)
	app.Get("/boom", func(c *fiber.Ctx) error { panic("engine exploded") })

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var out domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Internal Server Error", out.Error)
	assert.Equal(t, "engine exploded", out.Details)

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestSetupApp_KeyAuth(t *testing.T) {
	ts := tokens.NewStore(config.PostgresConfig{})
	app := SetupApp(Deps{Config: config.Default(), Tokens: ts})

	withKey := func(path, key string) *http.Request {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set(apiKeyHeader, key)
		return req
	}

	// Store not loaded yet.
	resp, err := app.Test(withKey("/metrics", "k1"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	ts.LoadMap(map[string]int{"k1": 10})

	resp, err = app.Test(withKey("/metrics", "k1"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(withKey("/metrics", "nope"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	var out domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Unauthorized", out.Error)

	// Health stays reachable with any key.
	resp, err = app.Test(withKey("/health", "nope"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Anonymous requests are not authenticated.
	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
