package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartbite/smartbite/internal/metrics"
	"github.com/smartbite/smartbite/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID_ReachesPipelineOrigin(t *testing.T) {
	var origin pipeline.Origin
	m := new(classifierMock)
	m.On("ClassifyAndEnrich", mock.MatchedBy(func(ctx context.Context) bool {
		origin = pipeline.OriginFrom(ctx)
		return true
	}), mock.Anything).Return(&pipeline.Result{Label: "Pizza", Probability: 0.5}, nil)

	s := New(m, nil, Options{})
	body, contentType := multipartBody(t, "image", []byte("jpeg bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", contentType)

	w := doRequest(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	id := w.Header().Get("X-Request-ID")
	_, err := uuid.Parse(id)
	require.NoError(t, err, "generated id %q", id)
	assert.Equal(t, "http", origin.Source)
	assert.Equal(t, id, origin.RequestID)
}

func TestRequestID_TrimsCallerID(t *testing.T) {
	s := New(new(classifierMock), nil, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "  upload-17 ")
	w := doRequest(s, req)

	assert.Equal(t, "upload-17", w.Header().Get("X-Request-ID"))
}

func TestLogger_RecordsRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Logger())
	router.GET("/foods/:label", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("label"))
	})

	serve := func(method, path string) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	}
	series := func() int {
		return testutil.CollectAndCount(metrics.HTTPRequestDurationSeconds)
	}

	before := series()
	serve(http.MethodGet, "/foods/pizza")
	assert.Equal(t, before+1, series())

	// Same template and status, so no new series
	serve(http.MethodGet, "/foods/sushi")
	assert.Equal(t, before+1, series())

	// Unknown paths share one label instead of one per raw path
	serve(http.MethodPut, "/nowhere/1")
	serve(http.MethodPut, "/nowhere/2")
	assert.Equal(t, before+2, series())
}

func TestRecovery_ReturnsEnvelope(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/crash", func(c *gin.Context) {
		panic("weights tensor is nil")
	})

	req := httptest.NewRequest(http.MethodGet, "/crash", nil)
	req.Header.Set("X-Request-ID", "req-crash")
	w := httptest.NewRecorder()
	require.NotPanics(t, func() { router.ServeHTTP(w, req) })

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "weights tensor")

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Equal(t, "req-crash", env.RequestID)
}

func TestCORS_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}, {"https://smartbite.app", "*"}} {
		cfg := corsConfig(origins)
		assert.True(t, cfg.AllowAllOrigins)
		assert.Empty(t, cfg.AllowOrigins)
		require.NoError(t, cfg.Validate())

		s := New(new(classifierMock), nil, Options{CORSOrigins: origins})
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://anywhere.example")
		w := doRequest(s, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	s := New(new(classifierMock), nil, Options{
		CORSOrigins: []string{"https://smartbite.app", "http://localhost:3000"},
	})

	t.Run("allowed origin is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := doRequest(s, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.True(t, strings.EqualFold("X-Request-ID", w.Header().Get("Access-Control-Expose-Headers")))
	})

	t.Run("other origin is refused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := doRequest(s, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin passes through", func(t *testing.T) {
		w := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight for history delete", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/history", nil)
		req.Header.Set("Origin", "https://smartbite.app")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		w := doRequest(s, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://smartbite.app", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
		assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))
	})
}

func TestCORSConfig_IsValidForMiddleware(t *testing.T) {
	cfg := corsConfig([]string{"https://smartbite.app"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://smartbite.app"}, cfg.AllowOrigins)
	assert.NotPanics(t, func() { cors.New(cfg) })
}
