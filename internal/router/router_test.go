package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Monthlyaway/qr-link/internal/filter"
	"github.com/Monthlyaway/qr-link/internal/geo"
	"github.com/Monthlyaway/qr-link/internal/handler"
	"github.com/Monthlyaway/qr-link/internal/model"
	"github.com/Monthlyaway/qr-link/internal/observe"
	"github.com/Monthlyaway/qr-link/internal/repository"
	"github.com/Monthlyaway/qr-link/internal/service"
	"github.com/Monthlyaway/qr-link/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mobileChromeUA = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Mobile Safari/537.36"

var errWriteFailed = errors.New("write failed")

// brokenWrites fails every scan-recording write
type brokenWrites struct {
	*repository.QRRepository
}

func (brokenWrites) CreateScanEvent(context.Context, *model.ScanEvent) error { return errWriteFailed }
func (brokenWrites) IncrementUsageCount(context.Context, string) error       { return errWriteFailed }

type testEnv struct {
	deps      Deps
	router    *gin.Engine
	repo      *repository.QRRepository
	redirects *service.RedirectService
	geoHits   *int32
}

type envOptions struct {
	async        bool
	brokenWrites bool
	geoHandler   http.HandlerFunc
}

func setupTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	repo, err := repository.NewQRRepository(repository.Options{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.CreateQRCode(ctx, &model.QRCode{
		ID:             "abc123",
		Name:           "Example",
		DestinationURL: "https://example.com/page",
		UsageCount:     5,
	}))

	if opts.geoHandler == nil {
		opts.geoHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
	var hits int32
	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		opts.geoHandler(w, r)
	}))
	t.Cleanup(geoSrv.Close)

	logger := slog.New(slog.DiscardHandler)
	bloom := filter.NewBloomFilter(1000, 0.001)
	ids, err := utils.NewIDGenerator(1, 1)
	require.NoError(t, err)

	var store service.ScanStore = repo
	if opts.brokenWrites {
		store = brokenWrites{repo}
	}

	locator := geo.NewClient(geo.Options{Endpoint: geoSrv.URL, Timeout: time.Second})
	redirects := service.NewRedirectService(store, locator, observe.NewReporter(logger, false), service.RedirectOptions{
		Filter:     bloom,
		Logger:     logger,
		AsyncScans: opts.async,
	})
	qrs := service.NewQRService(repo, ids, nil, bloom, logger)
	require.NoError(t, qrs.InitBloomFilter(ctx))

	deps := Deps{
		Redirects:      handler.NewRedirectHandler(redirects),
		QRCodes:        handler.NewQRHandler(qrs, "https://qr.example"),
		Health:         handler.NewHealthHandler(map[string]handler.Pinger{"database": repo}),
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	}

	return &testEnv{deps: deps, router: New(deps), repo: repo, redirects: redirects, geoHits: &hits}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) stats(t *testing.T) *model.ScanStats {
	t.Helper()
	stats, err := e.repo.ScanStats(context.Background(), "abc123")
	require.NoError(t, err)
	return stats
}

func (e *testEnv) usage(t *testing.T) uint64 {
	t.Helper()
	qr, err := e.repo.GetQRCode(context.Background(), "abc123")
	require.NoError(t, err)
	return qr.UsageCount
}

func TestRedirectScenario(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/abc123", "", map[string]string{"User-Agent": mobileChromeUA})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))
	assert.Empty(t, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	stats := env.stats(t)
	assert.Equal(t, int64(1), stats.TotalScans)
	assert.Equal(t, int64(1), stats.Browsers["Chrome"])
	assert.Equal(t, int64(1), stats.Devices[model.DeviceMobile])
	assert.Equal(t, int64(1), stats.Countries[model.Unknown])
	assert.Equal(t, uint64(6), env.usage(t))
	assert.Equal(t, int32(0), atomic.LoadInt32(env.geoHits))
}

func TestRedirectByQuery(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/redirect?id=abc123", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))

	w = env.do(http.MethodGet, "/redirect", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"QR ID is required"}`, w.Body.String())

	assert.Equal(t, uint64(6), env.usage(t))
}

func TestRedirectNotFound(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	for _, path := range []string{"/missing", "/redirect?id=missing", "/redirect?id=bad%20id"} {
		w := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.JSONEq(t, `{"error":"QR code not found"}`, w.Body.String())
	}

	stats, err := env.repo.ScanStats(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalScans)
	assert.Zero(t, env.stats(t).TotalScans)
}

func TestRedirectCodeInsertedAfterWarmUp(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	// another instance writes the row after this one loaded its filter
	require.NoError(t, env.repo.CreateQRCode(context.Background(), &model.QRCode{
		ID:             "late01",
		Name:           "Late",
		DestinationURL: "https://example.com/late",
	}))

	w := env.do(http.MethodGet, "/late01", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/late", w.Header().Get("Location"))

	qr, err := env.repo.GetQRCode(context.Background(), "late01")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), qr.UsageCount)
}

func TestRedirectSurvivesBrokenWrites(t *testing.T) {
	env := setupTestEnv(t, envOptions{brokenWrites: true})

	w := env.do(http.MethodGet, "/abc123", "", map[string]string{"User-Agent": mobileChromeUA})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))
	assert.Equal(t, uint64(5), env.usage(t))
}

func TestRedirectStoreUnavailable(t *testing.T) {
	env := setupTestEnv(t, envOptions{})
	require.NoError(t, env.repo.Close())

	w := env.do(http.MethodGet, "/abc123", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}

func TestRedirectGeolocationFailure(t *testing.T) {
	env := setupTestEnv(t, envOptions{geoHandler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"country_name":`))
	}})

	w := env.do(http.MethodGet, "/abc123", "", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page", w.Header().Get("Location"))
	assert.Equal(t, int32(1), atomic.LoadInt32(env.geoHits))
	assert.Equal(t, int64(1), env.stats(t).Countries[model.Unknown])
}

func TestRedirectGeolocationSuccess(t *testing.T) {
	env := setupTestEnv(t, envOptions{geoHandler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"country_name":"Germany","city":"Berlin"}`))
	}})

	w := env.do(http.MethodGet, "/abc123", "", map[string]string{"X-Real-IP": "203.0.113.7"})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, int64(1), env.stats(t).Countries["Germany"])
}

func TestConcurrentRedirects(t *testing.T) {
	env := setupTestEnv(t, envOptions{async: true})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := env.do(http.MethodGet, "/abc123", "", nil)
			assert.Equal(t, http.StatusFound, w.Code)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, env.redirects.Wait(ctx))

	assert.Equal(t, uint64(5+n), env.usage(t))
	assert.Equal(t, int64(n), env.stats(t).TotalScans)
}

func TestTrackScan(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodPost, "/api/v1/scans",
		`{"qrId":"abc123","ipAddress":"not-an-ip","userAgent":"Mozilla/5.0 (iPad) Firefox/120.0","referrer":"https://news.example"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool            `json:"success"`
		Scan    model.ScanEvent `json:"scan"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Firefox", resp.Scan.Browser)
	assert.Nil(t, resp.Scan.IP)
	require.NotNil(t, resp.Scan.Referrer)
	assert.Equal(t, "https://news.example", *resp.Scan.Referrer)
	assert.Equal(t, uint64(6), env.usage(t))

	w = env.do(http.MethodPost, "/api/v1/scans", `{"qrId":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/scans", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, int64(1), env.stats(t).TotalScans)
}

func TestTrackScanWriteFailure(t *testing.T) {
	env := setupTestEnv(t, envOptions{brokenWrites: true})

	w := env.do(http.MethodPost, "/api/v1/scans", `{"qrId":"abc123"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to record scan"}`, w.Body.String())
}

func TestQRCodeAPI(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodPost, "/api/v1/qr-codes", `{"name":"Menu","destination_url":"example.com/menu","user_id":"u1"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data handler.QRCodeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Data.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "https://example.com/menu", created.Data.DestinationURL)
	assert.Equal(t, "https://qr.example/"+id, created.Data.ScanURL)

	// new codes resolve immediately through the bloom filter
	w = env.do(http.MethodGet, "/"+id, "", map[string]string{"User-Agent": mobileChromeUA})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/menu", w.Header().Get("Location"))

	w = env.do(http.MethodGet, "/api/v1/qr-codes/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"usage_count":1`)

	w = env.do(http.MethodGet, "/api/v1/qr-codes/"+id+"/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Data model.ScanStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Data.TotalScans)
	assert.Equal(t, int64(1), stats.Data.Devices[model.DeviceMobile])

	w = env.do(http.MethodGet, "/api/v1/qr-codes/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/qr-codes", `{"name":"Bad","destination_url":"http://"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	env.do(http.MethodGet, "/abc123", "", nil)
	w = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qr_redirects_total")

	require.NoError(t, env.repo.Close())
	w = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	w := env.do(http.MethodOptions, "/abc123", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "GET",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, env.stats(t).TotalScans)
}

func TestGinLoggerOnlyInDebugMode(t *testing.T) {
	env := setupTestEnv(t, envOptions{})

	var buf bytes.Buffer
	prev := gin.DefaultWriter
	gin.DefaultWriter = &buf
	t.Cleanup(func() {
		gin.DefaultWriter = prev
		gin.SetMode(gin.TestMode)
	})

	env.do(http.MethodGet, "/health", "", nil)
	assert.NotContains(t, buf.String(), "[GIN] ")

	gin.SetMode(gin.DebugMode)
	env.router = New(env.deps)
	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "[GIN] ")
	assert.Contains(t, buf.String(), "/health")
}
