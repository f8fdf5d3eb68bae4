package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/config"
	"github.com/echotrack/attribution/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth:      config.AuthConfig{Enabled: false},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: false},
		Attribution: config.AttributionConfig{
			HalfLifeDays:       7,
			AppendMaxRetries:   5,
			AggregationTimeout: 30 * time.Second,
			CounterTTL:         time.Hour,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	return NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func trackVisit(t *testing.T, handler http.Handler, visit models.RawVisit) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/track", visit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTrackEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())

	rec := doJSON(t, handler, http.MethodPost, "/track", models.RawVisit{
		WorkspaceID: "ws-1",
		VisitorID:   "visitor-a",
		UTMSource:   "google",
		UTMMedium:   "cpc",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var path models.AttributionPath
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &path))
	assert.NotEmpty(t, path.ID)
	require.Len(t, path.Touchpoints, 1)
	assert.Equal(t, "google", path.Touchpoints[0].Source)
	assert.True(t, path.Touchpoints[0].IsPaid)
}

func TestTrackEndpointValidation(t *testing.T) {
	handler := newTestServer(t, testConfig())

	rec := doJSON(t, handler, http.MethodPost, "/track", models.RawVisit{VisitorID: "v"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/track", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/track", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPathsEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())

	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", UTMSource: "google", UTMMedium: "organic"})
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", Referrer: "https://facebook.com/x", LandingPage: "https://example.com/"})
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-b"})

	rec := doJSON(t, handler, http.MethodGet, "/paths?workspace_id=ws-1&visitor_id=visitor-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var path models.AttributionPath
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &path))
	assert.Len(t, path.Touchpoints, 2)

	rec = doJSON(t, handler, http.MethodGet, "/paths?workspace_id=ws-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paths []models.AttributionPath
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paths))
	assert.Len(t, paths, 2)

	rec = doJSON(t, handler, http.MethodGet, "/paths?workspace_id=ws-1&visitor_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/paths", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversionAndReportFlow(t *testing.T) {
	handler := newTestServer(t, testConfig())
	now := time.Now().UTC()

	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", UTMSource: "google", UTMMedium: "cpc", Timestamp: now.Add(-48 * time.Hour)})
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", Referrer: "https://facebook.com/page", LandingPage: "https://example.com/", Timestamp: now.Add(-24 * time.Hour)})
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", UTMSource: "google", UTMMedium: "organic", Timestamp: now.Add(-time.Hour)})

	rec := doJSON(t, handler, http.MethodPost, "/conversions", models.Conversion{
		WorkspaceID: "ws-1",
		VisitorID:   "visitor-a",
		Status:      models.CallStatusCompleted,
		Value:       120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/reports/attribution?workspace_id=ws-1&model=linear", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report reportPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "linear", report.Model)
	assert.Equal(t, 1, report.ConversionCount)
	assert.Equal(t, 1, report.AttributedCount)
	assert.InDelta(t, 1.0/3.0, report.Totals["google:cpc"], 1e-9)
	assert.InDelta(t, 1.0/3.0, report.Totals["facebook:social"], 1e-9)
	assert.InDelta(t, 1.0/3.0, report.Totals["google:organic"], 1e-9)
	assert.Equal(t, 120.0, report.AttributedValue)
}

func TestReportEndpointValidation(t *testing.T) {
	handler := newTestServer(t, testConfig())

	rec := doJSON(t, handler, http.MethodGet, "/reports/attribution?workspace_id=ws-1&model=quantum", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/reports/attribution?model=linear", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/reports/attribution?workspace_id=ws-1&from=2026-08-10&to=2026-08-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelComparisonEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())
	now := time.Now().UTC()

	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", UTMSource: "google", UTMMedium: "cpc", Timestamp: now.Add(-2 * time.Hour)})
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "visitor-a", Timestamp: now.Add(-time.Hour)})

	rec := doJSON(t, handler, http.MethodPost, "/conversions", models.Conversion{
		WorkspaceID: "ws-1", VisitorID: "visitor-a", Status: models.CallStatusCompleted,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/reports/models?workspace_id=ws-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var comparison map[string]reportPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comparison))
	require.Len(t, comparison, 5)
	assert.InDelta(t, 1.0, comparison["first-touch"].Totals["google:cpc"], 1e-9)
	assert.InDelta(t, 1.0, comparison["last-touch"].Totals["direct:none"], 1e-9)
}

func TestTopSourcesEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())
	now := time.Now().UTC()

	for i, visitor := range []string{"v-1", "v-2", "v-3"} {
		source := "google"
		medium := "cpc"
		if i == 2 {
			source, medium = "direct", "none"
		}
		trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: visitor, UTMSource: source, UTMMedium: medium, Timestamp: now.Add(-time.Hour)})
		rec := doJSON(t, handler, http.MethodPost, "/conversions", models.Conversion{
			WorkspaceID: "ws-1", VisitorID: visitor, Status: models.CallStatusCompleted,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/reports/top-sources?workspace_id=ws-1&model=last-touch&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var totals []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	require.Len(t, totals, 1)
	assert.Equal(t, "google", totals[0]["source"])
	assert.InDelta(t, 2.0, totals[0]["credit"].(float64), 1e-9)
}

func TestTimeSeriesEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig())
	now := time.Now().UTC()

	rec := doJSON(t, handler, http.MethodPost, "/conversions", models.Conversion{
		WorkspaceID: "ws-1", VisitorID: "v-1", Status: models.CallStatusCompleted, CompletedAt: now,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	from := now.AddDate(0, 0, -1).Format("2006-01-02")
	to := now.Format("2006-01-02")
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/reports/time-series?workspace_id=ws-1&from=%s&to=%s", from, to), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var series []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series, 2)
	assert.EqualValues(t, 1, series[1]["calls"])
}

func TestAuthProtectsReportingEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret-key",
		SkipPaths: []string{"/health", "/track"},
	}
	handler := newTestServer(t, cfg)

	// Skip-listed paths stay open.
	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	trackVisit(t, handler, models.RawVisit{WorkspaceID: "ws-1", VisitorID: "v-1"})

	rec = doJSON(t, handler, http.MethodGet, "/reports/attribution?workspace_id=ws-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/reports/attribution?workspace_id=ws-1", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/reports/attribution?workspace_id=ws-1", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:     true,
		IngestRPS:   1000,
		IngestBurst: 100,
		ReportRPS:   1,
		ReportBurst: 1,
	}
	handler := newTestServer(t, cfg)

	first := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
