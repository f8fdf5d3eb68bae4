package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/attribution"
	"github.com/echotrack/attribution/internal/config"
	"github.com/echotrack/attribution/internal/database"
	"github.com/echotrack/attribution/internal/geo"
	"github.com/echotrack/attribution/internal/metrics"
	"github.com/echotrack/attribution/internal/middleware"
	"github.com/echotrack/attribution/internal/models"
	"github.com/echotrack/attribution/internal/storage"
)

// Dependencies holds all external dependencies for the server. Any of the
// backing stores may be nil; the server falls back to in-memory storage so a
// bare binary still works end to end.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Geo        *geo.Resolver
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and attribution services.
type Server struct {
	tracker   *attribution.Tracker
	reporting *attribution.ReportingService
	paths     storage.PathStore
	logger    *zap.Logger
	config    *config.Config
	metrics   *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize stores
	var pathStore storage.PathStore
	var convStore storage.ConversionStore

	if deps.DB != nil {
		pathStore = storage.NewPostgresPathStore(deps.DB.Pool, deps.Config.Attribution.AppendMaxRetries)
		convStore = storage.NewPostgresConversionStore(deps.DB.Pool)
	} else {
		pathStore = storage.NewInMemoryPathStore()
		convStore = storage.NewInMemoryConversionStore()
	}

	var counters *storage.CallCounters
	if deps.Redis != nil {
		counters = storage.NewCallCounters(deps.Redis.Client, deps.Config.Attribution.CounterTTL)
	}

	var eventLog storage.EventLog
	if deps.ClickHouse != nil {
		eventLog = storage.NewTouchpointLog(deps.ClickHouse.Conn)
	}

	// Initialize services
	trackerOpts := []attribution.TrackerOption{
		attribution.WithMetrics(deps.Metrics),
	}
	if counters != nil {
		trackerOpts = append(trackerOpts, attribution.WithCallCounters(counters))
	}
	if eventLog != nil {
		trackerOpts = append(trackerOpts, attribution.WithEventLog(eventLog))
	}
	if deps.Geo != nil {
		trackerOpts = append(trackerOpts, attribution.WithGeoResolver(deps.Geo))
	}
	tracker := attribution.NewTracker(pathStore, convStore, deps.Logger, trackerOpts...)

	engine := attribution.NewEngine(deps.Config.Attribution.HalfLifeDays)
	aggregator := attribution.NewAggregator(
		pathStore,
		convStore,
		engine,
		deps.Config.Attribution.AggregationTimeout,
		deps.Metrics,
		deps.Logger,
	)
	reporting := attribution.NewReportingService(aggregator, convStore, counters)

	s := &Server{
		tracker:   tracker,
		reporting: reporting,
		paths:     pathStore,
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking
	mux.HandleFunc("/track", s.handleTrack)
	mux.HandleFunc("/conversions", s.handleConversion)

	// Paths
	mux.HandleFunc("/paths", s.handlePaths)

	// Reporting
	mux.HandleFunc("/reports/attribution", s.handleAttributionReport)
	mux.HandleFunc("/reports/models", s.handleModelComparison)
	mux.HandleFunc("/reports/top-sources", s.handleTopSources)
	mux.HandleFunc("/reports/time-series", s.handleTimeSeriesReport)

	// Middleware chain, outermost first
	var handler http.Handler = mux
	handler = middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger).Handler(handler)
	handler = middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Metrics, deps.Logger).Handler(handler)
	handler = middleware.NewLoggingMiddleware(deps.Logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(deps.Logger).Handler(handler)

	return handler
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tracking ----

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var visit models.RawVisit
	if err := json.NewDecoder(r.Body).Decode(&visit); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	path, err := s.tracker.TrackVisit(r.Context(), &visit)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.jsonResponse(w, path)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var conv models.Conversion
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if conv.Status == "" {
		conv.Status = models.CallStatusCompleted
	}

	saved, err := s.tracker.RecordConversion(r.Context(), &conv)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.jsonResponse(w, saved)
}

// ---- Paths ----

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		s.errorResponse(w, "workspace_id required", http.StatusBadRequest)
		return
	}

	if visitorID := q.Get("visitor_id"); visitorID != "" {
		path, err := s.paths.GetPath(r.Context(), visitorID, workspaceID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, path)
		return
	}

	paths, err := s.paths.ListPathsByWorkspace(r.Context(), workspaceID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, paths)
}

// ---- Reporting ----

// reportPayload is the wire form of a report; the source-key map flattens to
// "source:medium" strings at this boundary only.
type reportPayload struct {
	WorkspaceID       string             `json:"workspace_id"`
	Model             string             `json:"model"`
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	Totals            map[string]float64 `json:"totals"`
	ConversionCount   int                `json:"conversion_count"`
	AttributedCount   int                `json:"attributed_count"`
	UnattributedCount int                `json:"unattributed_count"`
	AttributedValue   float64            `json:"attributed_value"`
}

func reportToPayload(rep *attribution.Report) reportPayload {
	totals := make(map[string]float64, len(rep.Totals))
	for key, credit := range rep.Totals {
		totals[key.String()] = credit
	}
	return reportPayload{
		WorkspaceID:       rep.WorkspaceID,
		Model:             string(rep.Model),
		From:              rep.Window.From,
		To:                rep.Window.To,
		Totals:            totals,
		ConversionCount:   rep.ConversionCount,
		AttributedCount:   rep.AttributedCount,
		UnattributedCount: rep.UnattributedCount,
		AttributedValue:   rep.AttributedValue,
	}
}

func (s *Server) handleAttributionReport(w http.ResponseWriter, r *http.Request) {
	workspaceID, model, window, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	report, err := s.reporting.AttributionReport(r.Context(), workspaceID, model, window)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, reportToPayload(report))
}

func (s *Server) handleModelComparison(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		s.errorResponse(w, "workspace_id required", http.StatusBadRequest)
		return
	}
	window, err := parseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	reports, err := s.reporting.CompareModels(r.Context(), workspaceID, window)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	payload := make(map[string]reportPayload, len(reports))
	for model, rep := range reports {
		payload[string(model)] = reportToPayload(rep)
	}
	s.jsonResponse(w, payload)
}

func (s *Server) handleTopSources(w http.ResponseWriter, r *http.Request) {
	workspaceID, model, window, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	totals, err := s.reporting.TopSources(r.Context(), workspaceID, model, window, limit)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, totals)
}

func (s *Server) handleTimeSeriesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		s.errorResponse(w, "workspace_id required", http.StatusBadRequest)
		return
	}
	window, err := parseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	series, err := s.reporting.TimeSeries(r.Context(), workspaceID, window)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, series)
}

// reportParams pulls workspace, model and window out of the query and writes
// the error response itself when something is off.
func (s *Server) reportParams(w http.ResponseWriter, r *http.Request) (string, attribution.Model, models.Window, bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", "", models.Window{}, false
	}

	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		s.errorResponse(w, "workspace_id required", http.StatusBadRequest)
		return "", "", models.Window{}, false
	}

	modelName := q.Get("model")
	if modelName == "" {
		modelName = string(attribution.ModelLastTouch)
	}
	model, err := attribution.ParseModel(modelName)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return "", "", models.Window{}, false
	}

	window, err := parseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return "", "", models.Window{}, false
	}

	return workspaceID, model, window, true
}

// parseWindow accepts RFC 3339 timestamps or plain dates. An absent window
// defaults to the last 30 days.
func parseWindow(from, to string) (models.Window, error) {
	now := time.Now().UTC()
	w := models.Window{From: now.AddDate(0, 0, -30), To: now}

	if from != "" {
		t, err := parseTime(from)
		if err != nil {
			return models.Window{}, errors.New("invalid from timestamp")
		}
		w.From = t
	}
	if to != "" {
		t, err := parseTime(to)
		if err != nil {
			return models.Window{}, errors.New("invalid to timestamp")
		}
		// A bare date means the whole day.
		if len(to) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		w.To = t
	}
	if w.To.Before(w.From) {
		return models.Window{}, errors.New("window end precedes start")
	}
	return w, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ---- Helper Methods ----

func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, attribution.ErrMissingIdentity),
		errors.Is(err, attribution.ErrUnsupportedModel):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, "not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrConflict):
		s.errorResponse(w, "concurrent update conflict, retry", http.StatusConflict)
	case errors.Is(err, attribution.ErrAggregationTimeout):
		s.errorResponse(w, err.Error(), http.StatusGatewayTimeout)
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
