package attribution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/geo"
	"github.com/echotrack/attribution/internal/metrics"
	"github.com/echotrack/attribution/internal/models"
	"github.com/echotrack/attribution/internal/storage"
)

// ErrMissingIdentity is returned when a visit or call arrives without the
// identifiers attribution needs.
var ErrMissingIdentity = errors.New("workspace and visitor identifiers are required")

// Tracker is the write side of the attribution service: it turns raw visits
// into touchpoints on paths and records resolved calls.
type Tracker struct {
	paths       storage.PathStore
	conversions storage.ConversionStore
	events      storage.EventLog      // optional
	counters    *storage.CallCounters // optional
	geo         *geo.Resolver         // optional
	metrics     *metrics.Metrics      // optional
	logger      *zap.Logger
}

// TrackerOption configures optional tracker collaborators.
type TrackerOption func(*Tracker)

// WithEventLog attaches a best-effort raw event sink.
func WithEventLog(events storage.EventLog) TrackerOption {
	return func(t *Tracker) { t.events = events }
}

// WithCallCounters attaches daily call counters.
func WithCallCounters(counters *storage.CallCounters) TrackerOption {
	return func(t *Tracker) { t.counters = counters }
}

// WithGeoResolver attaches GeoIP enrichment of touchpoints.
func WithGeoResolver(resolver *geo.Resolver) TrackerOption {
	return func(t *Tracker) { t.geo = resolver }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker over the given stores.
func NewTracker(paths storage.PathStore, conversions storage.ConversionStore, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		paths:       paths,
		conversions: conversions,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackVisit parses a raw visit into a touchpoint and appends it to the
// visitor's path, creating the path on first contact. The raw event is also
// streamed to the event log when one is configured; event log failures are
// logged and never fail the ingest.
func (t *Tracker) TrackVisit(ctx context.Context, visit *models.RawVisit) (*models.AttributionPath, error) {
	if visit == nil || visit.WorkspaceID == "" || visit.VisitorID == "" {
		if t.metrics != nil {
			t.metrics.RecordDroppedTouchpoint("missing_identity")
		}
		return nil, ErrMissingIdentity
	}

	tp := ParseVisit(visit)
	t.enrichGeo(&tp, visit.IP)

	path, err := t.paths.AppendTouchpoint(ctx, visit.VisitorID, visit.WorkspaceID, tp)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) && t.metrics != nil {
			t.metrics.RecordAppendConflict(visit.WorkspaceID)
		}
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.RecordTouchpoint(visit.WorkspaceID, string(tp.SourceType), len(path.Touchpoints))
	}
	t.logger.Debug("touchpoint appended",
		zap.String("workspace_id", visit.WorkspaceID),
		zap.String("visitor_id", visit.VisitorID),
		zap.String("source", tp.Source),
		zap.String("medium", tp.Medium),
		zap.Int("path_length", len(path.Touchpoints)),
	)

	if t.events != nil {
		if err := t.events.AppendEvent(ctx, visit, tp); err != nil {
			if t.metrics != nil {
				t.metrics.RecordEventLogFailure()
			}
			t.logger.Warn("event log write failed", zap.Error(err))
		}
	}

	return path, nil
}

func (t *Tracker) enrichGeo(tp *models.Touchpoint, ip string) {
	if t.geo == nil || ip == "" {
		return
	}
	start := time.Now()
	loc, ok := t.geo.Lookup(ip)
	if t.metrics != nil {
		t.metrics.RecordGeoLookup(ok, time.Since(start))
	}
	if ok {
		tp.GeoCountry = loc.Country
		tp.GeoCity = loc.City
	}
}

// RecordConversion stores a resolved call and bumps the daily counters. Calls
// without a visitor ID are stored for call-volume reporting but never enter
// attribution.
func (t *Tracker) RecordConversion(ctx context.Context, conv *models.Conversion) (*models.Conversion, error) {
	if conv == nil || conv.WorkspaceID == "" {
		return nil, ErrMissingIdentity
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CompletedAt.IsZero() {
		conv.CompletedAt = time.Now().UTC()
	}

	if err := t.conversions.SaveConversion(ctx, conv); err != nil {
		return nil, err
	}

	if t.counters != nil {
		if err := t.counters.RecordCall(ctx, conv); err != nil {
			t.logger.Warn("call counter update failed", zap.Error(err))
		}
	}
	if t.metrics != nil {
		t.metrics.RecordCall(conv.WorkspaceID, string(conv.Status), conv.Value)
	}

	if conv.Status == models.CallStatusCompleted {
		switch {
		case conv.VisitorID == "":
			if t.metrics != nil {
				t.metrics.RecordUnattributedConversion(conv.WorkspaceID)
			}
			t.logger.Debug("completed call has no visitor identity",
				zap.String("workspace_id", conv.WorkspaceID),
				zap.String("conversion_id", conv.ID),
			)
		default:
			if _, err := t.paths.GetPath(ctx, conv.VisitorID, conv.WorkspaceID); errors.Is(err, storage.ErrNotFound) {
				if t.metrics != nil {
					t.metrics.RecordUnattributedConversion(conv.WorkspaceID)
				}
				t.logger.Debug("completed call has no attribution path",
					zap.String("workspace_id", conv.WorkspaceID),
					zap.String("visitor_id", conv.VisitorID),
				)
			}
		}
	}

	t.logger.Info("call recorded",
		zap.String("workspace_id", conv.WorkspaceID),
		zap.String("conversion_id", conv.ID),
		zap.String("status", string(conv.Status)),
		zap.Float64("value", conv.Value),
	)
	return conv, nil
}
