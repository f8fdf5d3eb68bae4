package attribution

import (
	"context"
	"sort"

	"github.com/echotrack/attribution/internal/models"
	"github.com/echotrack/attribution/internal/storage"
)

// SourceTotal is one row of a ranked source report.
type SourceTotal struct {
	Source string  `json:"source"`
	Medium string  `json:"medium"`
	Credit float64 `json:"credit"`
}

// ReportingService is the read-side facade over the aggregator and the daily
// counters. All methods are safe with zero conversions: they return empty
// reports, not errors.
type ReportingService struct {
	aggregator  *Aggregator
	conversions storage.ConversionStore
	counters    *storage.CallCounters // optional
}

// NewReportingService creates the reporting facade. counters may be nil, in
// which case time-series reports fall back to scanning the conversion store.
func NewReportingService(aggregator *Aggregator, conversions storage.ConversionStore, counters *storage.CallCounters) *ReportingService {
	return &ReportingService{
		aggregator:  aggregator,
		conversions: conversions,
		counters:    counters,
	}
}

// AttributionReport runs a single-model report.
func (s *ReportingService) AttributionReport(ctx context.Context, workspaceID string, model Model, window models.Window) (*Report, error) {
	return s.aggregator.Aggregate(ctx, workspaceID, model, window)
}

// CompareModels runs every supported model over the same window so the
// caller can see how credit shifts between models.
func (s *ReportingService) CompareModels(ctx context.Context, workspaceID string, window models.Window) (map[Model]*Report, error) {
	out := make(map[Model]*Report, len(AllModels()))
	for _, model := range AllModels() {
		report, err := s.aggregator.Aggregate(ctx, workspaceID, model, window)
		if err != nil {
			return nil, err
		}
		out[model] = report
	}
	return out, nil
}

// TopSources returns the highest-credit source/medium pairs under a model,
// sorted by descending credit. Ties break on the source key so the ranking
// is deterministic. limit <= 0 returns all sources.
func (s *ReportingService) TopSources(ctx context.Context, workspaceID string, model Model, window models.Window, limit int) ([]SourceTotal, error) {
	report, err := s.aggregator.Aggregate(ctx, workspaceID, model, window)
	if err != nil {
		return nil, err
	}

	totals := make([]SourceTotal, 0, len(report.Totals))
	for key, credit := range report.Totals {
		totals = append(totals, SourceTotal{Source: key.Source, Medium: key.Medium, Credit: credit})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Credit != totals[j].Credit {
			return totals[i].Credit > totals[j].Credit
		}
		if totals[i].Source != totals[j].Source {
			return totals[i].Source < totals[j].Source
		}
		return totals[i].Medium < totals[j].Medium
	})

	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

// TimeSeries returns per-day call volume for the window. Counters are the
// fast path; without them the series is rebuilt from the conversion store.
func (s *ReportingService) TimeSeries(ctx context.Context, workspaceID string, window models.Window) ([]storage.DayCount, error) {
	if s.counters != nil {
		return s.counters.DayCounts(ctx, workspaceID, window)
	}

	conversions, err := s.conversions.ListConversions(ctx, workspaceID, window)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*storage.DayCount)
	days := window.Days()
	out := make([]storage.DayCount, len(days))
	for i, day := range days {
		out[i] = storage.DayCount{Date: day}
		byDay[day] = &out[i]
	}

	for _, conv := range conversions {
		dc, ok := byDay[conv.CompletedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		dc.Calls++
		if conv.Attributable() {
			dc.Conversions++
			dc.Value += conv.Value
		}
	}
	return out, nil
}
