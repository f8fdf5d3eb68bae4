package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/models"
	"github.com/echotrack/attribution/internal/storage"
)

func newTestReporting(t *testing.T) (*ReportingService, storage.PathStore, storage.ConversionStore) {
	t.Helper()
	paths := storage.NewInMemoryPathStore()
	conversions := storage.NewInMemoryConversionStore()
	agg := NewAggregator(paths, conversions, NewEngine(7), 0, nil, zap.NewNop())
	return NewReportingService(agg, conversions, nil), paths, conversions
}

func TestCompareModelsCoversAllModels(t *testing.T) {
	svc, paths, conversions := newTestReporting(t)
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	appendClassified(t, paths, "visitor-a", "google", "cpc", now.Add(-48*time.Hour))
	appendClassified(t, paths, "visitor-a", "direct", "none", now.Add(-time.Hour))
	saveCompleted(t, conversions, "c-1", "visitor-a", now, 0)

	window := models.Window{From: now.AddDate(0, 0, -7), To: now}
	reports, err := svc.CompareModels(context.Background(), testWorkspace, window)
	require.NoError(t, err)
	require.Len(t, reports, len(AllModels()))

	firstKey := models.SourceKey{Source: "google", Medium: "cpc"}
	lastKey := models.SourceKey{Source: "direct", Medium: "none"}

	assert.InDelta(t, 1.0, reports[ModelFirstTouch].Totals[firstKey], 1e-9)
	assert.InDelta(t, 1.0, reports[ModelLastTouch].Totals[lastKey], 1e-9)
	assert.InDelta(t, 0.5, reports[ModelLinear].Totals[firstKey], 1e-9)
	assert.InDelta(t, 0.5, reports[ModelPositionBased].Totals[firstKey], 1e-9)
}

func TestCompareModelsEmptyWorkspace(t *testing.T) {
	svc, _, _ := newTestReporting(t)
	window := models.Window{From: time.Now().AddDate(0, 0, -7), To: time.Now()}

	reports, err := svc.CompareModels(context.Background(), "ws-empty", window)
	require.NoError(t, err)
	for model, rep := range reports {
		assert.Emptyf(t, rep.Totals, "model %s", model)
		assert.Zero(t, rep.ConversionCount)
	}
}

func TestTopSourcesRankingAndLimit(t *testing.T) {
	svc, paths, conversions := newTestReporting(t)
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// Three converting visitors, two ending on google/cpc, one on direct.
	appendClassified(t, paths, "visitor-a", "google", "cpc", now.Add(-time.Hour))
	appendClassified(t, paths, "visitor-b", "google", "cpc", now.Add(-time.Hour))
	appendClassified(t, paths, "visitor-c", "direct", "none", now.Add(-time.Hour))

	saveCompleted(t, conversions, "c-1", "visitor-a", now, 0)
	saveCompleted(t, conversions, "c-2", "visitor-b", now, 0)
	saveCompleted(t, conversions, "c-3", "visitor-c", now, 0)

	window := models.Window{From: now.AddDate(0, 0, -1), To: now}

	totals, err := svc.TopSources(context.Background(), testWorkspace, ModelLastTouch, window, 0)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "google", totals[0].Source)
	assert.InDelta(t, 2.0, totals[0].Credit, 1e-9)
	assert.Equal(t, "direct", totals[1].Source)

	limited, err := svc.TopSources(context.Background(), testWorkspace, ModelLastTouch, window, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "google", limited[0].Source)
}

func TestTopSourcesDeterministicTieBreak(t *testing.T) {
	svc, paths, conversions := newTestReporting(t)
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	appendClassified(t, paths, "visitor-a", "bing", "organic", now.Add(-time.Hour))
	appendClassified(t, paths, "visitor-b", "google", "organic", now.Add(-time.Hour))
	saveCompleted(t, conversions, "c-1", "visitor-a", now, 0)
	saveCompleted(t, conversions, "c-2", "visitor-b", now, 0)

	window := models.Window{From: now.AddDate(0, 0, -1), To: now}
	for i := 0; i < 5; i++ {
		totals, err := svc.TopSources(context.Background(), testWorkspace, ModelLastTouch, window, 0)
		require.NoError(t, err)
		require.Len(t, totals, 2)
		assert.Equal(t, "bing", totals[0].Source)
		assert.Equal(t, "google", totals[1].Source)
	}
}

func TestTimeSeriesFallbackFromConversionStore(t *testing.T) {
	svc, _, conversions := newTestReporting(t)

	day1 := time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)

	saveCompleted(t, conversions, "c-1", "visitor-a", day1, 40)
	saveCompleted(t, conversions, "c-2", "visitor-b", day1, 10)
	require.NoError(t, conversions.SaveConversion(context.Background(), &models.Conversion{
		ID: "c-3", WorkspaceID: testWorkspace, VisitorID: "visitor-c",
		CompletedAt: day3, Status: models.CallStatusMissed,
	}))

	window := models.Window{
		From: time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 8, 20, 23, 59, 59, 0, time.UTC),
	}
	series, err := svc.TimeSeries(context.Background(), testWorkspace, window)
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, "2026-08-18", series[0].Date)
	assert.EqualValues(t, 2, series[0].Calls)
	assert.EqualValues(t, 2, series[0].Conversions)
	assert.Equal(t, 50.0, series[0].Value)

	// Empty middle day is zero-filled.
	assert.Equal(t, "2026-08-19", series[1].Date)
	assert.Zero(t, series[1].Calls)

	// Missed call counts as a call but not a conversion.
	assert.Equal(t, "2026-08-20", series[2].Date)
	assert.EqualValues(t, 1, series[2].Calls)
	assert.Zero(t, series[2].Conversions)
}
