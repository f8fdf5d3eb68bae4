package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/metrics"
	"github.com/echotrack/attribution/internal/models"
	"github.com/echotrack/attribution/internal/storage"
)

// ErrAggregationTimeout is returned when a report does not finish inside the
// configured aggregation budget.
var ErrAggregationTimeout = errors.New("aggregation timed out")

// Report is an aggregated attribution report for one workspace, model and
// window. Totals maps each source/medium pair to its fractional conversion
// credit; the values sum to AttributedCount within floating point error.
type Report struct {
	WorkspaceID string
	Model       Model
	Window      models.Window

	Totals map[models.SourceKey]float64

	// ConversionCount is the number of completed calls in the window;
	// AttributedCount the subset credited to a path, UnattributedCount the
	// remainder (no visitor identity or no recorded path).
	ConversionCount   int
	AttributedCount   int
	UnattributedCount int

	// AttributedValue is the summed value of attributed calls.
	AttributedValue float64
}

// Aggregator folds conversion-time attribution weights into per-source
// reports. It reads the path of every converting visitor and asks the engine
// for that path's weight vector under the requested model.
type Aggregator struct {
	paths       storage.PathStore
	conversions storage.ConversionStore
	engine      *Engine
	timeout     time.Duration
	metrics     *metrics.Metrics // optional
	logger      *zap.Logger
}

// NewAggregator creates an aggregator. timeout caps each Aggregate call;
// non-positive means no cap beyond the caller's context.
func NewAggregator(paths storage.PathStore, conversions storage.ConversionStore, engine *Engine, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		paths:       paths,
		conversions: conversions,
		engine:      engine,
		timeout:     timeout,
		metrics:     m,
		logger:      logger,
	}
}

// Aggregate computes the attribution report for a workspace. Only completed
// calls participate; completed calls without a visitor identity, or whose
// visitor has no recorded path, are counted as unattributed rather than
// failing the report.
// Time-decay weights use each call's resolution time as the reference
// instant, so reports are stable across re-runs.
func (a *Aggregator) Aggregate(ctx context.Context, workspaceID string, model Model, window models.Window) (*Report, error) {
	if _, err := ParseModel(string(model)); err != nil {
		return nil, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	report := &Report{
		WorkspaceID: workspaceID,
		Model:       model,
		Window:      window,
		Totals:      make(map[models.SourceKey]float64),
	}

	conversions, err := a.conversions.ListConversions(ctx, workspaceID, window)
	if err != nil {
		return nil, a.wrapErr(model, err)
	}

	for _, conv := range conversions {
		if err := ctx.Err(); err != nil {
			return nil, a.wrapErr(model, err)
		}
		if conv.Status != models.CallStatusCompleted {
			continue
		}
		report.ConversionCount++

		// Completed calls with no visitor identity cannot join a path; they
		// surface in the unattributed count instead of vanishing.
		if conv.VisitorID == "" {
			report.UnattributedCount++
			continue
		}

		path, err := a.paths.GetPath(ctx, conv.VisitorID, workspaceID)
		if errors.Is(err, storage.ErrNotFound) {
			report.UnattributedCount++
			continue
		}
		if err != nil {
			return nil, a.wrapErr(model, err)
		}

		weights, err := a.engine.ComputeWeights(path, model, conv.CompletedAt)
		if err != nil {
			return nil, err
		}
		if len(weights) == 0 {
			report.UnattributedCount++
			continue
		}

		report.AttributedCount++
		report.AttributedValue += conv.Value
		for _, w := range weights {
			report.Totals[w.Key()] += w.Weight
		}
	}

	if a.metrics != nil {
		a.metrics.RecordReport(string(model), time.Since(start))
	}
	a.logger.Debug("report aggregated",
		zap.String("workspace_id", workspaceID),
		zap.String("model", string(model)),
		zap.Int("conversions", report.ConversionCount),
		zap.Int("unattributed", report.UnattributedCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (a *Aggregator) wrapErr(model Model, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if a.metrics != nil {
			a.metrics.RecordAggregationError(string(model), "timeout")
		}
		return fmt.Errorf("%w after %s", ErrAggregationTimeout, a.timeout)
	}
	if a.metrics != nil {
		a.metrics.RecordAggregationError(string(model), "store")
	}
	return err
}
