package attribution

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/echotrack/attribution/internal/models"
)

// Model identifies an attribution weighting model.
type Model string

const (
	ModelFirstTouch    Model = "first-touch"
	ModelLastTouch     Model = "last-touch"
	ModelLinear        Model = "linear"
	ModelTimeDecay     Model = "time-decay"
	ModelPositionBased Model = "position-based"
)

// ErrUnsupportedModel is returned for model names the engine does not know.
// Unknown models are rejected rather than silently falling back.
var ErrUnsupportedModel = errors.New("unsupported attribution model")

// AllModels returns every supported model, in comparison-report order.
func AllModels() []Model {
	return []Model{
		ModelFirstTouch,
		ModelLastTouch,
		ModelLinear,
		ModelTimeDecay,
		ModelPositionBased,
	}
}

// ParseModel validates a model name from the API boundary.
func ParseModel(s string) (Model, error) {
	m := Model(s)
	switch m {
	case ModelFirstTouch, ModelLastTouch, ModelLinear, ModelTimeDecay, ModelPositionBased:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
}

const (
	// Position-based fixed endpoint shares: 40% first, 40% last, 20%
	// spread over the middle.
	positionFirstShare  = 0.4
	positionLastShare   = 0.4
	positionMiddleShare = 0.2

	hoursPerDay = 24
)

// Engine computes per-touchpoint weight vectors for attribution paths.
// All computations are pure and deterministic; time-decay takes an explicit
// reference instant.
type Engine struct {
	halfLifeDays float64
}

// NewEngine creates an engine with the given time-decay half-life in days.
// Non-positive values fall back to the 7-day default.
func NewEngine(halfLifeDays float64) *Engine {
	if halfLifeDays <= 0 {
		halfLifeDays = 7
	}
	return &Engine{halfLifeDays: halfLifeDays}
}

// ComputeWeights returns the weight vector for a path under the given model.
// An empty path yields an empty vector; weights of a non-empty path sum to
// 1.0. The reference instant is only used by the time-decay model.
func (e *Engine) ComputeWeights(path *models.AttributionPath, model Model, ref time.Time) ([]models.AttributionWeight, error) {
	if path == nil || len(path.Touchpoints) == 0 {
		return []models.AttributionWeight{}, nil
	}

	switch model {
	case ModelFirstTouch:
		return firstTouchWeights(path.Touchpoints), nil
	case ModelLastTouch:
		return lastTouchWeights(path.Touchpoints), nil
	case ModelLinear:
		return linearWeights(path.Touchpoints), nil
	case ModelTimeDecay:
		return e.timeDecayWeights(path.Touchpoints, ref), nil
	case ModelPositionBased:
		return positionBasedWeights(path.Touchpoints), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
}

func weightAt(tps []models.Touchpoint, idx int, w float64) models.AttributionWeight {
	return models.AttributionWeight{
		TouchpointIndex: idx,
		Weight:          w,
		Source:          tps[idx].Source,
		Medium:          tps[idx].Medium,
		Campaign:        tps[idx].Campaign,
	}
}

// firstTouchWeights puts all credit on the first touchpoint.
func firstTouchWeights(tps []models.Touchpoint) []models.AttributionWeight {
	return []models.AttributionWeight{weightAt(tps, 0, 1.0)}
}

// lastTouchWeights puts all credit on the most recent touchpoint.
func lastTouchWeights(tps []models.Touchpoint) []models.AttributionWeight {
	return []models.AttributionWeight{weightAt(tps, len(tps)-1, 1.0)}
}

// linearWeights spreads credit evenly across all touchpoints.
func linearWeights(tps []models.Touchpoint) []models.AttributionWeight {
	n := len(tps)
	w := 1.0 / float64(n)
	out := make([]models.AttributionWeight, n)
	for i := range tps {
		out[i] = weightAt(tps, i, w)
	}
	return out
}

// timeDecayWeights applies exponential decay with the engine's half-life:
// raw(i) = 0.5 ^ (days since touchpoint i / halfLife), normalized so the
// vector sums to 1. More recent touchpoints always receive a larger share;
// equal timestamps reduce to the linear case.
func (e *Engine) timeDecayWeights(tps []models.Touchpoint, ref time.Time) []models.AttributionWeight {
	if ref.IsZero() {
		ref = time.Now().UTC()
	}

	out := make([]models.AttributionWeight, len(tps))
	var total float64
	for i, tp := range tps {
		days := ref.Sub(tp.Timestamp).Hours() / hoursPerDay
		raw := math.Pow(0.5, days/e.halfLifeDays)
		out[i] = weightAt(tps, i, raw)
		total += raw
	}

	for i := range out {
		out[i].Weight /= total
	}
	return out
}

// positionBasedWeights gives 40% to the first touchpoint, 40% to the last
// and spreads the remaining 20% over the middle. With a single touchpoint
// it gets everything; with exactly two, first and last are scaled up to
// 0.5/0.5 so the vector still sums to 1 instead of dropping the middle
// share.
func positionBasedWeights(tps []models.Touchpoint) []models.AttributionWeight {
	n := len(tps)
	if n == 1 {
		return []models.AttributionWeight{weightAt(tps, 0, 1.0)}
	}
	if n == 2 {
		return []models.AttributionWeight{
			weightAt(tps, 0, 0.5),
			weightAt(tps, 1, 0.5),
		}
	}

	middle := positionMiddleShare / float64(n-2)
	out := make([]models.AttributionWeight, n)
	for i := range tps {
		switch i {
		case 0:
			out[i] = weightAt(tps, i, positionFirstShare)
		case n - 1:
			out[i] = weightAt(tps, i, positionLastShare)
		default:
			out[i] = weightAt(tps, i, middle)
		}
	}
	return out
}
