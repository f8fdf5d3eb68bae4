package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathClone(t *testing.T) {
	first := Touchpoint{Source: "google", Medium: "cpc"}
	last := Touchpoint{Source: "direct", Medium: "none"}
	p := &AttributionPath{
		ID:          "p-1",
		Touchpoints: []Touchpoint{first, last},
		FirstTouch:  &first,
		LastTouch:   &last,
	}

	clone := p.Clone()
	clone.Touchpoints[0].Source = "tampered"
	clone.FirstTouch.Source = "tampered"

	assert.Equal(t, "google", p.Touchpoints[0].Source)
	assert.Equal(t, "google", p.FirstTouch.Source)

	var nilPath *AttributionPath
	assert.Nil(t, nilPath.Clone())
}

func TestPathHelpers(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := &AttributionPath{
		Touchpoints: []Touchpoint{
			{Source: "google", Medium: "cpc", IsPaid: true, Timestamp: base},
			{Source: "facebook", Medium: "social", Timestamp: base.AddDate(0, 0, 5)},
			{Source: "google", Medium: "organic", Timestamp: base.AddDate(0, 0, 10)},
		},
	}

	assert.Equal(t, []string{"google", "facebook"}, p.UniqueSources())
	assert.True(t, p.HasPaidTraffic())

	w := Window{From: base.AddDate(0, 0, 4), To: base.AddDate(0, 0, 10)}
	in := p.TouchpointsInWindow(w)
	require.Len(t, in, 2)
	assert.Equal(t, "facebook", in[0].Source)
}

func TestWindowContainsInclusive(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	w := Window{From: from, To: to}

	assert.True(t, w.Contains(from))
	assert.True(t, w.Contains(to))
	assert.True(t, w.Contains(from.AddDate(0, 0, 5)))
	assert.False(t, w.Contains(from.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(to.Add(time.Nanosecond)))
}

func TestWindowDays(t *testing.T) {
	w := Window{
		From: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 9, 1, 1, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, []string{"2026-08-30", "2026-08-31", "2026-09-01"}, w.Days())
}

func TestSourceKeyString(t *testing.T) {
	k := SourceKey{Source: "google", Medium: "cpc"}
	assert.Equal(t, "google:cpc", k.String())
}

func TestConversionAttributable(t *testing.T) {
	assert.True(t, (&Conversion{VisitorID: "v", Status: CallStatusCompleted}).Attributable())
	assert.False(t, (&Conversion{Status: CallStatusCompleted}).Attributable())
	assert.False(t, (&Conversion{VisitorID: "v", Status: CallStatusMissed}).Attributable())
}
