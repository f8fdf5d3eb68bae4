package models

import (
	"time"
)

// ===========================================
// SOURCE CLASSIFICATION
// ===========================================

// SourceType classifies where a visit came from.
type SourceType string

const (
	SourceTypeOrganic  SourceType = "organic"
	SourceTypePaid     SourceType = "paid"
	SourceTypeDirect   SourceType = "direct"
	SourceTypeReferral SourceType = "referral"
	SourceTypeSocial   SourceType = "social"
	SourceTypeEmail    SourceType = "email"
	SourceTypeOther    SourceType = "other"
)

// ===========================================
// RAW VISIT (ingest payload)
// ===========================================

// RawVisit is a single tracked page visit as submitted by the tracking
// snippet. UTM fields, referrer and click IDs are all optional; the parser
// applies documented defaults.
type RawVisit struct {
	WorkspaceID string    `json:"workspace_id"`
	VisitorID   string    `json:"visitor_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page"`

	// Ad platform click IDs
	GCLID  string `json:"gclid,omitempty"`
	FBCLID string `json:"fbclid,omitempty"`

	// Client IP for optional geo enrichment
	IP string `json:"ip,omitempty"`
}

// ===========================================
// TOUCHPOINT
// ===========================================

// Touchpoint is one recorded marketing exposure. Source and Medium are
// never empty; the parser defaults them to "direct"/"none".
type Touchpoint struct {
	Timestamp time.Time `json:"timestamp"`

	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`

	LandingPage string `json:"landing_page,omitempty"`
	Referrer    string `json:"referrer,omitempty"`

	SourceType SourceType `json:"source_type"`
	IsPaid     bool       `json:"is_paid"`

	// Geo info (filled when a geo resolver is configured)
	GeoCountry string `json:"geo_country,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`
}

// Key returns the composite source/medium key for this touchpoint.
func (t Touchpoint) Key() SourceKey {
	return SourceKey{Source: t.Source, Medium: t.Medium}
}

// ===========================================
// ATTRIBUTION PATH
// ===========================================

// AttributionPath is the ordered, append-only touchpoint history for one
// (visitor, workspace) pair. Touchpoints are stored in append order, which
// is the chronological order of arrival.
type AttributionPath struct {
	ID          string `json:"id"`
	VisitorID   string `json:"visitor_id"`
	WorkspaceID string `json:"workspace_id"`

	Touchpoints []Touchpoint `json:"touchpoints"`

	// FirstTouch is set on path creation and never overwritten.
	FirstTouch *Touchpoint `json:"first_touch,omitempty"`
	// LastTouch is overwritten on every append.
	LastTouch *Touchpoint `json:"last_touch,omitempty"`

	// Version is the optimistic-lock counter used by persistent stores.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the path. Stores hand out clones so readers
// never observe a path mid-append.
func (p *AttributionPath) Clone() *AttributionPath {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Touchpoints = make([]Touchpoint, len(p.Touchpoints))
	copy(cp.Touchpoints, p.Touchpoints)
	if p.FirstTouch != nil {
		ft := *p.FirstTouch
		cp.FirstTouch = &ft
	}
	if p.LastTouch != nil {
		lt := *p.LastTouch
		cp.LastTouch = &lt
	}
	return &cp
}

// TouchpointsInWindow returns the touchpoints whose timestamps fall inside
// the given window (inclusive).
func (p *AttributionPath) TouchpointsInWindow(w Window) []Touchpoint {
	var out []Touchpoint
	for _, tp := range p.Touchpoints {
		if w.Contains(tp.Timestamp) {
			out = append(out, tp)
		}
	}
	return out
}

// UniqueSources returns the distinct sources seen on the path, in first-seen
// order.
func (p *AttributionPath) UniqueSources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tp := range p.Touchpoints {
		if _, ok := seen[tp.Source]; ok {
			continue
		}
		seen[tp.Source] = struct{}{}
		out = append(out, tp.Source)
	}
	return out
}

// HasPaidTraffic reports whether any touchpoint on the path is paid.
func (p *AttributionPath) HasPaidTraffic() bool {
	for _, tp := range p.Touchpoints {
		if tp.IsPaid {
			return true
		}
	}
	return false
}

// ===========================================
// ATTRIBUTION WEIGHT
// ===========================================

// AttributionWeight is the credit assigned to one touchpoint of a path by
// an attribution model. Weights for a non-empty path sum to 1.0.
type AttributionWeight struct {
	TouchpointIndex int     `json:"touchpoint_index"`
	Weight          float64 `json:"weight"`
	Source          string  `json:"source"`
	Medium          string  `json:"medium"`
	Campaign        string  `json:"campaign,omitempty"`
}

// Key returns the composite source/medium key for this weight.
func (w AttributionWeight) Key() SourceKey {
	return SourceKey{Source: w.Source, Medium: w.Medium}
}

// ===========================================
// SOURCE KEY
// ===========================================

// SourceKey is the composite aggregation key. It stays a struct internally
// and is serialized to "source:medium" only at the API boundary, so source
// values containing the delimiter cannot corrupt grouping.
type SourceKey struct {
	Source string
	Medium string
}

func (k SourceKey) String() string {
	return k.Source + ":" + k.Medium
}

// ===========================================
// TIME WINDOW
// ===========================================

// Window is an inclusive time range used by aggregation queries.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window (inclusive on both
// ends).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Days returns each UTC day covered by the window formatted as 2006-01-02.
func (w Window) Days() []string {
	var days []string
	start := w.From.UTC().Truncate(24 * time.Hour)
	end := w.To.UTC()
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}
