package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/echotrack/attribution/internal/models"
)

func TestParseVisitUTMPrecedence(t *testing.T) {
	// UTM parameters win even when click IDs and a referrer are present.
	visit := &models.RawVisit{
		WorkspaceID: "ws-1",
		VisitorID:   "v-1",
		UTMSource:   "newsletter",
		UTMMedium:   "email",
		UTMCampaign: "spring-promo",
		GCLID:       "abc123",
		Referrer:    "https://www.google.com/search?q=plumber",
		LandingPage: "https://example.com/",
	}

	tp := ParseVisit(visit)
	assert.Equal(t, "newsletter", tp.Source)
	assert.Equal(t, "email", tp.Medium)
	assert.Equal(t, "spring-promo", tp.Campaign)
	assert.Equal(t, models.SourceTypeEmail, tp.SourceType)
}

func TestParseVisitClickIDs(t *testing.T) {
	tests := []struct {
		name       string
		visit      models.RawVisit
		wantSource string
		wantMedium string
		wantPaid   bool
	}{
		{
			name:       "gclid maps to google cpc",
			visit:      models.RawVisit{GCLID: "abc"},
			wantSource: "google",
			wantMedium: "cpc",
			wantPaid:   true,
		},
		{
			name:       "fbclid maps to facebook paid",
			visit:      models.RawVisit{FBCLID: "xyz"},
			wantSource: "facebook",
			wantMedium: "paid",
			wantPaid:   true,
		},
		{
			name:       "gclid beats fbclid",
			visit:      models.RawVisit{GCLID: "abc", FBCLID: "xyz"},
			wantSource: "google",
			wantMedium: "cpc",
			wantPaid:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := ParseVisit(&tt.visit)
			assert.Equal(t, tt.wantSource, tp.Source)
			assert.Equal(t, tt.wantMedium, tp.Medium)
			assert.Equal(t, tt.wantPaid, tp.IsPaid)
		})
	}
}

func TestParseVisitReferrerClassification(t *testing.T) {
	tests := []struct {
		name       string
		referrer   string
		wantSource string
		wantMedium string
	}{
		{"google search", "https://www.google.com/search?q=roofing", "google", "organic"},
		{"google subdomain", "https://news.google.com/", "google", "organic"},
		{"bing", "https://bing.com/search?q=roofing", "bing", "organic"},
		{"facebook", "https://www.facebook.com/somepage", "facebook", "social"},
		{"tiktok", "https://www.tiktok.com/@creator", "tiktok", "social"},
		{"other site", "https://www.partner-blog.com/review", "partner-blog.com", "referral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := ParseVisit(&models.RawVisit{Referrer: tt.referrer, LandingPage: "https://example.com/"})
			assert.Equal(t, tt.wantSource, tp.Source)
			assert.Equal(t, tt.wantMedium, tp.Medium)
		})
	}
}

func TestParseVisitDefaultsToDirect(t *testing.T) {
	tp := ParseVisit(&models.RawVisit{LandingPage: "https://example.com/"})
	assert.Equal(t, "direct", tp.Source)
	assert.Equal(t, "none", tp.Medium)
	assert.Equal(t, models.SourceTypeDirect, tp.SourceType)
	assert.False(t, tp.IsPaid)
}

func TestParseVisitMalformedReferrer(t *testing.T) {
	// Malformed and schemeless referrers are treated as absent, not fatal.
	for _, referrer := range []string{"not a url", "%%%", "example.com/page"} {
		tp := ParseVisit(&models.RawVisit{Referrer: referrer})
		assert.Equal(t, "direct", tp.Source, "referrer %q", referrer)
		assert.Equal(t, "none", tp.Medium, "referrer %q", referrer)
	}
}

func TestParseVisitSelfReferralDropped(t *testing.T) {
	tp := ParseVisit(&models.RawVisit{
		Referrer:    "https://example.com/pricing",
		LandingPage: "https://www.example.com/contact",
	})
	assert.Empty(t, tp.Referrer)
	assert.Equal(t, "direct", tp.Source)
}

func TestParseVisitTimestampDefault(t *testing.T) {
	before := time.Now().UTC()
	tp := ParseVisit(&models.RawVisit{})
	after := time.Now().UTC()

	assert.False(t, tp.Timestamp.Before(before))
	assert.False(t, tp.Timestamp.After(after))

	fixed := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	tp = ParseVisit(&models.RawVisit{Timestamp: fixed})
	assert.Equal(t, fixed, tp.Timestamp)
}

func TestExtractKeyword(t *testing.T) {
	assert.Equal(t, "roof repair", ExtractKeyword(models.Touchpoint{Term: "roof repair"}))

	assert.Equal(t, "emergency plumber", ExtractKeyword(models.Touchpoint{
		Referrer: "https://www.google.com/search?q=emergency+plumber",
	}))

	// Non-search referrers never yield a keyword.
	assert.Empty(t, ExtractKeyword(models.Touchpoint{
		Referrer: "https://partner.com/?q=ignored",
	}))

	assert.Empty(t, ExtractKeyword(models.Touchpoint{}))
}
