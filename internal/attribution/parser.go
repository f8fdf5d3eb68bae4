package attribution

import (
	"net/url"
	"strings"
	"time"

	"github.com/echotrack/attribution/internal/models"
)

// knownSearchEngines maps registrable search-engine domains to source labels.
var knownSearchEngines = map[string]string{
	"google.com":     "google",
	"bing.com":       "bing",
	"yahoo.com":      "yahoo",
	"duckduckgo.com": "duckduckgo",
}

// knownSocialNetworks maps registrable social-network domains to source labels.
var knownSocialNetworks = map[string]string{
	"facebook.com":  "facebook",
	"twitter.com":   "twitter",
	"linkedin.com":  "linkedin",
	"instagram.com": "instagram",
	"tiktok.com":    "tiktok",
}

// ParseVisit normalizes a raw visit into a canonical, classified touchpoint.
// It never fails: malformed referrers are treated as absent and missing
// source/medium fall back to "direct"/"none". Pure function of its input.
func ParseVisit(v *models.RawVisit) models.Touchpoint {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	referrer := normalizeReferrer(v.Referrer, v.LandingPage)

	tp := models.Touchpoint{
		Timestamp:   ts,
		Source:      strings.TrimSpace(v.UTMSource),
		Medium:      strings.TrimSpace(v.UTMMedium),
		Campaign:    v.UTMCampaign,
		Term:        v.UTMTerm,
		Content:     v.UTMContent,
		LandingPage: v.LandingPage,
		Referrer:    referrer,
	}

	// UTM parameters take precedence. Without them, fall back to ad click
	// IDs, then to the referrer.
	if tp.Source == "" && tp.Medium == "" {
		switch {
		case v.GCLID != "":
			tp.Source, tp.Medium = "google", "cpc"
		case v.FBCLID != "":
			tp.Source, tp.Medium = "facebook", "paid"
		case referrer != "":
			tp.Source, tp.Medium = parseReferrer(referrer)
		}
	}

	if tp.Source == "" {
		tp.Source = "direct"
	}
	if tp.Medium == "" {
		tp.Medium = "none"
	}

	Classify(&tp)
	return tp
}

// parseReferrer derives (source, medium) from a referrer URL. Search engines
// yield ("<label>", "organic"), social networks ("<label>", "social") and any
// other external domain ("<host>", "referral").
func parseReferrer(referrer string) (source, medium string) {
	host := referrerHost(referrer)
	if host == "" {
		return "direct", "none"
	}

	if label, ok := matchDomain(host, knownSearchEngines); ok {
		return label, "organic"
	}
	if label, ok := matchDomain(host, knownSocialNetworks); ok {
		return label, "social"
	}
	return host, "referral"
}

// normalizeReferrer drops malformed referrers and self-referrals (referrer
// host equal to the landing page host).
func normalizeReferrer(referrer, landingPage string) string {
	host := referrerHost(referrer)
	if host == "" {
		return ""
	}
	if lpHost := referrerHost(landingPage); lpHost != "" && lpHost == host {
		return ""
	}
	return referrer
}

// referrerHost extracts the lowercased host from a URL, stripping a leading
// "www.". Returns "" for malformed or schemeless input.
func referrerHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// matchDomain matches host against a known-domain map, either exactly or as
// a subdomain, returning the mapped source label.
func matchDomain(host string, known map[string]string) (string, bool) {
	for domain, label := range known {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return label, true
		}
	}
	return "", false
}

// ExtractKeyword returns the search keyword for a touchpoint: the UTM term
// when present, otherwise the q/query parameter of a search-engine referrer.
func ExtractKeyword(tp models.Touchpoint) string {
	if tp.Term != "" {
		return tp.Term
	}
	if tp.Referrer == "" {
		return ""
	}
	u, err := url.Parse(tp.Referrer)
	if err != nil {
		return ""
	}
	if _, ok := matchDomain(strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), knownSearchEngines); !ok {
		return ""
	}
	q := u.Query()
	if kw := q.Get("q"); kw != "" {
		return kw
	}
	return q.Get("query")
}
