package attribution

import (
	"strings"

	"github.com/echotrack/attribution/internal/models"
)

var paidMediums = map[string]bool{
	"cpc":  true,
	"ppc":  true,
	"paid": true,
}

var searchEngineNames = map[string]bool{
	"google":     true,
	"bing":       true,
	"yahoo":      true,
	"duckduckgo": true,
}

var socialNetworkNames = map[string]bool{
	"facebook":  true,
	"twitter":   true,
	"linkedin":  true,
	"instagram": true,
	"tiktok":    true,
}

// ClassifySource determines the source type of a touchpoint. Rules are
// evaluated in a fixed priority order so ambiguous combinations always
// resolve the same way: paid > organic > social > email > referral > direct.
func ClassifySource(tp models.Touchpoint) models.SourceType {
	source := strings.ToLower(tp.Source)
	medium := strings.ToLower(tp.Medium)
	// "none" is the parse-time default for an absent medium.
	noMedium := medium == "" || medium == "none"

	switch {
	case paidMediums[medium]:
		return models.SourceTypePaid
	case medium == "organic" || (source == "google" && noMedium) || searchEngineNames[source]:
		return models.SourceTypeOrganic
	case medium == "social" || socialNetworkNames[source]:
		return models.SourceTypeSocial
	case medium == "email" || source == "email":
		return models.SourceTypeEmail
	case medium == "referral" || tp.Referrer != "":
		return models.SourceTypeReferral
	case source == "direct" || noMedium:
		return models.SourceTypeDirect
	default:
		return models.SourceTypeOther
	}
}

// IsPaidTraffic reports whether the touchpoint represents paid traffic.
func IsPaidTraffic(tp models.Touchpoint) bool {
	if paidMediums[strings.ToLower(tp.Medium)] {
		return true
	}
	return ClassifySource(tp) == models.SourceTypePaid
}

// Classify fills the derived SourceType and IsPaid fields of a touchpoint.
func Classify(tp *models.Touchpoint) {
	tp.SourceType = ClassifySource(*tp)
	tp.IsPaid = IsPaidTraffic(*tp)
}
