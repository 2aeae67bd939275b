package extract

// Quality thresholds. All three signals must clear a grade's bar.
const (
	highSuccessRate  = 0.9
	highCharsPerPage = 800
	highConfidence   = 80

	mediumSuccessRate  = 0.7
	mediumCharsPerPage = 400
	mediumConfidence   = 60
)

// deriveQuality grades extraction output from the page success rate, text
// density, and mean page confidence. Anything that misses the medium bar
// on any signal is low, which covers placeholders automatically since
// they have no successful pages.
func deriveQuality(m Metadata) Quality {
	rate := 0.0
	if m.Pages > 0 {
		rate = float64(m.SuccessfulPages) / float64(m.Pages)
	}
	switch {
	case rate >= highSuccessRate && m.CharsPerPage > highCharsPerPage && m.AvgConfidence > highConfidence:
		return QualityHigh
	case rate >= mediumSuccessRate && m.CharsPerPage > mediumCharsPerPage && m.AvgConfidence > mediumConfidence:
		return QualityMedium
	default:
		return QualityLow
	}
}
