package hilink

// Signal quality labels.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
	QualityVeryPoor  = "very poor"
	QualityNoSignal  = "no signal"
)

// RSSIToDBm converts a raw rssi reading. Positive values are the ASU style
// encoding some firmware reports; zero and negative values are already dBm.
func RSSIToDBm(raw int) int {
	if raw > 0 {
		return -113 + 2*raw
	}
	return raw
}

// QualityFromDBm returns the bar count (0-5) and quality label for a dBm value.
func QualityFromDBm(dbm int) (int, string) {
	switch {
	case dbm >= -65:
		return 5, QualityExcellent
	case dbm >= -75:
		return 4, QualityGood
	case dbm >= -85:
		return 3, QualityFair
	case dbm >= -95:
		return 2, QualityPoor
	case dbm >= -105:
		return 1, QualityVeryPoor
	}
	return 0, QualityNoSignal
}

// QualityPercent expresses a bar count as a percentage.
func QualityPercent(bars int) float64 {
	if bars < 0 {
		return 0
	}
	if bars > 5 {
		bars = 5
	}
	return float64(bars) * 20
}
