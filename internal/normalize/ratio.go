package normalize

// PERatio derives the valuation ratio from the original raw market-cap and
// revenue strings, before any display cleaning. Both fields must be found
// and parseable and revenue must be strictly positive; otherwise the
// "Not calculable" sentinel is returned. The result is formatted to two
// decimal places, matching the source display convention.
func PERatio(marketCapRaw, annualRevenueRaw string) string {
	marketCap, ok := ParseMagnitude(marketCapRaw).Value()
	if !ok {
		return NotCalculableSentinel
	}
	revenue, ok := ParseMagnitude(annualRevenueRaw).Value()
	if !ok || !revenue.IsPositive() {
		return NotCalculableSentinel
	}
	return marketCap.Div(revenue).StringFixed(2)
}
