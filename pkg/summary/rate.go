package summary

// RateSentinel is the rate of a node with nothing to cover; it sorts above
// every attainable rate.
const RateSentinel = 1000.0

// Rate computes the sort rate of a coverage kind. The leading term is the
// permille coverage divided by ten, so full coverage tops out near 102 and
// every attainable rate stays below the empty-node sentinel; the trailing
// 1/found term breaks percentage ties so larger nodes sort above smaller
// ones.
func Rate(hit, found uint64) float64 {
	if found == 0 {
		return RateSentinel
	}

	return float64(hit)*1000/float64(found)/10 + 2 - 1/float64(found)
}

// RateOf applies Rate to a Counts.
func RateOf(c *Counts) float64 {
	return Rate(c.Hit, c.Found)
}

// Percent is the plain display percentage (0..100) of a Counts; nodes with
// nothing found display as 0.
func Percent(c *Counts) float64 {
	if c.Found == 0 {
		return 0
	}

	return float64(c.Hit) * 100 / float64(c.Found)
}
