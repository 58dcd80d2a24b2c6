package services

// Plausibility thresholds. A fetched target is judged against the holding's
// reference price (current price, else cost basis).
const (
	// IsPlausible bounds: target must be within [0.5x, 50x] of the reference
	plausibleLowerFactor = 0.5
	plausibleUpperFactor = 50

	// IsRealisticEnough thresholds are asymmetric: upside targets may deviate
	// further than downside targets before being rejected.
	realisticUpsideLimitPct   = 200
	realisticDownsideLimitPct = 50
)

// IsPlausible reports whether a target is in a believable range relative to
// the reference price. With no reference the target cannot be judged and is
// plausible by default. Drives the UI status coloring, not acceptance.
func IsPlausible(target float64, referencePrice *float64) bool {
	if target < 1 {
		return false
	}
	if referencePrice == nil {
		return true
	}
	ref := *referencePrice
	return target >= plausibleLowerFactor*ref && target <= plausibleUpperFactor*ref
}

// IsRealisticEnough reports whether an automatically fetched target should be
// accepted into the record at all. Boundary values are accepted.
func IsRealisticEnough(target float64, referencePrice *float64) bool {
	if referencePrice == nil || *referencePrice <= 0 {
		return true
	}

	pct := DeviationPct(target, *referencePrice)
	if target > *referencePrice {
		return pct <= realisticUpsideLimitPct
	}
	return -pct <= realisticDownsideLimitPct
}

// DeviationPct returns the signed percentage deviation of target from the
// reference price
func DeviationPct(target, referencePrice float64) float64 {
	return (target - referencePrice) / referencePrice * 100
}
