package organism

// AlertTier is a severity classification derived purely from a health value.
type AlertTier int

const (
	TierOK AlertTier = iota
	TierDegraded
	TierImpaired
	TierCritical
	TierFailed
)

// Tier thresholds are lower-inclusive for the higher tier.
const (
	OptimalThreshold  = 0.85
	DegradedThreshold = 0.60
	ImpairedThreshold = 0.35
)

// TierFor classifies a health (or awareness) value.
func TierFor(v float64) AlertTier {
	switch {
	case v >= OptimalThreshold:
		return TierOK
	case v >= DegradedThreshold:
		return TierDegraded
	case v >= ImpairedThreshold:
		return TierImpaired
	case v > 0:
		return TierCritical
	default:
		return TierFailed
	}
}

func (t AlertTier) String() string {
	switch t {
	case TierOK:
		return "ok"
	case TierDegraded:
		return "degraded"
	case TierImpaired:
		return "impaired"
	case TierCritical:
		return "critical"
	case TierFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name.
func (t AlertTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IsAlert reports whether the tier is worse than ok.
func (t AlertTier) IsAlert() bool {
	return t != TierOK
}
