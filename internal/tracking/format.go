package tracking

import (
	"fmt"
	"math"
	"time"
)

// ETA buckets used to colour arrival estimates.
const (
	BucketPassed   = "passed"
	BucketArriving = "arriving"
	BucketImminent = "imminent" // <= 2 min
	BucketSoon     = "soon"     // <= 5 min
	BucketLater    = "later"
	BucketUnknown  = "unknown"
)

func FormatDistance(meters *float64) string {
	if meters == nil {
		return "N/A"
	}
	if *meters < 1000 {
		return fmt.Sprintf("%.0f m", math.Round(*meters))
	}
	return fmt.Sprintf("%.1f km", *meters/1000)
}

func FormatSpeed(kmh *float64) string {
	if kmh == nil {
		return "calculating"
	}
	return fmt.Sprintf("%.1f km/h", *kmh)
}

// ETABucket classifies the tracking's arrival estimate.
func (t *Tracking) ETABucket(now time.Time) string {
	if t.HasPassed() {
		return BucketPassed
	}
	m, ok := t.EstimatedMinutes(now)
	switch {
	case !ok:
		return BucketUnknown
	case m == 0:
		return BucketArriving
	case m <= 2:
		return BucketImminent
	case m <= 5:
		return BucketSoon
	default:
		return BucketLater
	}
}

// StatusBadge describes how close the bus is, or "" when it is far away or
// its distance is unknown.
func (t *Tracking) StatusBadge() string {
	if t.HasPassed() {
		return "passed"
	}
	if t.DistanceToStop == nil {
		return ""
	}
	switch d := *t.DistanceToStop; {
	case d < 100:
		return "arriving"
	case d < 300:
		return "very-close"
	case d < 1000:
		return "approaching"
	}
	return ""
}
