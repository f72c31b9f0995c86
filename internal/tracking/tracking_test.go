package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/geo"
)

var t0 = time.Date(2025, 11, 16, 12, 0, 0, 0, time.UTC)

func feed(tr *Tracking, distances []float64, step time.Duration) time.Time {
	ts := t0
	for i, d := range distances {
		ts = t0.Add(time.Duration(i) * step)
		tr.AddPosition(Position{Location: geo.Point{Lat: -34.9, Lon: -56.1}, DistanceToStop: d, Timestamp: ts}, ts)
	}
	return ts
}

func TestAddPositionIsIdempotent(t *testing.T) {
	tr := New("2071", "111", "405", "4420", t0)
	p := Position{DistanceToStop: 1200, Timestamp: t0}

	require.True(t, tr.AddPosition(p, t0))
	first := *tr
	assert.False(t, tr.AddPosition(Position{DistanceToStop: 999, Timestamp: t0}, t0.Add(time.Second)))

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1200.0, *tr.DistanceToStop)
	assert.Equal(t, first.LastSeen, tr.LastSeen)
	assert.Equal(t, first.Speed, tr.Speed)
}

func TestAddPositionResetsMissing(t *testing.T) {
	tr := New("2071", "111", "405", "", t0)
	tr.MarkMissing()
	tr.MarkMissing()
	assert.Equal(t, 2, tr.MissingCount)
	assert.True(t, tr.Active, "going missing never deactivates")

	tr.AddPosition(Position{DistanceToStop: 500, Timestamp: t0}, t0)
	assert.Equal(t, 0, tr.MissingCount)
}

func TestRollingSpeed(t *testing.T) {
	t.Run("unknown with a single sample", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		feed(tr, []float64{1000}, 15*time.Second)
		assert.Nil(t, tr.RollingSpeed())
	})

	t.Run("positive when approaching", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		feed(tr, []float64{1200, 1000, 800}, 15*time.Second)
		require.NotNil(t, tr.Speed)
		// 400 m in 30 s = 13.333 m/s = 48 km/h
		assert.InDelta(t, 48.0, *tr.Speed, 0.001)
	})

	t.Run("negative when moving away", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		feed(tr, []float64{100, 200, 300}, 10*time.Second)
		require.NotNil(t, tr.Speed)
		assert.Less(t, *tr.Speed, 0.0)
	})

	t.Run("rounded to two decimals", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		feed(tr, []float64{1000, 990}, 7*time.Second)
		require.NotNil(t, tr.Speed)
		assert.Equal(t, 5.14, *tr.Speed)
	})
}

func TestRollingSpeedToleratesLateSamples(t *testing.T) {
	tr := New("s", "b", "l", "", t0)
	now := t0.Add(time.Minute)
	tr.AddPosition(Position{DistanceToStop: 800, Timestamp: t0.Add(30 * time.Second)}, now)
	tr.AddPosition(Position{DistanceToStop: 1200, Timestamp: t0}, now)
	tr.AddPosition(Position{DistanceToStop: 1000, Timestamp: t0.Add(15 * time.Second)}, now)

	ps := tr.Positions()
	require.Len(t, ps, 3)
	assert.True(t, ps[0].Timestamp.Before(ps[1].Timestamp) && ps[1].Timestamp.Before(ps[2].Timestamp))
	require.NotNil(t, tr.RollingSpeed())
	assert.InDelta(t, 48.0, *tr.RollingSpeed(), 0.001)
}

func TestHasPassed(t *testing.T) {
	tests := []struct {
		name      string
		distances []float64
		want      bool
	}{
		{"all decreasing", []float64{500, 400, 300, 200, 100}, false},
		{"all increasing", []float64{100, 150, 200, 250, 300}, true},
		{"fewer than five increasing", []float64{100, 150, 200, 250}, false},
		{"one dip breaks it", []float64{100, 150, 140, 250, 300}, false},
		{"flat pair is not an increase", []float64{100, 150, 150, 250, 300}, false},
		{"only the last five count", []float64{900, 800, 100, 150, 200, 250, 300}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("s", "b", "l", "", t0)
			feed(tr, tt.distances, 10*time.Second)
			assert.Equal(t, tt.want, tr.HasPassed())
		})
	}
}

func TestRetentionKeepsThirtyMostRecent(t *testing.T) {
	tr := New("s", "b", "l", "", t0)
	d := make([]float64, 40)
	for i := range d {
		d[i] = float64(4000 - i*10)
	}
	last := feed(tr, d, time.Second)

	ps := tr.Positions()
	require.Len(t, ps, MaxPositions)
	assert.Equal(t, last.Add(-29*time.Second), ps[0].Timestamp)
	assert.Equal(t, last, ps[len(ps)-1].Timestamp)
}

func TestRetentionDropsOldSamples(t *testing.T) {
	tr := New("s", "b", "l", "", t0)
	tr.AddPosition(Position{DistanceToStop: 900, Timestamp: t0}, t0)
	tr.AddPosition(Position{DistanceToStop: 800, Timestamp: t0.Add(time.Minute)}, t0.Add(time.Minute))

	later := t0.Add(12 * time.Minute)
	tr.AddPosition(Position{DistanceToStop: 100, Timestamp: later}, later)

	ps := tr.Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, later, ps[0].Timestamp)
}

func TestEstimatedArrival(t *testing.T) {
	t.Run("needs three samples", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{1200, 1000}, 15*time.Second)
		_, ok := tr.EstimatedArrival(now)
		assert.False(t, ok)
	})

	t.Run("distance over closing speed", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{1400, 1200, 1000}, 15*time.Second)
		eta, ok := tr.EstimatedArrival(now)
		require.True(t, ok)
		// 400 m / 30 s closing => 1000 m takes 75 s
		assert.InDelta(t, 75.0, eta.Sub(now).Seconds(), 0.01)

		m, ok := tr.EstimatedMinutes(now)
		require.True(t, ok)
		assert.Equal(t, 1, m)
	})

	t.Run("none when inactive", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{1400, 1200, 1000}, 15*time.Second)
		tr.Active = false
		_, ok := tr.EstimatedArrival(now)
		assert.False(t, ok)
	})

	t.Run("none when moving away", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{1000, 1100, 1200}, 15*time.Second)
		_, ok := tr.EstimatedMinutes(now)
		assert.False(t, ok)
	})

	t.Run("none once passed", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{100, 150, 200, 250, 300}, 15*time.Second)
		tr.Speed = ptr(30)
		_, ok := tr.EstimatedArrival(now)
		assert.False(t, ok)
	})

	t.Run("none at zero distance", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{200, 100, 0}, 15*time.Second)
		_, ok := tr.EstimatedArrival(now)
		assert.False(t, ok)
	})

	t.Run("recomputes when stored speed is missing", func(t *testing.T) {
		tr := New("s", "b", "l", "", t0)
		now := feed(tr, []float64{1400, 1200, 1000}, 15*time.Second)
		tr.Speed = nil
		_, ok := tr.EstimatedArrival(now)
		assert.True(t, ok)
	})
}

func TestEstimatedMinutesNeverNegative(t *testing.T) {
	tr := New("s", "b", "l", "", t0)
	now := feed(tr, []float64{1400, 1200, 1000}, 15*time.Second)
	m, ok := tr.EstimatedMinutes(now.Add(-time.Hour))
	require.True(t, ok)
	assert.GreaterOrEqual(t, m, 0)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "N/A", FormatDistance(nil))
	assert.Equal(t, "999 m", FormatDistance(ptr(999.4)))
	assert.Equal(t, "1.5 km", FormatDistance(ptr(1520)))
	assert.Equal(t, "calculating", FormatSpeed(nil))
	assert.Equal(t, "23.5 km/h", FormatSpeed(ptr(23.46)))
}

func TestETABucket(t *testing.T) {
	now := t0.Add(time.Minute)
	mk := func(dist, speed float64) *Tracking {
		tr := New("s", "b", "l", "", t0)
		for i := 0; i < 3; i++ {
			tr.AddPosition(Position{DistanceToStop: dist + float64(2-i), Timestamp: t0.Add(time.Duration(i) * time.Second)}, now)
		}
		tr.Speed = ptr(speed)
		return tr
	}
	assert.Equal(t, BucketArriving, mk(10, 36).ETABucket(now))
	assert.Equal(t, BucketImminent, mk(1000, 36).ETABucket(now))
	assert.Equal(t, BucketSoon, mk(2400, 36).ETABucket(now))
	assert.Equal(t, BucketLater, mk(6000, 36).ETABucket(now))
	assert.Equal(t, BucketUnknown, New("s", "b", "l", "", t0).ETABucket(now))

	passed := New("s", "b", "l", "", t0)
	feed(passed, []float64{100, 150, 200, 250, 300}, time.Second)
	assert.Equal(t, BucketPassed, passed.ETABucket(now))
	assert.Equal(t, "passed", passed.StatusBadge())
}

func TestSnapshot(t *testing.T) {
	tr := New("2071", "111", "405", "4420", t0)
	now := feed(tr, []float64{1400, 1200, 900.456}, 15*time.Second)
	s := tr.Snapshot(now)
	assert.Equal(t, "111", s.BusID)
	assert.Equal(t, 3, s.PositionsCount)
	require.NotNil(t, s.DistanceToStop)
	assert.Equal(t, 900.46, *s.DistanceToStop)
	require.NotNil(t, s.EstimatedMinutes)
	assert.Equal(t, "approaching", s.Badge)
}

func ptr(v float64) *float64 { return &v }
