package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/category"
	"larder/internal/notification"
)

func TestSnapshotCounts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 20, 12, 15, 0, 0, time.UTC)
	s := New()

	crit := mk(1, category.Critical, 3, now.Add(-10*time.Minute))
	crit.EscalationCount = 3
	crit.Exhausted = true
	s.Append(crit)

	acked := mk(2, category.Security, 2, now.Add(-2*time.Hour))
	acked.Acknowledged = true
	acked.Read = true
	s.Append(acked)

	s.Append(mk(3, category.Inventory, 9, now.Add(-26*time.Hour)))
	s.Append(mk(4, category.Info, 18, now.Add(-3*24*time.Hour)))
	s.Append(mk(5, category.Info, 18, now.Add(-30*time.Hour)))
	s.RecordSuppressed(Suppression{At: now, ID: 6, Category: category.Recipe})

	snap := s.Snapshot(now, time.UTC)
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 4, snap.Unread)
	assert.Equal(t, 2, snap.Today)
	assert.Equal(t, 1, snap.Critical)
	assert.Equal(t, 1, snap.Acknowledged)
	assert.Equal(t, 1, snap.Escalated)
	assert.Equal(t, 1, snap.Exhausted)
	assert.Equal(t, 1, snap.Suppressed)
	assert.Equal(t, 1, snap.SuppressedByCategory[category.Recipe])

	assert.Equal(t, 2, snap.ByCategory[category.Info])
	assert.Equal(t, map[string]int{"critical": 2, "high": 1, "normal": 0, "low": 2}, snap.ByPriorityBand)

	require.Len(t, snap.Hourly, HourlyBuckets)
	assert.Equal(t, time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC), snap.Hourly[23].Start)
	assert.Equal(t, 1, snap.Hourly[23].Count)
	assert.Equal(t, 1, snap.Hourly[21].Count)
	// 26h ago is outside the hourly range.
	sum := 0
	for _, b := range snap.Hourly {
		sum += b.Count
	}
	assert.Equal(t, 2, sum)

	require.Len(t, snap.Daily, DailyBuckets)
	assert.Equal(t, time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), snap.Daily[0].Start)
	assert.Equal(t, 2, snap.Daily[6].Count)
	assert.Equal(t, 2, snap.Daily[5].Count)
	assert.Equal(t, 1, snap.Daily[3].Count)

	assert.Equal(t, Trend{Today: 2, Yesterday: 2, Percent: 0}, snap.DayOverDay)
}

func TestSnapshotEmpty(t *testing.T) {
	t.Parallel()
	snap := Compute(nil, nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Zero(t, snap.Total)
	assert.Len(t, snap.Hourly, HourlyBuckets)
	assert.Equal(t, 0.0, snap.DayOverDay.Percent)
	assert.Len(t, snap.ByPriorityBand, len(notification.Bands))
}

func TestPercentChange(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100.0, percentChange(0, 3))
	assert.Equal(t, 50.0, percentChange(2, 3))
	assert.Equal(t, -50.0, percentChange(4, 2))
}
