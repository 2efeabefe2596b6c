package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/batch"
	"larder/internal/category"
	"larder/internal/escalation"
	"larder/internal/notification"
	"larder/internal/rules"
	"larder/internal/store"
	logx "larder/pkg/logx"
)

var t0 = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

func sampleState() State {
	delivered := t0.Add(time.Second)
	acked := t0.Add(time.Minute)
	return State{
		NextID: 4,
		Log: []notification.Notification{
			{ID: 1, Category: category.Critical, Priority: 3, Title: "freezer", CreatedAt: t0, DeliveredAt: &delivered, Acknowledged: true, AcknowledgedAt: &acked, EscalationCount: 1},
			{ID: 3, Category: category.Inventory, Priority: 9, Title: "flour", Source: "pos", CreatedAt: t0.Add(time.Minute), DeliveredAt: &delivered, GroupID: "g1"},
		},
		Suppressed: []store.Suppression{{At: t0, ID: 2, Category: category.Info, Reason: "rate limited"}},
		Rules: []rules.Rule{
			{Category: category.Inventory, PriorityThreshold: 10, Frequency: rules.Batched, BatchWindow: 10 * time.Minute, MaxPerHour: 5},
		},
		Batches: []batch.Batch{{
			Key:      batch.Key{Category: category.Sync, Bucket: "5m0s"},
			GroupID:  "g2",
			OpenedAt: t0,
			FlushAt:  t0.Add(5 * time.Minute),
			Items:    []notification.Notification{{ID: 5, Category: category.Sync, Priority: 15, CreatedAt: t0}},
		}},
		Escalations: []escalation.Timer{{ID: 7, Category: category.Emergency, Level: 1, MaxLevel: 3, NextFire: t0.Add(time.Hour), State: escalation.Pending}},
	}
}

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "larder.json")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "larder.db")},
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			_, ok, err := st.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			in := sampleState()
			in.SavedAt = t0
			require.NoError(t, st.Save(ctx, in))

			out, ok, err := st.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, StateVersion, out.Version)
			assert.Equal(t, in.NextID, out.NextID)
			assert.Equal(t, in.Log, out.Log)
			assert.Equal(t, in.Suppressed, out.Suppressed)
			assert.Equal(t, in.Rules, out.Rules)
			assert.Equal(t, in.Batches, out.Batches)
			assert.Equal(t, in.Escalations, out.Escalations)
		})
	}
}

func TestSaveAppendsAndUpdates(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			in := sampleState()
			require.NoError(t, st.Save(ctx, in))

			read := t0.Add(time.Hour)
			in.Log[1].Read = true
			in.Log[1].ReadAt = &read
			in.Log = append(in.Log, notification.Notification{ID: 4, Category: category.Staff, Priority: 10, CreatedAt: t0.Add(time.Hour)})
			in.Suppressed = append(in.Suppressed, store.Suppression{At: t0.Add(time.Hour), ID: 5, Category: category.Info})
			in.Batches = nil
			in.NextID = 6
			require.NoError(t, st.Save(ctx, in))

			out, _, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, in.Log, out.Log)
			assert.Len(t, out.Suppressed, 2)
			assert.Empty(t, out.Batches)
			assert.Equal(t, uint64(6), out.NextID)

			// A replaced log (after an import) does not keep stale rows.
			in.Log = in.Log[2:]
			require.NoError(t, st.Save(ctx, in))
			out, _, err = st.Load(ctx)
			require.NoError(t, err)
			require.Len(t, out.Log, 1)
			assert.Equal(t, uint64(4), out.Log[0].ID)
		})
	}
}
