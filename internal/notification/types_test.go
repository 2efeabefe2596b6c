package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/category"
)

func TestRequestValidate(t *testing.T) {
	t.Parallel()
	reg := category.NewRegistry()

	r, err := Request{Category: "Inventory", Title: " Low flour "}.Validate(reg)
	require.NoError(t, err)
	assert.Equal(t, category.Inventory, r.Category)
	assert.Equal(t, reg.DefaultPriority(category.Inventory), r.Priority)
	assert.Equal(t, "Low flour", r.Title)

	_, err = Request{Category: "pantry"}.Validate(reg)
	assert.True(t, errors.Is(err, ErrInvalidCategory))

	for _, p := range []int{-1, 21} {
		_, err = Request{Category: category.Info, Priority: p}.Validate(reg)
		assert.True(t, errors.Is(err, ErrInvalidPriority), p)
	}
}

func TestBand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "critical", Band(1))
	assert.Equal(t, "critical", Band(5))
	assert.Equal(t, "high", Band(6))
	assert.Equal(t, "normal", Band(15))
	assert.Equal(t, "low", Band(20))
}

func TestFilterMatch(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := Notification{ID: 1, Category: category.Inventory, Priority: 9, Source: "pantry", CreatedAt: base}

	assert.True(t, Filter{}.Match(n))
	assert.True(t, Filter{Categories: []category.Category{category.Sync, category.Inventory}}.Match(n))
	assert.False(t, Filter{Categories: []category.Category{category.Sync}}.Match(n))
	assert.False(t, Filter{MaxPriority: 5}.Match(n))
	assert.False(t, Filter{MinPriority: 10}.Match(n))
	assert.True(t, Filter{Since: base}.Match(n))
	assert.False(t, Filter{Until: base}.Match(n))
	assert.False(t, Filter{Read: Bool(true)}.Match(n))
	assert.True(t, Filter{Acknowledged: Bool(false)}.Match(n))
	assert.False(t, Filter{Source: "pos"}.Match(n))
}

func TestActionText(t *testing.T) {
	t.Parallel()
	b, err := ActionEscalate.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "escalate", string(b))
	assert.True(t, Decision{Action: ActionEscalate}.Immediate())
	assert.False(t, Decision{Action: ActionBatch}.Immediate())
}
