package category

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Category
		ok   bool
	}{
		{raw: "inventory", want: Inventory, ok: true},
		{raw: "  Security ", want: Security, ok: true},
		{raw: "EMERGENCY", want: Emergency, ok: true},
		{raw: "pantry", ok: false},
		{raw: "*", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if !tt.ok {
			require.Error(t, err, tt.raw)
			assert.True(t, errors.Is(err, ErrInvalidCategory))
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseRuleTargetAcceptsWildcard(t *testing.T) {
	t.Parallel()
	c, err := ParseRuleTarget("*")
	require.NoError(t, err)
	assert.Equal(t, Wildcard, c)

	c, err = ParseRuleTarget("")
	require.NoError(t, err)
	assert.Equal(t, Wildcard, c)
}

func TestDefaultPrioritiesFollowOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for i, c := range All {
		assert.Equal(t, i+1, r.DefaultPriority(c), c)
	}
	m, ok := r.Lookup(Inventory)
	require.True(t, ok)
	assert.Equal(t, FrequencyBatched, m.Frequency)
	assert.Equal(t, DefaultBatchWindow, m.BatchWindow)
}

func TestExemptSet(t *testing.T) {
	t.Parallel()
	for _, c := range All {
		want := c == Emergency || c == Security || c == Critical
		assert.Equal(t, want, c.Exempt(), c)
	}
}

func TestOverride(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Override(Recipe, Override{Priority: 4, Icon: "🥘"}))
	m, _ := r.Lookup(Recipe)
	assert.Equal(t, 4, m.Priority)
	assert.Equal(t, "🥘", m.Icon)
	assert.Equal(t, "#00897b", m.Color)

	assert.Error(t, r.Override(Recipe, Override{Priority: 21}))
	assert.Error(t, r.Override(Recipe, Override{Frequency: "hourly"}))
	assert.Error(t, r.Override("pantry", Override{}))
	assert.Len(t, r.List(), len(All))
}
