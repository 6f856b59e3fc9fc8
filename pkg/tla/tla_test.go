package tla_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, cat := range tla.All() {
		parsed, ok := tla.Parse(cat.String())
		require.True(t, ok, "parse %s", cat)
		assert.Equal(t, cat, parsed)
	}

	_, ok := tla.Parse("XXX")
	assert.False(t, ok)
}

func TestInvalid(t *testing.T) {
	t.Parallel()

	bad := tla.TLA(42)
	assert.False(t, bad.Valid())
	assert.Equal(t, "TLA(42)", bad.String())
}

func TestLocationAndTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cat      tla.TLA
		inSource bool
		counted  bool
		hit      bool
	}{
		{tla.GNC, true, true, true},
		{tla.UNC, true, true, false},
		{tla.GIC, true, true, true},
		{tla.UIC, true, true, false},
		{tla.CBC, true, true, true},
		{tla.GBC, true, true, true},
		{tla.LBC, true, true, false},
		{tla.UBC, true, true, false},
		{tla.ECB, true, false, false},
		{tla.EUB, true, false, false},
		{tla.DCB, false, false, false},
		{tla.DUB, false, false, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.inSource, tc.cat.InSource(), "%s InSource", tc.cat)
		assert.Equal(t, tc.counted, tc.cat.Counted(), "%s Counted", tc.cat)
		assert.Equal(t, tc.hit, tc.cat.Hit(), "%s Hit", tc.cat)
	}
}

func TestAssignment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, tla.GNC, tla.ForInsert(3))
	assert.Equal(t, tla.UNC, tla.ForInsert(0))
	assert.Equal(t, tla.DCB, tla.ForDelete(1))
	assert.Equal(t, tla.DUB, tla.ForDelete(0))
	assert.Equal(t, tla.CBC, tla.ForEqualPair(7, 2))
	assert.Equal(t, tla.GBC, tla.ForEqualPair(0, 2))
	assert.Equal(t, tla.LBC, tla.ForEqualPair(7, 0))
	assert.Equal(t, tla.UBC, tla.ForEqualPair(0, 0))
	assert.Equal(t, tla.ECB, tla.ForOnlyBase(1))
	assert.Equal(t, tla.EUB, tla.ForOnlyBase(0))
	assert.Equal(t, tla.GIC, tla.ForOnlyCurrent(1))
	assert.Equal(t, tla.UIC, tla.ForOnlyCurrent(0))
}
