package fixedpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/clobcore/internal/fixedpoint"
)

func TestFeeRoundHalfToEven(t *testing.T) {
	cases := []struct {
		name     string
		notional fixedpoint.Fixed
		bps      fixedpoint.BasisPoints
		want     fixedpoint.Fixed
	}{
		{"exact", 10_000, 5, 5},
		{"round down", 10_001, 1, 1},
		{"tie rounds to even, 2", 250, 20, 0}, // 250*20/10000 = 0.5 -> 0 (even)
		{"tie rounds to even, 3", 750, 20, 2}, // 750*20/10000 = 1.5 -> 2 (even)
		{"zero", 0, 100, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := fixedpoint.Fee(c.notional, c.bps)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestNotionalOverflow(t *testing.T) {
	_, err := fixedpoint.Notional(1<<40, 1<<40)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}

func TestNotionalBasic(t *testing.T) {
	got, err := fixedpoint.Notional(100, 7)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Fixed(700), got)
}

func TestMul128NarrowOverflow(t *testing.T) {
	_, err := fixedpoint.Mul128Narrow(-1, 5)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}
