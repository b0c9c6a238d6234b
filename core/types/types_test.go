// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package types_test

import (
	"testing"
	"time"

	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirection(t *testing.T) {
	t.Run("parse and print", func(t *testing.T) {
		d, err := types.DirectionFromString("pay-fixed")
		require.NoError(t, err)
		assert.Equal(t, types.DirectionPayFixed, d)
		assert.Equal(t, "pay-floating", types.DirectionPayFloating.String())

		_, err = types.DirectionFromString("sideways")
		assert.ErrorIs(t, err, types.ErrInvalidDirection)
	})

	t.Run("text round trip", func(t *testing.T) {
		var d types.Direction
		require.NoError(t, d.UnmarshalText([]byte("PAY_FLOATING")))
		assert.Equal(t, types.DirectionPayFloating, d)
		assert.False(t, d.ProfitsWhenFloatingRises())
		assert.False(t, types.DirectionUnspecified.IsValid())
	})
}

func TestMaturities(t *testing.T) {
	for _, d := range []uint32{30, 90, 180, 365} {
		assert.True(t, types.IsValidMaturity(d))
	}
	assert.False(t, types.IsValidMaturity(0))
	assert.False(t, types.IsValidMaturity(60))

	start := time.Unix(1_700_000_000, 0)
	assert.Equal(t, start.Add(90*24*time.Hour), types.MaturityFrom(start, 90))

	assert.True(t, types.YearFraction(365*24*time.Hour).Equal(num.DecimalOne()))
	assert.True(t, types.YearFraction(-time.Hour).IsZero())
}

func TestPositionClone(t *testing.T) {
	p := &types.Position{
		ID:             1,
		Notional:       num.NewUint(100),
		Margin:         num.NewUint(10),
		AccumulatedPnL: num.NewInt(-3),
	}
	cpy := p.Clone()
	cpy.Margin.AddSum(num.NewUint(5))
	cpy.AccumulatedPnL.Add(num.NewInt(10))
	assert.Equal(t, "10", p.Margin.String())
	assert.Equal(t, "-3", p.AccumulatedPnL.String())
	assert.Equal(t, "7", cpy.AccumulatedPnL.String())
}

func TestValidRate(t *testing.T) {
	assert.True(t, types.IsValidRate(num.MustDecimalFromString("0.05")))
	assert.True(t, types.IsValidRate(num.DecimalOne()))
	assert.False(t, types.IsValidRate(num.DecimalZero()))
	assert.False(t, types.IsValidRate(num.MustDecimalFromString("1.01")))
	assert.False(t, types.IsValidRate(num.MustDecimalFromString("-0.01")))
}
