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

package risk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ratevault/swapcore/core/risk"
	"github.com/ratevault/swapcore/core/risk/mocks"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (f fixedClock) GetTimeNow() time.Time { return f.t }

type testEngine struct {
	*risk.Engine
	ledger *mocks.MockLedger
	oracle *mocks.MockOracle
}

func getTestEngine(t *testing.T) *testEngine {
	t.Helper()
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	oracle := mocks.NewMockOracle(ctrl)
	return &testEngine{
		Engine: risk.New(logging.NewTestLogger(), risk.NewDefaultConfig(), ledger, oracle, fixedClock{now}),
		ledger: ledger,
		oracle: oracle,
	}
}

func d(s string) num.Decimal {
	return num.MustDecimalFromString(s)
}

// position returns an active pay fixed position settled at lastSettled.
func position(margin uint64, pnl int64, lastSettled time.Time) *types.Position {
	return &types.Position{
		ID:                 1,
		Direction:          types.DirectionPayFixed,
		Notional:           num.NewUint(100000),
		FixedRate:          d("0.05"),
		Margin:             num.NewUint(margin),
		AccumulatedPnL:     num.NewInt(pnl),
		MaturityDays:       365,
		StartTime:          lastSettled,
		Maturity:           lastSettled.Add(365 * 24 * time.Hour),
		LastSettlementTime: lastSettled,
		Active:             true,
		Version:            1,
	}
}

func (te *testEngine) withPosition(pos *types.Position) {
	te.ledger.EXPECT().Get(pos.ID).AnyTimes().DoAndReturn(func(uint64) (*types.Position, error) {
		return pos.Clone(), nil
	})
}

func (te *testEngine) withRate(rate string) {
	te.oracle.EXPECT().GetCurrentRate(gomock.Any()).AnyTimes().Return(d(rate), nil)
}

func TestInitialMargin(t *testing.T) {
	te := getTestEngine(t)
	notional := num.NewUint(100000)

	for days, want := range map[uint32]string{30: "10000", 90: "12500", 180: "15000", 365: "20000"} {
		im, err := te.CalculateInitialMargin(notional, days)
		require.NoError(t, err)
		assert.Equal(t, want, im.String(), "%d days", days)
	}

	// rounded up, never below 10% of notional
	im, err := te.CalculateInitialMargin(num.NewUint(99999), 30)
	require.NoError(t, err)
	assert.Equal(t, "10000", im.String())

	_, err = te.CalculateInitialMargin(notional, 60)
	assert.ErrorIs(t, err, risk.ErrInvalidMaturity)
}

func TestMaxNotional(t *testing.T) {
	te := getTestEngine(t)
	margin := num.NewUint(10000)

	maxNotional, err := te.CalculateMaxNotional(margin, 30)
	require.NoError(t, err)
	assert.Equal(t, "100000", maxNotional.String())

	maxNotional, err = te.CalculateMaxNotional(margin, 365)
	require.NoError(t, err)
	assert.Equal(t, "50000", maxNotional.String())

	// the leverage cap binds before the margin ratio
	cfg := risk.NewDefaultConfig()
	cfg.MaxLeverage.Decimal = d("4")
	te.ReloadConf(cfg)
	maxNotional, err = te.CalculateMaxNotional(margin, 30)
	require.NoError(t, err)
	assert.Equal(t, "40000", maxNotional.String())

	// inverting the initial margin gives back an openable notional
	im, err := te.CalculateInitialMargin(num.NewUint(50000), 365)
	require.NoError(t, err)
	assert.True(t, im.LTE(margin))

	_, err = te.CalculateMaxNotional(margin, 7)
	assert.ErrorIs(t, err, risk.ErrInvalidMaturity)
}

func TestHealthFactor(t *testing.T) {
	t.Run("healthy position", testHealthy)
	t.Run("realised losses raise maintenance", testLossRaisesMaintenance)
	t.Run("threshold is exclusive", testThresholdExclusive)
	t.Run("accrual at the current rate", testAccrual)
	t.Run("oracle failure leaves accrual out", testOracleFailure)
	t.Run("unknown and inactive positions", testUnknownAndInactive)
	t.Run("reads are idempotent", testIdempotentReads)
	t.Run("nothing to maintain is never liquidatable", testZeroMaintenance)
}

func testHealthy(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(10000, 0, now))
	te.withRate("0.05")

	ctx := context.Background()
	mm, err := te.CalculateMaintenanceMargin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "5000", mm.String())
	assert.True(t, te.GetHealthFactor(ctx, 1).Equal(d("2")))
	assert.False(t, te.IsLiquidatable(ctx, 1))
}

func testLossRaisesMaintenance(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(10000, -6000, now))
	te.withRate("0.05")

	ctx := context.Background()
	a, err := te.Assess(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "11000", a.Maintenance.String())
	// 4000 / 11000
	assert.True(t, a.HealthFactor.Sub(d("0.363636363636363636")).Abs().LessThan(d("0.000000000000000001")), a.HealthFactor.String())
	assert.True(t, a.Liquidatable)
	assert.True(t, te.IsLiquidatable(ctx, 1))
}

func testThresholdExclusive(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(5000, 0, now))
	te.withRate("0.05")

	ctx := context.Background()
	assert.True(t, te.GetHealthFactor(ctx, 1).Equal(num.DecimalOne()))
	assert.False(t, te.IsLiquidatable(ctx, 1))
}

func testAccrual(t *testing.T) {
	te := getTestEngine(t)
	pos := position(10000, 0, now.Add(-365*24*time.Hour/2))
	te.withPosition(pos)
	te.withRate("0.07")

	ctx := context.Background()
	// half a year at a 2% spread on 100000
	pnl, err := te.UnrealisedPnL(ctx, 1)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(d("1000")), pnl.String())
	assert.True(t, te.GetHealthFactor(ctx, 1).Equal(d("2.2")))

	floating := pos.Clone()
	floating.Direction = types.DirectionPayFloating
	assert.True(t, risk.Accrual(floating, d("0.07"), now).Equal(d("-1000")))
	assert.True(t, risk.Accrual(pos, d("0.05"), now).IsZero())

	// nothing accrues after maturity
	atMaturity := risk.Accrual(pos, d("0.07"), pos.Maturity)
	assert.True(t, risk.Accrual(pos, d("0.07"), pos.Maturity.Add(time.Hour)).Equal(atMaturity))
	assert.True(t, risk.Accrual(pos, d("0.07"), pos.LastSettlementTime.Add(-time.Hour)).IsZero())
}

func testOracleFailure(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(10000, -1000, now.Add(-24*time.Hour)))
	te.oracle.EXPECT().GetCurrentRate(gomock.Any()).AnyTimes().Return(num.DecimalZero(), errors.New("breaker"))

	ctx := context.Background()
	pnl, err := te.UnrealisedPnL(ctx, 1)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(d("-1000")))
	// 9000 / 6000
	assert.True(t, te.GetHealthFactor(ctx, 1).Equal(d("1.5")))
}

func testUnknownAndInactive(t *testing.T) {
	te := getTestEngine(t)
	inactive := position(10000, 0, now)
	inactive.ID = 2
	inactive.Active = false
	te.withPosition(inactive)
	te.ledger.EXPECT().Get(uint64(3)).AnyTimes().Return(nil, errors.New("position not found"))

	ctx := context.Background()
	assert.True(t, te.GetHealthFactor(ctx, 2).IsZero())
	assert.False(t, te.IsLiquidatable(ctx, 2))
	_, err := te.CalculateMaintenanceMargin(ctx, 2)
	assert.ErrorIs(t, err, risk.ErrPositionInactive)

	assert.True(t, te.GetHealthFactor(ctx, 3).IsZero())
	assert.False(t, te.IsLiquidatable(ctx, 3))
}

func testIdempotentReads(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(7000, -2500, now.Add(-72*time.Hour)))
	te.withRate("0.06")

	ctx := context.Background()
	first := te.GetHealthFactor(ctx, 1)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(te.GetHealthFactor(ctx, 1)))
		assert.Equal(t, te.IsLiquidatable(ctx, 1), te.IsLiquidatable(ctx, 1))
	}
}

func testZeroMaintenance(t *testing.T) {
	te := getTestEngine(t)
	pos := position(10, 0, now)
	pos.Notional = num.UintZero()
	te.withPosition(pos)
	te.withRate("0.05")

	a, err := te.Assess(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, a.Maintenance.IsZero())
	assert.True(t, a.HealthFactor.Equal(num.MaxDecimal()))
	assert.False(t, a.Liquidatable)
}

func TestLeverage(t *testing.T) {
	te := getTestEngine(t)
	te.withPosition(position(10000, 0, now))
	empty := position(0, 0, now)
	empty.ID = 2
	te.withPosition(empty)
	te.ledger.EXPECT().Get(uint64(3)).Return(nil, errors.New("position not found"))

	lev, err := te.GetPositionLeverage(1)
	require.NoError(t, err)
	assert.True(t, lev.Equal(d("10")))

	lev, err = te.GetPositionLeverage(2)
	require.NoError(t, err)
	assert.True(t, lev.Equal(num.MaxDecimal()))

	_, err = te.GetPositionLeverage(3)
	assert.Error(t, err)
}

func TestGrossPnLDirection(t *testing.T) {
	notional := num.NewUint(100000)
	day := 24 * time.Hour

	fixed := risk.GrossPnL(types.DirectionPayFixed, notional, d("0.05"), d("0.07"), day)
	floating := risk.GrossPnL(types.DirectionPayFloating, notional, d("0.05"), d("0.07"), day)
	assert.True(t, fixed.IsPositive())
	assert.True(t, fixed.Equal(floating.Neg()))
	assert.True(t, risk.GrossPnL(types.DirectionPayFixed, notional, d("0.05"), d("0.05"), day).IsZero())
}
