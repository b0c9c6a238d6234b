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

package liquidation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	bmocks "github.com/ratevault/swapcore/core/broker/mocks"
	"github.com/ratevault/swapcore/core/chaintime"
	"github.com/ratevault/swapcore/core/collateral"
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/execution/liquidation"
	"github.com/ratevault/swapcore/core/execution/liquidation/mocks"
	"github.com/ratevault/swapcore/core/ownership"
	"github.com/ratevault/swapcore/core/positions"
	"github.com/ratevault/swapcore/core/risk"
	rmocks "github.com/ratevault/swapcore/core/risk/mocks"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin      = "admin"
	trader     = "trader"
	liquidator = "liquidator"
	settler    = "settlement"
	identity   = "liquidation"
)

type tstEngine struct {
	*liquidation.Engine
	ctrl   *gomock.Controller
	coll   *collateral.Engine
	ledger *positions.Engine
	tsvc   *chaintime.Svc
	sent   []events.Event
}

func getTestEngine(t *testing.T, conf liquidation.Config) *tstEngine {
	t.Helper()
	// at the fixed rate nothing accrues, health only depends on realised pnl
	return getTestEngineWith(t, conf, risk.NewDefaultConfig(), "0.05")
}

func getTestEngineWith(t *testing.T, conf liquidation.Config, riskConf risk.Config, rate string) *tstEngine {
	t.Helper()
	ctrl := gomock.NewController(t)
	te := &tstEngine{ctrl: ctrl}
	broker := bmocks.NewMockBrokerI(ctrl)
	broker.EXPECT().Send(gomock.Any()).AnyTimes().Do(func(evt events.Event) {
		te.sent = append(te.sent, evt)
	})
	broker.EXPECT().SendBatch(gomock.Any()).AnyTimes()
	oracle := rmocks.NewMockOracle(ctrl)
	oracle.EXPECT().GetCurrentRate(gomock.Any()).AnyTimes().Return(num.MustDecimalFromString(rate), nil)

	log := logging.NewTestLogger()
	tsvc := chaintime.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	te.tsvc = tsvc
	te.coll = collateral.New(log, collateral.NewDefaultConfig(), broker)
	te.ledger = positions.New(log, positions.NewDefaultConfig(), admin, te.coll, ownership.New(log, broker), tsvc, broker)
	ctx := context.Background()
	require.NoError(t, te.ledger.Grant(ctx, admin, identity, types.OpReduceMargin, types.OpClosePosition))
	require.NoError(t, te.ledger.Grant(ctx, admin, settler, types.OpUpdatePnL))

	riskEngine := risk.New(log, riskConf, te.ledger, oracle, tsvc)
	te.Engine = liquidation.New(log, conf, identity, te.ledger, riskEngine, broker)
	return te
}

// open opens a pay fixed position at 10% margin and records pnl on it.
func (te *tstEngine) open(t *testing.T, notional uint64, pnl int64) *types.Position {
	t.Helper()
	ctx := context.Background()
	margin := notional / 10
	require.NoError(t, te.coll.Deposit(ctx, trader, num.NewUint(margin+notional/1000)))
	pos, err := te.ledger.Open(ctx, trader, types.OpenRequest{
		Direction:    types.DirectionPayFixed,
		Notional:     num.NewUint(notional),
		FixedRate:    num.MustDecimalFromString("0.05"),
		MaturityDays: 30,
		Margin:       num.NewUint(margin),
	})
	require.NoError(t, err)
	if pnl != 0 {
		pos, err = te.ledger.UpdatePnL(ctx, settler, pos.ID, num.NewInt(pnl), pos.LastSettlementTime)
		require.NoError(t, err)
	}
	return pos
}

func (te *tstEngine) liquidatedEvents() []*events.PositionLiquidated {
	var out []*events.PositionLiquidated
	for _, evt := range te.sent {
		if pl, ok := evt.(*events.PositionLiquidated); ok {
			out = append(out, pl)
		}
	}
	return out
}

func TestComputeSplit(t *testing.T) {
	t.Run("reward never exceeds what is seized", testSplitSolvency)
	t.Run("bonus below the protocol fee leaves a protocol share", testSplitProtocolShare)
	t.Run("requested amounts are bounded by the ceiling", testSplitRequested)
}

func testSplitSolvency(t *testing.T) {
	cfg := liquidation.NewDefaultConfig()
	split, err := liquidation.ComputeSplit(cfg, num.NewUint(100), nil)
	require.NoError(t, err)
	assert.Equal(t, "50", split.Seized.String())
	assert.Equal(t, "1", split.ProtocolFee.String())
	// the 5% bonus is capped at the 2% fee, 50 - 1 + 2.5 would pay 51.5
	assert.Equal(t, "1", split.Bonus.String())
	assert.Equal(t, "50", split.Reward.String())
	assert.True(t, split.ProtocolShare().IsZero())

	for _, margin := range []uint64{0, 1, 3, 99, 12345, 1_000_000_007} {
		split, err := liquidation.ComputeSplit(cfg, num.NewUint(margin), nil)
		require.NoError(t, err)
		assert.True(t, split.Reward.LTE(split.Seized), "margin %d", margin)
		assert.True(t, split.Seized.LTE(num.NewUint(margin)), "margin %d", margin)
	}
}

func testSplitProtocolShare(t *testing.T) {
	cfg := liquidation.NewDefaultConfig()
	cfg.LiquidationBonus = encoding.NewDecimal("0.01")
	split, err := liquidation.ComputeSplit(cfg, num.NewUint(10000), nil)
	require.NoError(t, err)
	assert.Equal(t, "5000", split.Seized.String())
	assert.Equal(t, "4950", split.Reward.String())
	assert.Equal(t, "50", split.ProtocolShare().String())
}

func testSplitRequested(t *testing.T) {
	cfg := liquidation.NewDefaultConfig()
	split, err := liquidation.ComputeSplit(cfg, num.NewUint(10000), num.NewUint(2000))
	require.NoError(t, err)
	assert.Equal(t, "2000", split.Seized.String())

	split, err = liquidation.ComputeSplit(cfg, num.NewUint(10000), num.NewUint(9000))
	require.NoError(t, err)
	assert.Equal(t, "5000", split.Seized.String())
}

func TestLiquidate(t *testing.T) {
	t.Run("healthy positions cannot be liquidated", testLiquidateHealthy)
	t.Run("full liquidation pays the caller and closes the position", testLiquidateFull)
	t.Run("full liquidation charges the pnl accrued since settlement", testLiquidateChargesAccrual)
	t.Run("nothing is paid when the close cannot be covered", testLiquidateCloseUncovered)
	t.Run("partial liquidation leaves the position open", testLiquidatePartial)
	t.Run("partial liquidation needs an amount", testLiquidatePartialInvalid)
	t.Run("ledger results outside the bounds are rejected", testLiquidateSolvencyViolation)
}

func testLiquidateHealthy(t *testing.T) {
	te := getTestEngine(t, liquidation.NewDefaultConfig())
	pos := te.open(t, 1000, 0)

	_, err := te.Liquidate(context.Background(), liquidator, pos.ID)
	var notLiquidatable *liquidation.PositionNotLiquidatableError
	require.ErrorAs(t, err, &notLiquidatable)
	assert.ErrorIs(t, err, liquidation.ErrPositionNotLiquidatable)
	assert.True(t, notLiquidatable.HealthFactor.Equal(num.MustDecimalFromString("2")))
	assert.Empty(t, te.liquidatedEvents())
}

func testLiquidateFull(t *testing.T) {
	te := getTestEngine(t, liquidation.NewDefaultConfig())
	ctx := context.Background()
	// (100 - 30) / (50 + 30) = 0.875
	pos := te.open(t, 1000, -30)

	res, err := te.Liquidate(ctx, liquidator, pos.ID)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.True(t, res.HealthFactor.Equal(num.MustDecimalFromString("0.875")))
	assert.Equal(t, "50", res.Seized.String())
	assert.Equal(t, "50", res.Reward.String())
	// the remaining 50 of margin net of the 30 loss
	assert.Equal(t, "20", res.Payout.String())

	assert.Equal(t, "50", te.coll.Balance(liquidator).String())
	assert.Equal(t, "20", te.coll.Balance(trader).String())
	after, err := te.ledger.Get(pos.ID)
	require.NoError(t, err)
	assert.False(t, after.Active)
	require.NoError(t, te.ledger.CheckInvariants())

	evts := te.liquidatedEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, liquidator, evts[0].Liquidator())
	assert.False(t, evts[0].Partial())

	_, err = te.Liquidate(ctx, liquidator, pos.ID)
	assert.ErrorIs(t, err, risk.ErrPositionInactive)
}

func testLiquidateChargesAccrual(t *testing.T) {
	te := getTestEngineWith(t, liquidation.NewDefaultConfig(), risk.NewDefaultConfig(), "0.0001")
	ctx := context.Background()
	pos := te.open(t, 100000, -3000)
	// 100000 * (0.0001 - 0.05) * 20 / 365 = -273.42
	te.tsvc.Advance(ctx, 20*24*time.Hour)

	res, err := te.Liquidate(ctx, liquidator, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000", res.Seized.String())
	assert.Equal(t, "5000", res.Reward.String())
	// 5000 - 3000 - 273, the accrual is truncated towards zero
	assert.Equal(t, "1727", res.Payout.String())
	assert.Equal(t, "1727", te.coll.Balance(trader).String())
	assert.Equal(t, "5000", te.coll.Balance(liquidator).String())
	require.NoError(t, te.ledger.CheckInvariants())
}

func testLiquidateCloseUncovered(t *testing.T) {
	riskConf := risk.NewDefaultConfig()
	riskConf.LiquidationThreshold = encoding.NewDecimal("3")
	te := getTestEngineWith(t, liquidation.NewDefaultConfig(), riskConf, "0.05")
	ctx := context.Background()
	// (10000 + 2000) / 5000 = 2.4, the unbacked profit needs custody above margin
	pos := te.open(t, 100000, 2000)

	res := te.BatchLiquidate(ctx, liquidator, []uint64{pos.ID})
	assert.Equal(t, 0, res.Count())
	assert.True(t, res.TotalReward.IsZero())
	require.Len(t, res.Skipped, 1)
	var liqErr *positions.LiquidityError
	require.ErrorAs(t, res.Skipped[pos.ID], &liqErr)
	// payout of 5000 + 2000 against the released margin plus the 100 fee
	assert.Equal(t, "7000", liqErr.Required.String())
	assert.Equal(t, "5100", liqErr.Available.String())

	assert.True(t, te.coll.Balance(liquidator).IsZero())
	after, err := te.ledger.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, after.Active)
	assert.Equal(t, "10000", after.Margin.String())
	assert.Equal(t, pos.Version, after.Version)
	assert.Empty(t, te.liquidatedEvents())
	require.NoError(t, te.ledger.CheckInvariants())

	te.coll.FundCustody(ctx, num.NewUint(2000))
	liq, err := te.Liquidate(ctx, liquidator, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "7000", liq.Payout.String())
	assert.Equal(t, "5000", te.coll.Balance(liquidator).String())
	assert.Equal(t, "7000", te.coll.Balance(trader).String())
	require.NoError(t, te.ledger.CheckInvariants())
}

func testLiquidatePartial(t *testing.T) {
	cfg := liquidation.NewDefaultConfig()
	cfg.LiquidationBonus = encoding.NewDecimal("0.01")
	te := getTestEngine(t, cfg)
	ctx := context.Background()
	pool := func() *num.Uint { return te.ledger.ProtocolPool() }
	// (10000 - 3000) / (5000 + 3000) = 0.875
	pos := te.open(t, 100000, -3000)
	poolBefore := pool()

	res, err := te.PartialLiquidate(ctx, liquidator, pos.ID, num.NewUint(2000))
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Nil(t, res.Payout)
	assert.Equal(t, "2000", res.Seized.String())
	// 2% fee, 1% bonus
	assert.Equal(t, "1980", res.Reward.String())
	assert.Equal(t, "20", res.ProtocolFee.String())
	assert.Equal(t, num.Sum(poolBefore, num.NewUint(20)).String(), pool().String())

	after, err := te.ledger.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, after.Active)
	assert.Equal(t, "8000", after.Margin.String())

	// still unhealthy, the next call is bounded by half of the remaining margin
	res, err = te.PartialLiquidate(ctx, liquidator, pos.ID, num.NewUint(9000))
	require.NoError(t, err)
	assert.Equal(t, "4000", res.Seized.String())
	require.NoError(t, te.ledger.CheckInvariants())
	assert.Len(t, te.liquidatedEvents(), 2)
}

func testLiquidatePartialInvalid(t *testing.T) {
	te := getTestEngine(t, liquidation.NewDefaultConfig())
	pos := te.open(t, 1000, -30)
	_, err := te.PartialLiquidate(context.Background(), liquidator, pos.ID, num.UintZero())
	assert.ErrorIs(t, err, liquidation.ErrInvalidAmount)
	_, err = te.PartialLiquidate(context.Background(), liquidator, pos.ID, nil)
	assert.ErrorIs(t, err, liquidation.ErrInvalidAmount)
}

func testLiquidateSolvencyViolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	riskEngine := mocks.NewMockRisk(ctrl)
	broker := bmocks.NewMockBrokerI(ctrl)
	eng := liquidation.New(logging.NewTestLogger(), liquidation.NewDefaultConfig(), identity, ledger, riskEngine, broker)

	pos := &types.Position{ID: 3, Margin: num.NewUint(100), AccumulatedPnL: num.NewInt(-10), Version: 2, Active: true}
	riskEngine.EXPECT().Assess(gomock.Any(), pos.ID).Return(&risk.Assessment{
		Position:      pos,
		UnrealisedPnL: num.MustDecimalFromString("-12.5"),
		HealthFactor:  num.MustDecimalFromString("0.5"),
		Liquidatable:  true,
	}, nil)
	ledger.EXPECT().Liquidate(gomock.Any(), identity, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req types.SeizeRequest, finalDelta *num.Int) (*types.LiquidationResult, error) {
			assert.Equal(t, uint64(2), req.Version)
			assert.Equal(t, liquidator, req.Recipient)
			assert.Equal(t, "-2", finalDelta.String())
			return &types.LiquidationResult{
				SeizeResult: types.SeizeResult{
					Seized:          req.Amount.Clone(),
					Reward:          num.Sum(req.Amount, num.UintOne()),
					ProtocolShare:   num.UintZero(),
					RemainingMargin: num.NewUint(50),
				},
				Payout: num.NewUint(38),
			}, nil
		})

	_, err := eng.Liquidate(context.Background(), liquidator, pos.ID)
	assert.ErrorIs(t, err, liquidation.ErrSolvencyViolation)
}

func TestBatchLiquidate(t *testing.T) {
	te := getTestEngine(t, liquidation.NewDefaultConfig())
	ctx := context.Background()
	unhealthy := te.open(t, 1000, -30)
	healthy := te.open(t, 1000, 0)
	other := te.open(t, 100000, -3000)

	res := te.BatchLiquidate(ctx, liquidator, []uint64{unhealthy.ID, healthy.ID, other.ID, 42})
	assert.Equal(t, 2, res.Count())
	// 50 + 5000
	assert.Equal(t, "5050", res.TotalReward.String())
	require.Len(t, res.Skipped, 2)
	assert.ErrorIs(t, res.Skipped[healthy.ID], liquidation.ErrPositionNotLiquidatable)
	assert.True(t, errors.Is(res.Skipped[42], positions.ErrPositionNotFound))
	require.NoError(t, te.ledger.CheckInvariants())
}
