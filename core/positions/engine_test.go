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

package positions_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	bmocks "github.com/ratevault/swapcore/core/broker/mocks"
	"github.com/ratevault/swapcore/core/chaintime"
	"github.com/ratevault/swapcore/core/collateral"
	"github.com/ratevault/swapcore/core/ownership"
	"github.com/ratevault/swapcore/core/positions"
	"github.com/ratevault/swapcore/core/positions/mocks"
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
	settler    = "settlement"
	liquidator = "liquidation"
)

type testLedger struct {
	*positions.Engine
	ctrl *gomock.Controller
	tsvc *chaintime.Svc
	coll *collateral.Engine
	own  *ownership.Registry
}

func getTestLedger(t *testing.T) *testLedger {
	t.Helper()
	ctrl := gomock.NewController(t)
	broker := bmocks.NewMockBrokerI(ctrl)
	broker.EXPECT().Send(gomock.Any()).AnyTimes()
	broker.EXPECT().SendBatch(gomock.Any()).AnyTimes()

	log := logging.NewTestLogger()
	tsvc := chaintime.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	coll := collateral.New(log, collateral.NewDefaultConfig(), broker)
	own := ownership.New(log, broker)
	eng := positions.New(log, positions.NewDefaultConfig(), admin, coll, own, tsvc, broker)

	ctx := context.Background()
	require.NoError(t, eng.Grant(ctx, admin, settler, types.OpUpdatePnL, types.OpClosePosition))
	require.NoError(t, eng.Grant(ctx, admin, liquidator, types.OpReduceMargin, types.OpClosePosition))

	return &testLedger{
		Engine: eng,
		ctrl:   ctrl,
		tsvc:   tsvc,
		coll:   coll,
		own:    own,
	}
}

func defaultRequest() types.OpenRequest {
	return types.OpenRequest{
		Direction:    types.DirectionPayFixed,
		Notional:     num.NewUint(100000),
		FixedRate:    num.MustDecimalFromString("0.05"),
		MaturityDays: 90,
		Margin:       num.NewUint(10000),
	}
}

// openDefault funds the trader and opens the default position.
func (tl *testLedger) openDefault(t *testing.T) *types.Position {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(20000)))
	pos, err := tl.Open(ctx, trader, defaultRequest())
	require.NoError(t, err)
	return pos
}

func TestOpen(t *testing.T) {
	t.Run("open debits margin and trading fee", testOpenDebitsMarginAndFee)
	t.Run("invalid requests are rejected without side effects", testOpenValidation)
	t.Run("insufficient balance aborts the open", testOpenInsufficientBalance)
	t.Run("open on behalf of requires a grant", testOpenOnBehalfOf)
	t.Run("failed mint refunds the trader", testOpenMintFailureRefunds)
	t.Run("the margin floor is the same for every tenor", testOpenFlatFloor)
}

func testOpenFlatFloor(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(100000)))

	req := defaultRequest()
	req.MaturityDays = 365
	pos, err := tl.Open(ctx, trader, req)
	require.NoError(t, err)
	assert.Equal(t, "10000", pos.Margin.String())

	req.Margin = num.NewUint(9999)
	_, err = tl.Open(ctx, trader, req)
	var insufficient *positions.InsufficientMarginError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "10000", insufficient.Required.String())
}

func testOpenDebitsMarginAndFee(t *testing.T) {
	tl := getTestLedger(t)
	start := tl.tsvc.GetTimeNow()
	pos := tl.openDefault(t)

	assert.Equal(t, uint64(1), pos.ID)
	assert.True(t, pos.Active)
	assert.Equal(t, uint64(1), pos.Version)
	assert.Equal(t, start, pos.StartTime)
	assert.Equal(t, start, pos.LastSettlementTime)
	assert.Equal(t, start.Add(90*24*time.Hour), pos.Maturity)
	assert.True(t, pos.AccumulatedPnL.IsZero())

	// 0.1% of 100000 notional
	assert.Equal(t, "9900", tl.coll.Balance(trader).String())
	assert.Equal(t, "10100", tl.coll.CustodyBalance().String())
	assert.Equal(t, "100", tl.ProtocolPool().String())

	totals := tl.Totals()
	assert.Equal(t, "10000", totals.TotalMargin.String())
	assert.Equal(t, "100000", totals.PayFixedNotional.String())
	assert.True(t, totals.PayFloatingNotional.IsZero())
	assert.Equal(t, uint64(1), totals.ActivePositions)

	owner, err := tl.Owner(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, trader, owner)
	assert.NoError(t, tl.CheckInvariants())

	// the returned position is a copy
	pos.Margin.AddSum(num.NewUint(1))
	got, err := tl.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "10000", got.Margin.String())
}

func testOpenValidation(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(20000)))

	cases := []struct {
		name   string
		mutate func(*types.OpenRequest)
		err    error
	}{
		{"zero notional", func(r *types.OpenRequest) { r.Notional = num.UintZero() }, positions.ErrInvalidNotional},
		{"zero fixed rate", func(r *types.OpenRequest) { r.FixedRate = num.DecimalZero() }, positions.ErrInvalidFixedRate},
		{"fixed rate above 100%", func(r *types.OpenRequest) { r.FixedRate = num.MustDecimalFromString("1.01") }, positions.ErrInvalidFixedRate},
		{"unknown maturity", func(r *types.OpenRequest) { r.MaturityDays = 60 }, positions.ErrInvalidMaturity},
		{"no direction", func(r *types.OpenRequest) { r.Direction = types.DirectionUnspecified }, types.ErrInvalidDirection},
		{"margin below 10%", func(r *types.OpenRequest) { r.Margin = num.NewUint(9999) }, positions.ErrInsufficientMargin},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := defaultRequest()
			c.mutate(&req)
			_, err := tl.Open(ctx, trader, req)
			assert.ErrorIs(t, err, c.err)
		})
	}

	req := defaultRequest()
	req.Margin = num.NewUint(9999)
	_, err := tl.Open(ctx, trader, req)
	var insufficient *positions.InsufficientMarginError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "10000", insufficient.Required.String())
	assert.Equal(t, "9999", insufficient.Provided.String())

	assert.Equal(t, "20000", tl.coll.Balance(trader).String())
	assert.Empty(t, tl.Active())
	assert.NoError(t, tl.CheckInvariants())
}

func testOpenInsufficientBalance(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(10099)))

	_, err := tl.Open(ctx, trader, defaultRequest())
	assert.ErrorIs(t, err, collateral.ErrInsufficientBalance)
	assert.Equal(t, "10099", tl.coll.Balance(trader).String())
	assert.Equal(t, uint64(0), tl.Totals().ActivePositions)

	// the id was not consumed
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(1)))
	pos, err := tl.Open(ctx, trader, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.ID)
}

func testOpenOnBehalfOf(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()

	_, err := tl.OpenOnBehalfOf(ctx, "router", trader, defaultRequest())
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)

	require.NoError(t, tl.Grant(ctx, admin, "router", types.OpOpenOnBehalfOf))

	// nothing in custody backs the margin yet
	_, err = tl.OpenOnBehalfOf(ctx, "router", trader, defaultRequest())
	var liquidity *positions.LiquidityError
	require.ErrorAs(t, err, &liquidity)

	tl.coll.FundCustody(ctx, num.NewUint(10000))
	pos, err := tl.OpenOnBehalfOf(ctx, "router", trader, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, "10000", pos.Margin.String())
	assert.True(t, tl.ProtocolPool().IsZero(), "no trading fee on behalf of")
	assert.True(t, tl.coll.Balance(trader).IsZero())

	owner, err := tl.Owner(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, trader, owner)
	assert.NoError(t, tl.CheckInvariants())
}

func testOpenMintFailureRefunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	broker := bmocks.NewMockBrokerI(ctrl)
	coll := mocks.NewMockCollateral(ctrl)
	own := mocks.NewMockOwnership(ctrl)
	tsvc := chaintime.New(time.Unix(1700000000, 0))
	eng := positions.New(logging.NewTestLogger(), positions.NewDefaultConfig(), admin, coll, own, tsvc, broker)

	mintErr := errors.New("registry unavailable")
	gomock.InOrder(
		coll.EXPECT().Debit(gomock.Any(), trader, num.NewUint(10100)).Return(nil),
		own.EXPECT().Mint(gomock.Any(), uint64(1), trader).Return(mintErr),
		coll.EXPECT().Credit(gomock.Any(), trader, num.NewUint(10100)).Return(nil),
	)

	_, err := eng.Open(context.Background(), trader, defaultRequest())
	assert.ErrorIs(t, err, mintErr)
	assert.Equal(t, uint64(0), eng.Totals().ActivePositions)
}

func TestMargin(t *testing.T) {
	t.Run("only the owner adds or removes margin", testMarginOwnerOnly)
	t.Run("margin can be added", testAddMargin)
	t.Run("removal stops at the minimum margin", testRemoveMarginMinimum)
}

func testMarginOwnerOnly(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.AddMargin(ctx, "mallory", pos.ID, num.NewUint(1))
	assert.ErrorIs(t, err, positions.ErrNotOwner)
	_, err = tl.RemoveMargin(ctx, "mallory", pos.ID, num.NewUint(1))
	assert.ErrorIs(t, err, positions.ErrNotOwner)
	_, err = tl.AddMargin(ctx, trader, pos.ID, num.UintZero())
	assert.ErrorIs(t, err, positions.ErrInvalidAmount)
	_, err = tl.AddMargin(ctx, trader, 42, num.NewUint(1))
	assert.ErrorIs(t, err, positions.ErrPositionNotFound)

	// a new owner takes over margin management
	require.NoError(t, tl.TransferOwnership(ctx, trader, pos.ID, "bob"))
	_, err = tl.RemoveMargin(ctx, trader, pos.ID, num.NewUint(1))
	assert.ErrorIs(t, err, positions.ErrNotOwner)
	_, err = tl.RemoveMargin(ctx, "bob", pos.ID, num.NewUint(1))
	assert.NoError(t, err)
	assert.Equal(t, "1", tl.coll.Balance("bob").String())
}

func testAddMargin(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	updated, err := tl.AddMargin(ctx, trader, pos.ID, num.NewUint(1000))
	require.NoError(t, err)
	assert.Equal(t, "11000", updated.Margin.String())
	assert.Equal(t, pos.Version+1, updated.Version)
	assert.Equal(t, "8900", tl.coll.Balance(trader).String())
	assert.Equal(t, "11000", tl.Totals().TotalMargin.String())

	_, err = tl.AddMargin(ctx, trader, pos.ID, num.NewUint(100000))
	assert.ErrorIs(t, err, collateral.ErrInsufficientBalance)
	assert.NoError(t, tl.CheckInvariants())
}

func testRemoveMarginMinimum(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.RemoveMargin(ctx, trader, pos.ID, num.NewUint(5001))
	var excessive *positions.ExcessiveWithdrawalError
	require.ErrorAs(t, err, &excessive)
	assert.Equal(t, "4999", excessive.Remaining.String())
	assert.Equal(t, "5000", excessive.Minimum.String())

	_, err = tl.RemoveMargin(ctx, trader, pos.ID, num.NewUint(20000))
	assert.ErrorIs(t, err, positions.ErrExcessiveWithdrawal)

	updated, err := tl.RemoveMargin(ctx, trader, pos.ID, num.NewUint(5000))
	require.NoError(t, err)
	assert.Equal(t, "5000", updated.Margin.String())
	assert.Equal(t, "14900", tl.coll.Balance(trader).String())
	assert.NoError(t, tl.CheckInvariants())
}

func TestAuthorisation(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	assert.True(t, tl.Can(settler, types.OpUpdatePnL))
	assert.False(t, tl.Can(settler, types.OpReduceMargin))
	assert.False(t, tl.Can(trader, types.OpClosePosition))

	_, err := tl.UpdatePnL(ctx, trader, pos.ID, num.NewInt(1), tl.tsvc.GetTimeNow())
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)
	_, err = tl.ClosePosition(ctx, trader, pos.ID, nil)
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)
	_, err = tl.ReduceMargin(ctx, settler, pos.ID, num.NewUint(1), settler)
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)

	assert.ErrorIs(t, tl.Grant(ctx, trader, trader, types.AllOperations()...), positions.ErrNotAuthorised)
	assert.ErrorIs(t, tl.Revoke(ctx, trader, settler, types.OpUpdatePnL), positions.ErrNotAuthorised)

	require.NoError(t, tl.Revoke(ctx, admin, settler, types.OpUpdatePnL))
	assert.False(t, tl.Can(settler, types.OpUpdatePnL))
	assert.True(t, tl.Can(settler, types.OpClosePosition))
	_, err = tl.UpdatePnL(ctx, settler, pos.ID, num.NewInt(1), tl.tsvc.GetTimeNow())
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)

	// nothing changed through the rejected calls
	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.Version, got.Version)
}

func TestApplySettlement(t *testing.T) {
	t.Run("net pnl recorded and keeper paid from fees", testApplySettlement)
	t.Run("stale version loses", testApplySettlementStale)
	t.Run("invalid updates", testApplySettlementInvalid)
	t.Run("keeper cannot be paid out of margin", testApplySettlementLiquidity)
}

func testApplySettlement(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)
	settledAt := tl.tsvc.Advance(ctx, time.Hour)

	paid, err := tl.ApplySettlement(ctx, settler, types.SettlementUpdate{
		ID:        pos.ID,
		Version:   pos.Version,
		NetPnL:    num.NewInt(990),
		Fee:       num.NewUint(10),
		Keeper:    "keeper",
		KeeperFee: num.NewUint(1),
		SettledAt: settledAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "1", paid.String())
	assert.Equal(t, "1", tl.coll.Balance("keeper").String())
	assert.True(t, tl.FeeBalance().IsZero())
	assert.Equal(t, "109", tl.ProtocolPool().String())

	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "990", got.AccumulatedPnL.String())
	assert.Equal(t, settledAt, got.LastSettlementTime)
	assert.Equal(t, "10000", got.Margin.String(), "settlement leaves margin untouched")
	assert.Equal(t, pos.Version+1, got.Version)

	// losses are recorded in full
	_, err = tl.ApplySettlement(ctx, settler, types.SettlementUpdate{
		ID:        pos.ID,
		Version:   got.Version,
		NetPnL:    num.NewInt(-1500),
		Fee:       num.UintZero(),
		KeeperFee: num.UintZero(),
		SettledAt: tl.tsvc.Advance(ctx, time.Hour),
	})
	require.NoError(t, err)
	got, err = tl.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "-510", got.AccumulatedPnL.String())
	assert.NoError(t, tl.CheckInvariants())
}

func testApplySettlementStale(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.AddMargin(ctx, trader, pos.ID, num.NewUint(1))
	require.NoError(t, err)

	_, err = tl.ApplySettlement(ctx, settler, types.SettlementUpdate{
		ID:        pos.ID,
		Version:   pos.Version,
		NetPnL:    num.NewInt(10),
		Fee:       num.UintZero(),
		KeeperFee: num.UintZero(),
		SettledAt: tl.tsvc.GetTimeNow(),
	})
	assert.ErrorIs(t, err, positions.ErrPositionChanged)
}

func testApplySettlementInvalid(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	valid := func() types.SettlementUpdate {
		return types.SettlementUpdate{
			ID:        pos.ID,
			Version:   pos.Version,
			NetPnL:    num.NewInt(10),
			Fee:       num.NewUint(2),
			Keeper:    "keeper",
			KeeperFee: num.NewUint(1),
			SettledAt: tl.tsvc.GetTimeNow(),
		}
	}

	upd := valid()
	upd.KeeperFee = num.NewUint(3)
	_, err := tl.ApplySettlement(ctx, settler, upd)
	assert.ErrorIs(t, err, positions.ErrInvalidSettlement)

	upd = valid()
	upd.Keeper = ""
	_, err = tl.ApplySettlement(ctx, settler, upd)
	assert.ErrorIs(t, err, positions.ErrInvalidSettlement)

	upd = valid()
	upd.SettledAt = pos.LastSettlementTime.Add(-time.Second)
	_, err = tl.ApplySettlement(ctx, settler, upd)
	assert.ErrorIs(t, err, positions.ErrInvalidSettlement)

	upd = valid()
	upd.NetPnL = nil
	_, err = tl.ApplySettlement(ctx, settler, upd)
	assert.ErrorIs(t, err, positions.ErrInvalidSettlement)

	upd = valid()
	upd.ID = 7
	_, err = tl.ApplySettlement(ctx, settler, upd)
	assert.ErrorIs(t, err, positions.ErrPositionNotFound)
}

func testApplySettlementLiquidity(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	// custody only holds the margin and the 100 trading fee
	_, err := tl.ApplySettlement(ctx, settler, types.SettlementUpdate{
		ID:        pos.ID,
		Version:   pos.Version,
		NetPnL:    num.NewInt(1800),
		Fee:       num.NewUint(2000),
		Keeper:    "keeper",
		KeeperFee: num.NewUint(200),
		SettledAt: tl.tsvc.GetTimeNow(),
	})
	var liquidity *positions.LiquidityError
	require.ErrorAs(t, err, &liquidity)
	assert.Equal(t, "200", liquidity.Required.String())
	assert.Equal(t, "100", liquidity.Available.String())

	// the whole update was aborted
	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, got.AccumulatedPnL.IsZero())
	assert.True(t, tl.FeeBalance().IsZero())
	assert.True(t, tl.coll.Balance("keeper").IsZero())
}

func TestClosePosition(t *testing.T) {
	t.Run("profit is paid out of liquidity", testCloseWithProfit)
	t.Run("payout floors at zero", testCloseLossBeyondMargin)
	t.Run("final delta and residual margin", testCloseFinalDelta)
	t.Run("payout goes to the current owner", testClosePaysCurrentOwner)
	t.Run("closing is terminal", testCloseTerminal)
}

func testCloseWithProfit(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)
	tl.coll.FundCustody(ctx, num.NewUint(1000))

	_, err := tl.UpdatePnL(ctx, settler, pos.ID, num.NewInt(990), tl.tsvc.GetTimeNow())
	require.NoError(t, err)

	payout, err := tl.ClosePosition(ctx, settler, pos.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "10990", payout.String())
	assert.Equal(t, "20890", tl.coll.Balance(trader).String())
	// the excess above margin used the protocol pool first
	assert.True(t, tl.ProtocolPool().IsZero())
	assert.Equal(t, "110", tl.coll.CustodyBalance().String())

	totals := tl.Totals()
	assert.True(t, totals.TotalMargin.IsZero())
	assert.True(t, totals.PayFixedNotional.IsZero())
	assert.Equal(t, uint64(0), totals.ActivePositions)
	assert.NoError(t, tl.CheckInvariants())
}

func testCloseLossBeyondMargin(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.UpdatePnL(ctx, settler, pos.ID, num.NewInt(-12000), tl.tsvc.GetTimeNow())
	require.NoError(t, err)

	payout, err := tl.ClosePosition(ctx, settler, pos.ID, nil)
	require.NoError(t, err)
	assert.True(t, payout.IsZero())
	assert.Equal(t, "9900", tl.coll.Balance(trader).String())
	assert.Equal(t, "10100", tl.ProtocolPool().String())
	assert.NoError(t, tl.CheckInvariants())
}

func testCloseFinalDelta(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	payout, err := tl.ClosePosition(ctx, settler, pos.ID, num.NewInt(-50))
	require.NoError(t, err)
	assert.Equal(t, "9950", payout.String())
	assert.Equal(t, "150", tl.ProtocolPool().String())
}

func testClosePaysCurrentOwner(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)
	require.NoError(t, tl.TransferOwnership(ctx, trader, pos.ID, "bob"))

	_, err := tl.ClosePosition(ctx, settler, pos.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "10000", tl.coll.Balance("bob").String())
	assert.Equal(t, "9900", tl.coll.Balance(trader).String())

	// ownership is orthogonal to position state
	owner, err := tl.Owner(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func testCloseTerminal(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.ClosePosition(ctx, settler, pos.ID, nil)
	require.NoError(t, err)
	_, err = tl.ClosePosition(ctx, settler, pos.ID, nil)
	assert.ErrorIs(t, err, positions.ErrPositionInactive)
	_, err = tl.AddMargin(ctx, trader, pos.ID, num.NewUint(1))
	assert.ErrorIs(t, err, positions.ErrPositionInactive)
	_, err = tl.UpdatePnL(ctx, settler, pos.ID, num.NewInt(1), tl.tsvc.GetTimeNow())
	assert.ErrorIs(t, err, positions.ErrPositionInactive)

	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.Margin.IsZero())
	assert.Empty(t, tl.Active())
}

func TestReduceMargin(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	moved, err := tl.ReduceMargin(ctx, liquidator, pos.ID, num.NewUint(20000), "keeper")
	require.NoError(t, err)
	assert.Equal(t, "10000", moved.String())
	assert.Equal(t, "10000", tl.coll.Balance("keeper").String())

	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Margin.IsZero())
	assert.True(t, got.Active)
	assert.NoError(t, tl.CheckInvariants())
}

func TestSeize(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	_, err := tl.Seize(ctx, liquidator, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(100), Reward: num.NewUint(101), Recipient: "keeper",
	})
	assert.ErrorIs(t, err, positions.ErrInvalidReward)

	_, err = tl.Seize(ctx, settler, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(100), Reward: num.NewUint(1), Recipient: "keeper",
	})
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)

	res, err := tl.Seize(ctx, liquidator, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(5000), Reward: num.NewUint(4900), Recipient: "keeper",
	})
	require.NoError(t, err)
	assert.Equal(t, "5000", res.Seized.String())
	assert.Equal(t, "4900", res.Reward.String())
	assert.Equal(t, "100", res.ProtocolShare.String())
	assert.Equal(t, "5000", res.RemainingMargin.String())
	assert.Equal(t, "4900", tl.coll.Balance("keeper").String())
	assert.Equal(t, "200", tl.ProtocolPool().String())

	// the first seize bumped the version
	_, err = tl.Seize(ctx, liquidator, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(10), Reward: num.UintZero(),
	})
	assert.ErrorIs(t, err, positions.ErrPositionChanged)

	// amount is clamped to the margin held
	res, err = tl.Seize(ctx, liquidator, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version + 1, Amount: num.NewUint(8000), Reward: num.NewUint(5000), Recipient: "keeper",
	})
	require.NoError(t, err)
	assert.Equal(t, "5000", res.Seized.String())
	assert.True(t, res.RemainingMargin.IsZero())
	assert.NoError(t, tl.CheckInvariants())
}

func TestLiquidate(t *testing.T) {
	t.Run("seize and close in one step", testLiquidateSeizesAndCloses)
	t.Run("an uncovered payout leaves everything untouched", testLiquidateUncoveredPayout)
	t.Run("both grants are required", testLiquidateGrants)
}

func testLiquidateSeizesAndCloses(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)

	res, err := tl.Liquidate(ctx, liquidator, types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(5000), Reward: num.NewUint(4900), Recipient: "keeper",
	}, num.NewInt(-400))
	require.NoError(t, err)
	assert.Equal(t, "5000", res.Seized.String())
	assert.Equal(t, "100", res.ProtocolShare.String())
	// 5000 of margin left, less the final delta
	assert.Equal(t, "4600", res.Payout.String())
	assert.Equal(t, "400", res.Residual.String())
	assert.Equal(t, "4900", tl.coll.Balance("keeper").String())
	assert.Equal(t, "14500", tl.coll.Balance(trader).String())
	// open fee, seizure share and residual
	assert.Equal(t, "600", tl.ProtocolPool().String())

	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Empty(t, tl.Active())
	assert.NoError(t, tl.CheckInvariants())
}

func testLiquidateUncoveredPayout(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)
	pos, err := tl.UpdatePnL(ctx, settler, pos.ID, num.NewInt(2000), tl.tsvc.GetTimeNow())
	require.NoError(t, err)

	req := types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(5000), Reward: num.NewUint(5000), Recipient: "keeper",
	}
	_, err = tl.Liquidate(ctx, liquidator, req, nil)
	var liqErr *positions.LiquidityError
	require.ErrorAs(t, err, &liqErr)
	assert.ErrorIs(t, err, positions.ErrInsufficientLiquidity)
	assert.Equal(t, "7000", liqErr.Required.String())
	assert.Equal(t, "5100", liqErr.Available.String())

	assert.True(t, tl.coll.Balance("keeper").IsZero())
	assert.Equal(t, "10100", tl.coll.CustodyBalance().String())
	assert.Equal(t, "100", tl.ProtocolPool().String())
	got, err := tl.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "10000", got.Margin.String())
	assert.Equal(t, pos.Version, got.Version)
	assert.NoError(t, tl.CheckInvariants())

	// the same request goes through once custody covers the profit
	tl.coll.FundCustody(ctx, num.NewUint(1900))
	res, err := tl.Liquidate(ctx, liquidator, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "7000", res.Payout.String())
	assert.Equal(t, "5000", tl.coll.Balance("keeper").String())
	assert.True(t, tl.coll.CustodyBalance().IsZero())
	assert.NoError(t, tl.CheckInvariants())
}

func testLiquidateGrants(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	pos := tl.openDefault(t)
	require.NoError(t, tl.Grant(ctx, admin, "seizer", types.OpReduceMargin))

	req := types.SeizeRequest{
		ID: pos.ID, Version: pos.Version, Amount: num.NewUint(100), Reward: num.NewUint(1), Recipient: "keeper",
	}
	_, err := tl.Liquidate(ctx, settler, req, nil)
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)
	_, err = tl.Liquidate(ctx, "seizer", req, nil)
	assert.ErrorIs(t, err, positions.ErrNotAuthorised)

	req.Reward = num.NewUint(101)
	_, err = tl.Liquidate(ctx, liquidator, req, nil)
	assert.ErrorIs(t, err, positions.ErrInvalidReward)
	assert.True(t, tl.coll.Balance("keeper").IsZero())
}

func TestMaturedBefore(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(100000)))
	start := tl.tsvc.GetTimeNow()

	for _, days := range []uint32{90, 30, 30, 365} {
		req := defaultRequest()
		req.MaturityDays = days
		_, err := tl.Open(ctx, trader, req)
		require.NoError(t, err)
	}

	assert.Empty(t, tl.MaturedBefore(start.Add(29*24*time.Hour)))
	assert.Equal(t, []uint64{2, 3}, tl.MaturedBefore(start.Add(30*24*time.Hour)))
	assert.Equal(t, []uint64{2, 3, 1}, tl.MaturedBefore(start.Add(200*24*time.Hour)))

	_, err := tl.ClosePosition(ctx, settler, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1, 4}, tl.MaturedBefore(start.Add(365*24*time.Hour)))

	active := tl.Active()
	require.Len(t, active, 3)
	assert.Equal(t, uint64(1), active[0].ID)
	assert.Equal(t, uint64(4), active[2].ID)
}

// TestConservation runs a random sequence of ledger operations and checks
// the aggregate counters after every step.
func TestConservation(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))
	tl.coll.FundCustody(ctx, num.NewUint(10000000))
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(100000000)))

	maturities := types.AllowedMaturities()
	ids := []uint64{}
	for i := 0; i < 500; i++ {
		switch op := rnd.Intn(7); {
		case op == 0 || len(ids) == 0:
			notional := uint64(1000 + rnd.Intn(100000))
			req := types.OpenRequest{
				Direction:    types.Direction(1 + rnd.Intn(2)),
				Notional:     num.NewUint(notional),
				FixedRate:    num.DecimalFromInt64(int64(1 + rnd.Intn(10))).Div(num.DecimalFromInt64(100)),
				MaturityDays: maturities[rnd.Intn(len(maturities))],
				Margin:       num.NewUint(notional/10 + uint64(rnd.Intn(int(notional)))),
			}
			if pos, err := tl.Open(ctx, trader, req); err == nil {
				ids = append(ids, pos.ID)
			}
		default:
			id := ids[rnd.Intn(len(ids))]
			amount := num.NewUint(uint64(rnd.Intn(5000)))
			switch op {
			case 1:
				_, _ = tl.AddMargin(ctx, trader, id, amount)
			case 2:
				_, _ = tl.RemoveMargin(ctx, trader, id, amount)
			case 3:
				pnl := num.NewInt(int64(rnd.Intn(4000) - 2000))
				_, _ = tl.UpdatePnL(ctx, settler, id, pnl, tl.tsvc.GetTimeNow())
			case 4:
				_, _ = tl.ClosePosition(ctx, settler, id, num.NewInt(-int64(rnd.Intn(100))))
			case 5:
				if pos, err := tl.Get(id); err == nil {
					_, _ = tl.Seize(ctx, liquidator, types.SeizeRequest{
						ID: id, Version: pos.Version, Amount: amount, Reward: num.UintZero(),
					})
				}
			case 6:
				_, _ = tl.ReduceMargin(ctx, liquidator, id, amount, "keeper")
			}
		}
		tl.tsvc.Advance(ctx, time.Minute)
		require.NoError(t, tl.CheckInvariants(), "step %d", i)
	}

	for _, pos := range tl.Active() {
		assert.False(t, pos.Margin.ToDecimal().IsNegative())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	tl := getTestLedger(t)
	ctx := context.Background()
	require.NoError(t, tl.coll.Deposit(ctx, trader, num.NewUint(100000)))
	for _, days := range []uint32{90, 30} {
		req := defaultRequest()
		req.MaturityDays = days
		_, err := tl.Open(ctx, trader, req)
		require.NoError(t, err)
	}
	_, err := tl.UpdatePnL(ctx, settler, 1, num.NewInt(-250), tl.tsvc.GetTimeNow())
	require.NoError(t, err)
	_, err = tl.ClosePosition(ctx, settler, 2, nil)
	require.NoError(t, err)

	state, err := tl.GetState()
	require.NoError(t, err)

	restored := getTestLedger(t)
	require.NoError(t, restored.LoadState(ctx, state))

	want, err := tl.Get(1)
	require.NoError(t, err)
	got, err := restored.Get(1)
	require.NoError(t, err)
	assert.Equal(t, want.String(), got.String())
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.Maturity.Equal(got.Maturity))

	assert.Equal(t, tl.Totals().TotalMargin.String(), restored.Totals().TotalMargin.String())
	assert.Equal(t, tl.ProtocolPool().String(), restored.ProtocolPool().String())
	assert.Equal(t, []uint64{1}, restored.MaturedBefore(want.Maturity))
	assert.True(t, restored.Can(settler, types.OpUpdatePnL))

	// the next id continues after the restored positions
	require.NoError(t, restored.coll.Deposit(ctx, trader, num.NewUint(20000)))
	pos, err := restored.Open(ctx, trader, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pos.ID)
}
