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

package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/google/btree"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Collateral is the value transfer channel, every call is all or nothing.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/collateral_mock.go -package mocks github.com/ratevault/swapcore/core/positions Collateral
type Collateral interface {
	// Debit moves amount from party into custody.
	Debit(ctx context.Context, party string, amount *num.Uint) error
	// Credit moves amount from custody to party.
	Credit(ctx context.Context, party string, amount *num.Uint) error
	CustodyBalance() *num.Uint
}

// Ownership records who holds each position.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/ownership_mock.go -package mocks github.com/ratevault/swapcore/core/positions Ownership
type Ownership interface {
	Mint(ctx context.Context, id uint64, owner string) error
	OwnerOf(id uint64) (string, error)
	Transfer(ctx context.Context, caller string, id uint64, to string) error
}

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Broker (no longer need to mock this, use the broker/mocks wrapper).
type Broker interface {
	Send(event events.Event)
	SendBatch(events []events.Event)
}

type maturityItem struct {
	maturity time.Time
	id       uint64
}

func maturityLess(a, b maturityItem) bool {
	if a.maturity.Equal(b.maturity) {
		return a.id < b.id
	}
	return a.maturity.Before(b.maturity)
}

// Engine is the position ledger: the canonical record of every swap
// position and of the aggregate counters derived from them. Every
// mutating method holds the ledger lock for its whole duration.
type Engine struct {
	Config
	log         *logging.Logger
	collateral  Collateral
	ownership   Ownership
	timeService TimeService
	broker      Broker
	admin       string

	mu        sync.Mutex
	nextID    uint64
	positions map[uint64]*types.Position
	// active positions only, ordered by maturity
	maturities *btree.BTreeG[maturityItem]
	totals     types.Totals
	// fees accrued by settlements and not yet paid out to keepers
	feeBalance   *num.Uint
	protocolPool *num.Uint
	grants       map[string]map[types.Operation]struct{}
}

// New instantiates a new position ledger, admin manages the grants.
func New(
	log *logging.Logger,
	conf Config,
	admin string,
	collateral Collateral,
	ownership Ownership,
	timeService TimeService,
	broker Broker,
) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:       conf,
		log:          log,
		collateral:   collateral,
		ownership:    ownership,
		timeService:  timeService,
		broker:       broker,
		admin:        admin,
		nextID:       1,
		positions:    map[uint64]*types.Position{},
		maturities:   btree.NewG[maturityItem](16, maturityLess),
		totals:       zeroTotals(),
		feeBalance:   num.UintZero(),
		protocolPool: num.UintZero(),
		grants:       map[string]map[types.Operation]struct{}{},
	}
}

func zeroTotals() types.Totals {
	return types.Totals{
		TotalMargin:         num.UintZero(),
		PayFixedNotional:    num.UintZero(),
		PayFloatingNotional: num.UintZero(),
	}
}

// ReloadConf updates the internal configuration of the ledger.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}

	e.mu.Lock()
	e.Config = cfg
	e.mu.Unlock()
}

// Grant allows party to perform ops on the ledger.
func (e *Engine) Grant(ctx context.Context, caller, party string, ops ...types.Operation) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	granted, ok := e.grants[party]
	if !ok {
		granted = map[types.Operation]struct{}{}
		e.grants[party] = granted
	}
	for _, op := range ops {
		granted[op] = struct{}{}
		e.log.Info("ledger operation granted", logging.Party(party), logging.String("operation", op.String()))
	}
	return nil
}

// Revoke removes ops from the grants of party.
func (e *Engine) Revoke(ctx context.Context, caller, party string, ops ...types.Operation) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	granted := e.grants[party]
	for _, op := range ops {
		delete(granted, op)
		e.log.Info("ledger operation revoked", logging.Party(party), logging.String("operation", op.String()))
	}
	if len(granted) == 0 {
		delete(e.grants, party)
	}
	return nil
}

// Can returns true if party was granted op.
func (e *Engine) Can(party string, op types.Operation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.can(party, op)
}

func (e *Engine) can(party string, op types.Operation) bool {
	_, ok := e.grants[party][op]
	return ok
}

// Open creates a position for trader, debiting margin plus the trading fee.
func (e *Engine) Open(ctx context.Context, trader string, req types.OpenRequest) (*types.Position, error) {
	return e.open(ctx, trader, req, true)
}

// OpenOnBehalfOf creates a position for trader whose margin is already in
// custody, no trading fee is charged.
func (e *Engine) OpenOnBehalfOf(ctx context.Context, caller, trader string, req types.OpenRequest) (*types.Position, error) {
	if !e.Can(caller, types.OpOpenOnBehalfOf) {
		return nil, ErrNotAuthorised
	}
	return e.open(ctx, trader, req, false)
}

func (e *Engine) open(ctx context.Context, trader string, req types.OpenRequest, debit bool) (*types.Position, error) {
	if trader == "" {
		return nil, ErrInvalidTrader
	}
	if !req.Direction.IsValid() {
		return nil, types.ErrInvalidDirection
	}
	if req.Notional == nil || req.Notional.IsZero() {
		return nil, ErrInvalidNotional
	}
	if !types.IsValidRate(req.FixedRate) {
		return nil, ErrInvalidFixedRate
	}
	if !types.IsValidMaturity(req.MaturityDays) {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidMaturity, req.MaturityDays)
	}
	if req.Margin == nil {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// a flat floor for every tenor, the tenor scaled quote is risk.CalculateInitialMargin
	required, err := num.MulFracCeil(req.Notional, e.InitialMarginRatio.Get())
	if err != nil {
		return nil, err
	}
	if req.Margin.LT(required) {
		return nil, &InsufficientMarginError{Required: required, Provided: req.Margin.Clone()}
	}

	fee := num.UintZero()
	if debit {
		if fee, err = num.MulFrac(req.Notional, e.TradingFee.Get()); err != nil {
			return nil, err
		}
		total, err := num.AddChecked(req.Margin, fee)
		if err != nil {
			return nil, err
		}
		if err := e.collateral.Debit(ctx, trader, total); err != nil {
			return nil, fmt.Errorf("could not debit margin: %w", err)
		}
	} else if available := e.liquidity(); available.LT(req.Margin) {
		return nil, &LiquidityError{Required: req.Margin.Clone(), Available: available}
	}

	id := e.nextID
	if err := e.ownership.Mint(ctx, id, trader); err != nil {
		if debit {
			e.refund(ctx, trader, num.Sum(req.Margin, fee))
		}
		return nil, err
	}
	e.nextID++

	now := e.timeService.GetTimeNow()
	pos := &types.Position{
		ID:                 id,
		Direction:          req.Direction,
		Notional:           req.Notional.Clone(),
		FixedRate:          req.FixedRate,
		Margin:             req.Margin.Clone(),
		AccumulatedPnL:     num.IntZero(),
		MaturityDays:       req.MaturityDays,
		StartTime:          now,
		Maturity:           types.MaturityFrom(now, req.MaturityDays),
		LastSettlementTime: now,
		Active:             true,
		Version:            1,
	}
	e.positions[id] = pos
	e.maturities.ReplaceOrInsert(maturityItem{maturity: pos.Maturity, id: id})
	e.addToTotals(pos)
	e.protocolPool.AddSum(fee)

	e.log.Info("position opened",
		logging.PositionID(id),
		logging.Party(trader),
		logging.String("direction", pos.Direction.String()),
		logging.BigUint("notional", pos.Notional),
		logging.BigUint("margin", pos.Margin),
		logging.BigUint("fee", fee),
	)
	e.broker.Send(events.NewPositionOpened(ctx, trader, pos))
	metrics.ActivePositionsSet(e.totals.ActivePositions)
	return pos.Clone(), nil
}

// refund gives back what was debited when the open could not complete.
func (e *Engine) refund(ctx context.Context, trader string, amount *num.Uint) {
	if err := e.collateral.Credit(ctx, trader, amount); err != nil {
		e.log.Error("could not refund trader", logging.Party(trader), logging.BigUint("amount", amount), logging.Error(err))
	}
}

// AddMargin tops up the margin of a position, owner only.
func (e *Engine) AddMargin(ctx context.Context, caller string, id uint64, amount *num.Uint) (*types.Position, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.ownedActive(caller, id)
	if err != nil {
		return nil, err
	}
	if err := e.collateral.Debit(ctx, caller, amount); err != nil {
		return nil, fmt.Errorf("could not debit margin: %w", err)
	}
	pos.Margin.AddSum(amount)
	e.totals.TotalMargin.AddSum(amount)
	e.touch(ctx, caller, pos)
	return pos.Clone(), nil
}

// RemoveMargin withdraws margin to the owner as long as the remaining
// margin stays at or above notional times MinMarginRatio.
func (e *Engine) RemoveMargin(ctx context.Context, caller string, id uint64, amount *num.Uint) (*types.Position, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.ownedActive(caller, id)
	if err != nil {
		return nil, err
	}
	minimum, err := num.MulFracCeil(pos.Notional, e.MinMarginRatio.Get())
	if err != nil {
		return nil, err
	}
	remaining, underflow := num.UintZero().SubOverflow(pos.Margin, amount)
	if underflow || remaining.LT(minimum) {
		if underflow {
			remaining = num.UintZero()
		}
		return nil, &ExcessiveWithdrawalError{ID: id, Remaining: remaining, Minimum: minimum}
	}
	if err := e.collateral.Credit(ctx, caller, amount); err != nil {
		return nil, fmt.Errorf("could not credit margin: %w", err)
	}
	pos.Margin = remaining
	e.totals.TotalMargin.Sub(e.totals.TotalMargin, amount)
	e.touch(ctx, caller, pos)
	return pos.Clone(), nil
}

// UpdatePnL records a realised outcome against a position without any fee.
func (e *Engine) UpdatePnL(ctx context.Context, caller string, id uint64, pnl *num.Int, settledAt time.Time) (*types.Position, error) {
	if pnl == nil {
		return nil, ErrInvalidSettlement
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpUpdatePnL) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(id)
	if err != nil {
		return nil, err
	}
	if settledAt.Before(pos.LastSettlementTime) {
		return nil, fmt.Errorf("%w: settlement time %s before last settlement %s",
			ErrInvalidSettlement, settledAt, pos.LastSettlementTime)
	}
	pos.AccumulatedPnL.Add(pnl)
	pos.LastSettlementTime = settledAt
	e.touch(ctx, e.ownerOf(id), pos)
	return pos.Clone(), nil
}

// ApplySettlement records the net outcome of a settlement, accrues its
// fee and pays the keeper reward out of the accrued fees. It returns
// what the keeper was actually paid.
func (e *Engine) ApplySettlement(ctx context.Context, caller string, upd types.SettlementUpdate) (*num.Uint, error) {
	if upd.NetPnL == nil || upd.Fee == nil || upd.KeeperFee == nil {
		return nil, ErrInvalidSettlement
	}
	if upd.KeeperFee.GT(upd.Fee) {
		return nil, fmt.Errorf("%w: keeper fee %s above settlement fee %s", ErrInvalidSettlement, upd.KeeperFee, upd.Fee)
	}
	if !upd.KeeperFee.IsZero() && upd.Keeper == "" {
		return nil, fmt.Errorf("%w: keeper fee without a keeper", ErrInvalidSettlement)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpUpdatePnL) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(upd.ID)
	if err != nil {
		return nil, err
	}
	if pos.Version != upd.Version {
		return nil, ErrPositionChanged
	}
	if upd.SettledAt.Before(pos.LastSettlementTime) {
		return nil, fmt.Errorf("%w: settlement time %s before last settlement %s",
			ErrInvalidSettlement, upd.SettledAt, pos.LastSettlementTime)
	}

	accrued, err := num.AddChecked(e.feeBalance, upd.Fee)
	if err != nil {
		return nil, err
	}
	paid := num.Min(upd.KeeperFee, accrued).Clone()
	if available := e.liquidity(); available.LT(paid) {
		return nil, &LiquidityError{Required: paid, Available: available}
	}
	if !paid.IsZero() {
		if err := e.collateral.Credit(ctx, upd.Keeper, paid); err != nil {
			return nil, fmt.Errorf("could not pay keeper reward: %w", err)
		}
	}
	accrued.Sub(accrued, paid)
	// the part of this fee not owed to the keeper belongs to the protocol
	toPool := num.UintZero()
	if upd.Fee.GT(upd.KeeperFee) {
		toPool = num.Min(num.UintZero().Sub(upd.Fee, upd.KeeperFee), accrued).Clone()
	}
	accrued.Sub(accrued, toPool)
	e.feeBalance = accrued
	e.protocolPool.AddSum(toPool)

	pos.AccumulatedPnL.Add(upd.NetPnL)
	pos.LastSettlementTime = upd.SettledAt
	e.touch(ctx, e.ownerOf(upd.ID), pos)

	e.log.Debug("settlement applied",
		logging.PositionID(upd.ID),
		logging.BigInt("net-pnl", upd.NetPnL),
		logging.BigUint("fee", upd.Fee),
		logging.Party(upd.Keeper),
		logging.BigUint("keeper-reward", paid),
	)
	return paid, nil
}

// ClosePosition pays out max(0, margin + accumulated PnL + finalDelta) to
// the current owner and deactivates the position. Margin left over after
// the payout accrues to the protocol pool.
func (e *Engine) ClosePosition(ctx context.Context, caller string, id uint64, finalDelta *num.Int) (*num.Uint, error) {
	if finalDelta == nil {
		finalDelta = num.IntZero()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpClosePosition) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(id)
	if err != nil {
		return nil, err
	}
	owner, err := e.ownership.OwnerOf(id)
	if err != nil {
		return nil, err
	}

	payout := closePayout(pos.Margin, pos.AccumulatedPnL, finalDelta)
	// the position's own margin is released, anything above it comes out of liquidity
	if available := num.Sum(e.liquidity(), pos.Margin); available.LT(payout) {
		return nil, &LiquidityError{Required: payout, Available: available}
	}
	if _, err := e.closeLocked(ctx, owner, pos, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

// ReduceMargin moves up to amount of margin to recipient, the amount is
// clamped to the margin held. It returns what was moved.
func (e *Engine) ReduceMargin(ctx context.Context, caller string, id uint64, amount *num.Uint, recipient string) (*num.Uint, error) {
	if amount == nil {
		return nil, ErrInvalidAmount
	}
	if recipient == "" {
		return nil, ErrInvalidTrader
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpReduceMargin) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(id)
	if err != nil {
		return nil, err
	}
	moved := num.Min(amount, pos.Margin).Clone()
	if !moved.IsZero() {
		if err := e.collateral.Credit(ctx, recipient, moved); err != nil {
			return nil, fmt.Errorf("could not credit recipient: %w", err)
		}
	}
	pos.Margin.Sub(pos.Margin, moved)
	e.totals.TotalMargin.Sub(e.totals.TotalMargin, moved)
	e.touch(ctx, e.ownerOf(id), pos)
	return moved, nil
}

// Seize takes margin out of a position: the reward goes to the recipient
// and the rest of the seized amount accrues to the protocol pool.
func (e *Engine) Seize(ctx context.Context, caller string, req types.SeizeRequest) (*types.SeizeResult, error) {
	if err := validateSeize(req); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpReduceMargin) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(req.ID)
	if err != nil {
		return nil, err
	}
	seized, err := seizable(pos, req)
	if err != nil {
		return nil, err
	}
	return e.seizeLocked(ctx, pos, req, seized)
}

// Liquidate seizes margin like Seize and closes the position with
// finalDelta in the same step. Nothing is paid unless both the reward and
// the owner's payout can be covered.
func (e *Engine) Liquidate(ctx context.Context, caller string, req types.SeizeRequest, finalDelta *num.Int) (*types.LiquidationResult, error) {
	if err := validateSeize(req); err != nil {
		return nil, err
	}
	if finalDelta == nil {
		finalDelta = num.IntZero()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.can(caller, types.OpReduceMargin) || !e.can(caller, types.OpClosePosition) {
		return nil, ErrNotAuthorised
	}
	pos, err := e.active(req.ID)
	if err != nil {
		return nil, err
	}
	owner, err := e.ownership.OwnerOf(req.ID)
	if err != nil {
		return nil, err
	}
	seized, err := seizable(pos, req)
	if err != nil {
		return nil, err
	}

	remaining := num.UintZero().Sub(pos.Margin, seized)
	payout := closePayout(remaining, pos.AccumulatedPnL, finalDelta)
	// liquidity as it will stand once the reward left custody and the seized margin left the totals
	custody := e.collateral.CustodyBalance()
	custody = num.UintZero().Sub(custody, num.Min(req.Reward, custody))
	totalMargin := num.UintZero().Sub(e.totals.TotalMargin, seized)
	available := remaining.Clone()
	if custody.GT(totalMargin) {
		available.AddSum(num.UintZero().Sub(custody, totalMargin))
	}
	if available.LT(payout) {
		return nil, &LiquidityError{Required: payout, Available: available}
	}

	res, err := e.seizeLocked(ctx, pos, req, seized)
	if err != nil {
		return nil, err
	}
	residual, err := e.closeLocked(ctx, owner, pos, payout)
	if err != nil {
		e.log.Error("liquidated position could not be closed",
			logging.PositionID(req.ID),
			logging.BigUint("payout", payout),
			logging.Error(err),
		)
		return nil, err
	}
	return &types.LiquidationResult{
		SeizeResult: *res,
		Payout:      payout,
		Residual:    residual,
	}, nil
}

func validateSeize(req types.SeizeRequest) error {
	if req.Amount == nil || req.Reward == nil {
		return ErrInvalidAmount
	}
	if req.Recipient == "" && !req.Reward.IsZero() {
		return ErrInvalidTrader
	}
	return nil
}

// seizable is what req takes out of pos, the amount is clamped to the margin held.
func seizable(pos *types.Position, req types.SeizeRequest) (*num.Uint, error) {
	if pos.Version != req.Version {
		return nil, ErrPositionChanged
	}
	seized := num.Min(req.Amount, pos.Margin).Clone()
	if req.Reward.GT(seized) {
		return nil, fmt.Errorf("%w: reward %s, seized %s", ErrInvalidReward, req.Reward, seized)
	}
	return seized, nil
}

// closePayout is max(0, margin + pnl + delta).
func closePayout(margin *num.Uint, pnl, delta *num.Int) *num.Uint {
	value := num.IntFromUint(margin, true).AddSum(pnl, delta)
	if value.IsPositive() {
		return value.Abs()
	}
	return num.UintZero()
}

// seizeLocked must be called with the lock held.
func (e *Engine) seizeLocked(ctx context.Context, pos *types.Position, req types.SeizeRequest, seized *num.Uint) (*types.SeizeResult, error) {
	if !req.Reward.IsZero() {
		if err := e.collateral.Credit(ctx, req.Recipient, req.Reward); err != nil {
			return nil, fmt.Errorf("could not pay reward: %w", err)
		}
	}

	share := num.UintZero().Sub(seized, req.Reward)
	e.protocolPool.AddSum(share)
	pos.Margin.Sub(pos.Margin, seized)
	e.totals.TotalMargin.Sub(e.totals.TotalMargin, seized)
	e.touch(ctx, e.ownerOf(req.ID), pos)

	return &types.SeizeResult{
		Seized:          seized,
		Reward:          req.Reward.Clone(),
		ProtocolShare:   share,
		RemainingMargin: pos.Margin.Clone(),
	}, nil
}

// closeLocked pays payout to owner and deactivates pos, the caller checked
// liquidity. It returns the margin left to the protocol pool.
// Must be called with the lock held.
func (e *Engine) closeLocked(ctx context.Context, owner string, pos *types.Position, payout *num.Uint) (*num.Uint, error) {
	if !payout.IsZero() {
		if err := e.collateral.Credit(ctx, owner, payout); err != nil {
			return nil, fmt.Errorf("could not pay out position: %w", err)
		}
	}

	residual := num.UintZero()
	if payout.LTE(pos.Margin) {
		residual.Sub(pos.Margin, payout)
		e.protocolPool.AddSum(residual)
	} else {
		excess := num.UintZero().Sub(payout, pos.Margin)
		e.protocolPool.Sub(e.protocolPool, num.Min(excess, e.protocolPool))
	}

	e.removeFromTotals(pos)
	e.maturities.Delete(maturityItem{maturity: pos.Maturity, id: pos.ID})
	pos.Margin = num.UintZero()
	pos.Active = false
	pos.Version++

	now := e.timeService.GetTimeNow()
	e.log.Info("position closed",
		logging.PositionID(pos.ID),
		logging.Party(owner),
		logging.BigUint("payout", payout),
		logging.BigUint("residual", residual),
	)
	e.broker.SendBatch([]events.Event{
		events.NewPositionUpdated(ctx, owner, pos),
		events.NewPositionClosed(ctx, pos.ID, owner, payout, residual, now),
	})
	metrics.ActivePositionsSet(e.totals.ActivePositions)
	return residual, nil
}

// TransferOwnership hands a position over to another party, owner only.
func (e *Engine) TransferOwnership(ctx context.Context, caller string, id uint64, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[id]; !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return e.ownership.Transfer(ctx, caller, id, to)
}

// Get returns a copy of the position.
func (e *Engine) Get(id uint64) (*types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return pos.Clone(), nil
}

// Owner returns the current holder of the position.
func (e *Engine) Owner(id uint64) (string, error) {
	return e.ownership.OwnerOf(id)
}

// Active returns copies of every active position, by id.
func (e *Engine) Active() []*types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := maps.Keys(e.positions)
	slices.Sort(ids)
	out := make([]*types.Position, 0, e.totals.ActivePositions)
	for _, id := range ids {
		if pos := e.positions[id]; pos.Active {
			out = append(out, pos.Clone())
		}
	}
	return out
}

// MaturedBefore returns the ids of active positions whose maturity is at
// or before t, earliest maturity first.
func (e *Engine) MaturedBefore(t time.Time) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := []uint64{}
	e.maturities.Ascend(func(it maturityItem) bool {
		if it.maturity.After(t) {
			return false
		}
		ids = append(ids, it.id)
		return true
	})
	return ids
}

func (e *Engine) Totals() types.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals.Clone()
}

func (e *Engine) FeeBalance() *num.Uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeBalance.Clone()
}

func (e *Engine) ProtocolPool() *num.Uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolPool.Clone()
}

// active must be called with the lock held.
func (e *Engine) active(id uint64) (*types.Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if !pos.Active {
		return nil, fmt.Errorf("%w: %d", ErrPositionInactive, id)
	}
	return pos, nil
}

// ownedActive must be called with the lock held.
func (e *Engine) ownedActive(caller string, id uint64) (*types.Position, error) {
	pos, err := e.active(id)
	if err != nil {
		return nil, err
	}
	owner, err := e.ownership.OwnerOf(id)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	return pos, nil
}

// ownerOf is only used to label events, an unknown owner is not an error.
func (e *Engine) ownerOf(id uint64) string {
	owner, _ := e.ownership.OwnerOf(id)
	return owner
}

// liquidity is what custody holds above the margin of active positions.
// Must be called with the lock held.
func (e *Engine) liquidity() *num.Uint {
	custody := e.collateral.CustodyBalance()
	if custody.LTE(e.totals.TotalMargin) {
		return num.UintZero()
	}
	return num.UintZero().Sub(custody, e.totals.TotalMargin)
}

func (e *Engine) touch(ctx context.Context, owner string, pos *types.Position) {
	pos.Version++
	e.broker.Send(events.NewPositionUpdated(ctx, owner, pos))
}

func (e *Engine) addToTotals(pos *types.Position) {
	e.totals.TotalMargin.AddSum(pos.Margin)
	e.notionalTotal(pos.Direction).AddSum(pos.Notional)
	e.totals.ActivePositions++
}

func (e *Engine) removeFromTotals(pos *types.Position) {
	e.totals.TotalMargin.Sub(e.totals.TotalMargin, pos.Margin)
	total := e.notionalTotal(pos.Direction)
	total.Sub(total, pos.Notional)
	e.totals.ActivePositions--
}

func (e *Engine) notionalTotal(d types.Direction) *num.Uint {
	if d == types.DirectionPayFixed {
		return e.totals.PayFixedNotional
	}
	return e.totals.PayFloatingNotional
}
