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

package liquidation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/risk"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"
)

// Ledger is the part of the position ledger liquidation writes to.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/ledger_mock.go -package mocks github.com/ratevault/swapcore/core/execution/liquidation Ledger
type Ledger interface {
	Seize(ctx context.Context, caller string, req types.SeizeRequest) (*types.SeizeResult, error)
	Liquidate(ctx context.Context, caller string, req types.SeizeRequest, finalDelta *num.Int) (*types.LiquidationResult, error)
}

// Risk assesses the health of a position.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/risk_mock.go -package mocks github.com/ratevault/swapcore/core/execution/liquidation Risk
type Risk interface {
	Assess(ctx context.Context, id uint64) (*risk.Assessment, error)
}

// Broker - the event bus broker, send events here.
type Broker interface {
	Send(event events.Event)
}

// Result of a liquidation.
type Result struct {
	ID           uint64
	HealthFactor num.Decimal
	Seized       *num.Uint
	Reward       *num.Uint
	ProtocolFee  *num.Uint
	// Payout is what the owner got back when the position was closed,
	// nil for a partial liquidation.
	Payout  *num.Uint
	Partial bool
}

// BatchResult of a batch liquidation. Ineligible ids are skipped with the reason.
type BatchResult struct {
	Liquidated  []*Result
	TotalReward *num.Uint
	Skipped     map[uint64]error
}

func (b *BatchResult) Count() int {
	return len(b.Liquidated)
}

// Engine liquidates positions whose health factor fell under the threshold.
type Engine struct {
	log *logging.Logger

	cfgMu sync.RWMutex
	Config

	identity string
	ledger   Ledger
	risk     Risk
	broker   Broker
}

// New instantiates a new liquidation engine acting on the ledger as identity.
func New(log *logging.Logger, conf Config, identity string, ledger Ledger, riskEngine Risk, broker Broker) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		log:      log,
		Config:   conf,
		identity: identity,
		ledger:   ledger,
		risk:     riskEngine,
		broker:   broker,
	}
}

// ReloadConf updates the internal configuration of the liquidation engine.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}

	e.cfgMu.Lock()
	e.Config = cfg
	e.cfgMu.Unlock()
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.Config
}

// Identity is the party the engine must be granted ledger operations for.
func (e *Engine) Identity() string {
	return e.identity
}

// Liquidate seizes the maximum share of the margin of an unhealthy
// position, pays the caller and closes what is left of the position. The
// close charges the PnL accrued since the last settlement.
func (e *Engine) Liquidate(ctx context.Context, caller string, id uint64) (*Result, error) {
	defer metrics.NewTimeCounter("liquidation", "liquidate").EngineTimeCounterAdd()
	a, req, err := e.prepare(ctx, caller, id, nil)
	if err != nil {
		return nil, err
	}
	// accrual since the last settlement, truncated towards zero
	finalDelta, err := num.ToInt(a.UnrealisedPnL.Sub(a.Position.AccumulatedPnL.ToDecimal()))
	if err != nil {
		return nil, err
	}
	out, err := e.ledger.Liquidate(ctx, e.identity, req, finalDelta)
	if err != nil {
		return nil, fmt.Errorf("could not liquidate position %d: %w", id, err)
	}
	res, err := e.result(a, &out.SeizeResult)
	if err != nil {
		return nil, err
	}
	res.Payout = out.Payout
	e.done(ctx, caller, res)
	return res, nil
}

// PartialLiquidate seizes up to amount, bounded by the maximum share of the
// margin, and leaves the position open.
func (e *Engine) PartialLiquidate(ctx context.Context, caller string, id uint64, amount *num.Uint) (*Result, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	defer metrics.NewTimeCounter("liquidation", "seize").EngineTimeCounterAdd()
	a, req, err := e.prepare(ctx, caller, id, amount)
	if err != nil {
		return nil, err
	}
	seized, err := e.ledger.Seize(ctx, e.identity, req)
	if err != nil {
		return nil, err
	}
	res, err := e.result(a, seized)
	if err != nil {
		return nil, err
	}
	res.Partial = true
	e.done(ctx, caller, res)
	return res, nil
}

// BatchLiquidate fully liquidates each eligible position.
func (e *Engine) BatchLiquidate(ctx context.Context, caller string, ids []uint64) *BatchResult {
	out := &BatchResult{
		TotalReward: num.UintZero(),
		Skipped:     map[uint64]error{},
	}
	for _, id := range ids {
		res, err := e.Liquidate(ctx, caller, id)
		if err != nil {
			out.Skipped[id] = err
			continue
		}
		out.Liquidated = append(out.Liquidated, res)
		out.TotalReward.AddSum(res.Reward)
	}
	return out
}

// prepare checks the position can be liquidated and builds the seizure
// against the version that was assessed.
func (e *Engine) prepare(ctx context.Context, caller string, id uint64, amount *num.Uint) (*risk.Assessment, types.SeizeRequest, error) {
	a, err := e.risk.Assess(ctx, id)
	if err != nil {
		return nil, types.SeizeRequest{}, err
	}
	if !a.Liquidatable {
		return nil, types.SeizeRequest{}, &PositionNotLiquidatableError{ID: id, HealthFactor: a.HealthFactor}
	}
	split, err := ComputeSplit(e.config(), a.Position.Margin, amount)
	if err != nil {
		return nil, types.SeizeRequest{}, err
	}
	return a, types.SeizeRequest{
		ID:        id,
		Version:   a.Position.Version,
		Amount:    split.Seized,
		Reward:    split.Reward,
		Recipient: caller,
	}, nil
}

func (e *Engine) result(a *risk.Assessment, seized *types.SeizeResult) (*Result, error) {
	margin := a.Position.Margin
	if err := checkSolvency(margin, seized.Seized, seized.Reward); err != nil {
		e.log.Error("ledger seized outside of the liquidation bounds",
			logging.PositionID(a.Position.ID),
			logging.BigUint("margin", margin),
			logging.BigUint("seized", seized.Seized),
			logging.BigUint("reward", seized.Reward),
		)
		return nil, err
	}
	return &Result{
		ID:           a.Position.ID,
		HealthFactor: a.HealthFactor,
		Seized:       seized.Seized,
		Reward:       seized.Reward,
		ProtocolFee:  seized.ProtocolShare,
	}, nil
}

func (e *Engine) done(ctx context.Context, caller string, res *Result) {
	mode := "full"
	if res.Partial {
		mode = "partial"
	}
	metrics.LiquidationInc(mode)
	e.log.Info("position liquidated",
		logging.PositionID(res.ID),
		logging.Party(caller),
		logging.String("mode", mode),
		logging.Decimal("health-factor", res.HealthFactor),
		logging.BigUint("seized", res.Seized),
		logging.BigUint("reward", res.Reward),
	)
	e.broker.Send(events.NewPositionLiquidated(ctx, res.ID, caller, res.Seized, res.Reward, res.ProtocolFee, res.HealthFactor, res.Partial))
}
