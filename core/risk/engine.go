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

package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"
)

var (
	ErrInvalidMaturity  = errors.New("maturity is not an allowed tenor")
	ErrPositionInactive = errors.New("position is not active")
)

// Ledger gives read access to the positions.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/ledger_mock.go -package mocks github.com/ratevault/swapcore/core/risk Ledger
type Ledger interface {
	Get(id uint64) (*types.Position, error)
}

// Oracle provides the floating rate.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/oracle_mock.go -package mocks github.com/ratevault/swapcore/core/risk Oracle
type Oracle interface {
	GetCurrentRate(ctx context.Context) (num.Decimal, error)
}

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Assessment is the margin state of a position at a point in time.
type Assessment struct {
	// Position is the copy the assessment was computed from.
	Position *types.Position
	// UnrealisedPnL is the accumulated PnL plus what accrued since the
	// last settlement at the current rate.
	UnrealisedPnL num.Decimal
	Maintenance   *num.Uint
	HealthFactor  num.Decimal
	Liquidatable  bool
}

// Engine computes margin requirements and health. It never mutates the
// ledger or the oracle and can be called as often as needed.
type Engine struct {
	log *logging.Logger

	cfgMu sync.RWMutex
	Config

	ledger      Ledger
	oracle      Oracle
	timeService TimeService
}

// New instantiates a new margin engine.
func New(log *logging.Logger, conf Config, ledger Ledger, oracle Oracle, timeService TimeService) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		log:         log,
		Config:      conf,
		ledger:      ledger,
		oracle:      oracle,
		timeService: timeService,
	}
}

// ReloadConf updates the internal configuration of the margin engine.
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

// CalculateInitialMargin returns the margin required to open a position,
// notional * initial ratio * maturity factor, rounded up.
func (e *Engine) CalculateInitialMargin(notional *num.Uint, maturityDays uint32) (*num.Uint, error) {
	cfg := e.config()
	ratio, ok := cfg.initialMarginRatio(maturityDays)
	if !ok {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidMaturity, maturityDays)
	}
	return num.MulFracCeil(notional, ratio)
}

// CalculateMaxNotional is the largest notional margin can open for the
// tenor, bounded by the max leverage.
func (e *Engine) CalculateMaxNotional(margin *num.Uint, maturityDays uint32) (*num.Uint, error) {
	cfg := e.config()
	ratio, ok := cfg.initialMarginRatio(maturityDays)
	if !ok {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidMaturity, maturityDays)
	}
	byMargin := margin.ToDecimal().Div(ratio)
	byLeverage := margin.ToDecimal().Mul(cfg.MaxLeverage.Get())
	return num.ToUint(num.MinD(byMargin, byLeverage))
}

// Assess computes the margin state of an active position.
func (e *Engine) Assess(ctx context.Context, id uint64) (*Assessment, error) {
	defer metrics.NewTimeCounter("risk", "Assess").EngineTimeCounterAdd()
	pos, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, fmt.Errorf("%w: %d", ErrPositionInactive, id)
	}

	cfg := e.config()
	unrealised := e.unrealised(ctx, pos)
	maint, err := maintenance(pos.Notional, cfg.MaintenanceMarginRatio.Get(), unrealised)
	if err != nil {
		return nil, err
	}
	hf, err := healthFactor(pos.Margin, unrealised, maint)
	if err != nil {
		return nil, fmt.Errorf("could not compute health factor of position %d: %w", id, err)
	}
	return &Assessment{
		Position:      pos,
		UnrealisedPnL: unrealised,
		Maintenance:   maint,
		HealthFactor:  hf,
		Liquidatable:  hf.LessThan(cfg.LiquidationThreshold.Get()),
	}, nil
}

// unrealised returns the accumulated PnL plus the accrual at the current
// rate. The accrual is left out when the oracle cannot be read.
func (e *Engine) unrealised(ctx context.Context, pos *types.Position) num.Decimal {
	pnl := pos.AccumulatedPnL.ToDecimal()
	rate, err := e.oracle.GetCurrentRate(ctx)
	if err != nil {
		if e.log.IsDebug() {
			e.log.Debug("no rate for accrual, using realised pnl only",
				logging.PositionID(pos.ID),
				logging.Error(err),
			)
		}
		return pnl
	}
	return pnl.Add(Accrual(pos, rate, e.timeService.GetTimeNow()))
}

// UnrealisedPnL returns the accumulated PnL of the position plus what it
// accrued since its last settlement.
func (e *Engine) UnrealisedPnL(ctx context.Context, id uint64) (num.Decimal, error) {
	pos, err := e.ledger.Get(id)
	if err != nil {
		return num.DecimalZero(), err
	}
	return e.unrealised(ctx, pos), nil
}

// CalculateMaintenanceMargin returns notional * maintenance ratio plus
// any unrealised loss.
func (e *Engine) CalculateMaintenanceMargin(ctx context.Context, id uint64) (*num.Uint, error) {
	a, err := e.Assess(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Maintenance, nil
}

// GetHealthFactor returns (margin + unrealised PnL) / maintenance margin.
// Unknown and inactive positions have a health factor of zero.
func (e *Engine) GetHealthFactor(ctx context.Context, id uint64) num.Decimal {
	a, err := e.Assess(ctx, id)
	if err != nil {
		return num.DecimalZero()
	}
	return a.HealthFactor
}

// IsLiquidatable is true for an active position whose health factor is
// under the liquidation threshold.
func (e *Engine) IsLiquidatable(ctx context.Context, id uint64) bool {
	a, err := e.Assess(ctx, id)
	if err != nil {
		return false
	}
	return a.Liquidatable
}

// GetPositionLeverage returns notional / margin.
func (e *Engine) GetPositionLeverage(id uint64) (num.Decimal, error) {
	pos, err := e.ledger.Get(id)
	if err != nil {
		return num.DecimalZero(), err
	}
	if pos.Margin.IsZero() {
		return num.MaxDecimal(), nil
	}
	return num.Ratio(pos.Notional.ToDecimal(), pos.Margin.ToDecimal(), healthPrecision)
}
