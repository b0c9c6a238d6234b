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

package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/risk"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"
)

// Ledger is the part of the position ledger settlement writes to.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/ledger_mock.go -package mocks github.com/ratevault/swapcore/core/settlement Ledger
type Ledger interface {
	Get(id uint64) (*types.Position, error)
	ApplySettlement(ctx context.Context, caller string, upd types.SettlementUpdate) (*num.Uint, error)
	ClosePosition(ctx context.Context, caller string, id uint64, finalDelta *num.Int) (*num.Uint, error)
}

// Oracle provides the floating rate.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/oracle_mock.go -package mocks github.com/ratevault/swapcore/core/settlement Oracle
type Oracle interface {
	GetCurrentRate(ctx context.Context) (num.Decimal, error)
}

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Broker - the event bus broker, send events here.
type Broker interface {
	Send(event events.Event)
}

// Status is the settlement lifecycle of a position.
type Status int

const (
	// StatusOpen positions were never settled.
	StatusOpen Status = iota
	StatusSettled
	// StatusMatured positions can only be closed.
	StatusMatured
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSettled:
		return "settled"
	case StatusMatured:
		return "matured"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// State of a position as seen by settlement.
type State struct {
	Status         Status
	LastSettlement time.Time
	// NextSettlement is the earliest time Settle can succeed, zero once
	// the position matured.
	NextSettlement time.Time
	Maturity       time.Time
}

// Result is the outcome of one settlement.
type Result struct {
	ID           uint64
	FloatingRate num.Decimal
	From, To     time.Time
	Gross        *num.Int
	Fee          *num.Uint
	// KeeperReward is what the caller was actually paid.
	KeeperReward *num.Uint
	Net          *num.Int
}

// BatchResult collects per position outcomes of a batch.
type BatchResult struct {
	Settled           []*Result
	Failures          map[uint64]error
	TotalKeeperReward *num.Uint
}

func (b *BatchResult) Failed() int {
	return len(b.Failures)
}

// CloseResult is the outcome of closing a matured position.
type CloseResult struct {
	ID uint64
	// Settlement is nil when the position was already settled up to maturity.
	Settlement *Result
	CloseFee   *num.Uint
	Payout     *num.Uint
}

// Engine settles the periodic fixed against floating exchange of each
// position and closes matured ones.
type Engine struct {
	log *logging.Logger

	cfgMu sync.RWMutex
	Config

	// identity is the party the engine acts as on the ledger.
	identity    string
	ledger      Ledger
	oracle      Oracle
	timeService TimeService
	broker      Broker
}

// New instantiates a new instance of the settlement engine.
func New(log *logging.Logger, conf Config, identity string, ledger Ledger, oracle Oracle, timeService TimeService, broker Broker) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())
	if conf.SettlementInterval.Get() < MinSettlementInterval {
		log.Warn("settlement interval below minimum, using the minimum",
			logging.Duration("configured", conf.SettlementInterval.Get()),
			logging.Duration("minimum", MinSettlementInterval),
		)
	}

	return &Engine{
		log:         log,
		Config:      conf,
		identity:    identity,
		ledger:      ledger,
		oracle:      oracle,
		timeService: timeService,
		broker:      broker,
	}
}

// ReloadConf update the internal configuration of the settlement engine.
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

// State returns the settlement state of a position.
func (e *Engine) State(id uint64) (State, error) {
	pos, err := e.ledger.Get(id)
	if err != nil {
		return State{}, err
	}
	cfg := e.config()
	st := State{
		LastSettlement: pos.LastSettlementTime,
		Maturity:       pos.Maturity,
	}
	switch {
	case !pos.Active:
		st.Status = StatusClosed
	case pos.IsMatured(e.timeService.GetTimeNow()):
		st.Status = StatusMatured
	case pos.LastSettlementTime.After(pos.StartTime):
		st.Status = StatusSettled
	default:
		st.Status = StatusOpen
	}
	if st.Status == StatusOpen || st.Status == StatusSettled {
		st.NextSettlement = pos.LastSettlementTime.Add(cfg.interval())
	}
	return st, nil
}

// IsDue is true when Settle on the position would pass its timing checks.
func (e *Engine) IsDue(pos *types.Position) bool {
	if !pos.Active || !pos.LastSettlementTime.Before(pos.Maturity) {
		return false
	}
	cfg := e.config()
	return !e.timeService.GetTimeNow().Before(pos.LastSettlementTime.Add(cfg.interval()))
}

// Settle settles a position from its last settlement up to now, capped at
// maturity. Caller is paid the keeper share of the fee.
func (e *Engine) Settle(ctx context.Context, caller string, id uint64) (*Result, error) {
	pos, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, fmt.Errorf("%w: %d", ErrPositionClosed, id)
	}
	if !pos.LastSettlementTime.Before(pos.Maturity) {
		return nil, fmt.Errorf("%w: %d", ErrPositionMatured, id)
	}
	cfg := e.config()
	now := e.timeService.GetTimeNow()
	if earliest := pos.LastSettlementTime.Add(cfg.interval()); now.Before(earliest) {
		return nil, &SettlementTooSoonError{ID: id, Earliest: earliest}
	}
	rate, err := e.oracle.GetCurrentRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("no floating rate to settle position %d: %w", id, err)
	}
	return e.settle(ctx, cfg, caller, pos, rate, now)
}

// settle applies the period [last settlement, min(until, maturity)] at rate.
func (e *Engine) settle(ctx context.Context, cfg Config, caller string, pos *types.Position, rate num.Decimal, until time.Time) (*Result, error) {
	defer metrics.NewTimeCounter("settlement", "Settle").EngineTimeCounterAdd()
	if until.After(pos.Maturity) {
		until = pos.Maturity
	}
	elapsed := until.Sub(pos.LastSettlementTime)
	gross, err := num.ToInt(risk.GrossPnL(pos.Direction, pos.Notional, pos.FixedRate, rate, elapsed))
	if err != nil {
		return nil, err
	}

	fee, keeperFee := num.UintZero(), num.UintZero()
	net := gross.Clone()
	if gross.IsPositive() {
		if fee, err = num.MulFrac(gross.Abs(), cfg.SettlementFee.Get()); err != nil {
			return nil, err
		}
		if keeperFee, err = num.MulFrac(fee, cfg.KeeperShare.Get()); err != nil {
			return nil, err
		}
		net.Sub(num.IntFromUint(fee, true))
	}

	paid, err := e.ledger.ApplySettlement(ctx, e.identity, types.SettlementUpdate{
		ID:        pos.ID,
		Version:   pos.Version,
		NetPnL:    net,
		Fee:       fee,
		Keeper:    caller,
		KeeperFee: keeperFee,
		SettledAt: until,
	})
	if err != nil {
		metrics.SettlementInc("failed")
		return nil, err
	}
	metrics.SettlementInc("ok")

	res := &Result{
		ID:           pos.ID,
		FloatingRate: rate,
		From:         pos.LastSettlementTime,
		To:           until,
		Gross:        gross,
		Fee:          fee,
		KeeperReward: paid,
		Net:          net,
	}
	e.log.Debug("position settled",
		logging.PositionID(pos.ID),
		logging.Decimal("floating-rate", rate),
		logging.BigInt("gross", gross),
		logging.BigInt("net", net),
		logging.Party(caller),
		logging.BigUint("keeper-reward", paid),
	)
	e.broker.Send(events.NewPositionSettled(ctx, pos.ID, caller, rate, gross, net, fee, paid, res.From, res.To))
	return res, nil
}

// SettleBatch settles each position independently. A failure is recorded
// against its id and does not stop the rest of the batch.
func (e *Engine) SettleBatch(ctx context.Context, caller string, ids []uint64) *BatchResult {
	start := time.Now()
	defer func() { metrics.ObserveSettlementBatch(time.Since(start)) }()

	out := &BatchResult{
		Settled:           make([]*Result, 0, len(ids)),
		Failures:          map[uint64]error{},
		TotalKeeperReward: num.UintZero(),
	}
	for _, id := range ids {
		res, err := e.Settle(ctx, caller, id)
		if err != nil {
			out.Failures[id] = err
			continue
		}
		out.Settled = append(out.Settled, res)
		out.TotalKeeperReward.AddSum(res.KeeperReward)
	}
	if len(out.Failures) > 0 {
		e.log.Info("settlement batch had failures",
			logging.Int("settled", len(out.Settled)),
			logging.Int("failed", len(out.Failures)),
		)
	}
	return out
}

// CloseMaturedPosition runs the final settlement up to maturity, ignoring
// the interval, then closes the position net of the close fee.
func (e *Engine) CloseMaturedPosition(ctx context.Context, caller string, id uint64) (*CloseResult, error) {
	pos, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, fmt.Errorf("%w: %d", ErrPositionClosed, id)
	}
	now := e.timeService.GetTimeNow()
	if !pos.IsMatured(now) {
		return nil, &PositionNotMaturedError{ID: id, Maturity: pos.Maturity}
	}

	cfg := e.config()
	out := &CloseResult{ID: id}
	if pos.LastSettlementTime.Before(pos.Maturity) {
		rate, err := e.oracle.GetCurrentRate(ctx)
		if err != nil {
			return nil, fmt.Errorf("no floating rate for final settlement of position %d: %w", id, err)
		}
		if out.Settlement, err = e.settle(ctx, cfg, caller, pos, rate, now); err != nil {
			return nil, err
		}
	}

	if out.CloseFee, err = num.MulFrac(pos.Notional, cfg.CloseFee.Get()); err != nil {
		return nil, err
	}
	if out.Payout, err = e.ledger.ClosePosition(ctx, e.identity, id, num.IntFromUint(out.CloseFee, false)); err != nil {
		return nil, err
	}
	e.log.Info("matured position closed",
		logging.PositionID(id),
		logging.Party(caller),
		logging.BigUint("close-fee", out.CloseFee),
		logging.BigUint("payout", out.Payout),
	)
	return out, nil
}
