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

package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/execution/liquidation"
	"github.com/ratevault/swapcore/core/oracles"
	"github.com/ratevault/swapcore/core/settlement"
	"github.com/ratevault/swapcore/core/types"
	liberrors "github.com/ratevault/swapcore/libs/errors"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/cenkalti/backoff"
	"go.uber.org/atomic"
)

// Oracle is refreshed at the start of every round.
type Oracle interface {
	UpdateRate(ctx context.Context, caller string) (num.Decimal, error)
}

// Ledger lists the positions a round works on.
type Ledger interface {
	Active() []*types.Position
	MaturedBefore(t time.Time) []uint64
}

// Risk tells which positions can be liquidated.
type Risk interface {
	IsLiquidatable(ctx context.Context, id uint64) bool
}

// Settlement settles and closes positions.
type Settlement interface {
	IsDue(pos *types.Position) bool
	SettleBatch(ctx context.Context, caller string, ids []uint64) *settlement.BatchResult
	CloseMaturedPosition(ctx context.Context, caller string, id uint64) (*settlement.CloseResult, error)
}

// Liquidation liquidates unhealthy positions.
type Liquidation interface {
	BatchLiquidate(ctx context.Context, caller string, ids []uint64) *liquidation.BatchResult
}

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Broker - the event bus broker, send events here.
type Broker interface {
	Send(event events.Event)
}

// RoundResult reports what a single round did.
type RoundResult struct {
	Rate       num.Decimal
	Settled    int
	Closed     int
	Liquidated int
	// Err collects every failure of the round, nil when there was none.
	Err error
}

// Stats are the totals over every round the keeper ran.
type Stats struct {
	Rounds     uint64
	Settled    uint64
	Closed     uint64
	Liquidated uint64
	Failures   uint64
	LastRound  time.Time
}

// Keeper drives the engines: it refreshes the rate, settles due
// positions, closes matured ones and liquidates unhealthy ones.
type Keeper struct {
	log *logging.Logger

	cfgMu sync.RWMutex
	Config

	oracle      Oracle
	ledger      Ledger
	risk        Risk
	settlement  Settlement
	liquidation Liquidation
	timeService TimeService
	broker      Broker

	rounds     *atomic.Uint64
	settled    *atomic.Uint64
	closed     *atomic.Uint64
	liquidated *atomic.Uint64
	failures   *atomic.Uint64
	lastRound  *atomic.Time
}

// New instantiates a new keeper.
func New(
	log *logging.Logger,
	conf Config,
	oracle Oracle,
	ledger Ledger,
	riskEngine Risk,
	settlementEngine Settlement,
	liquidationEngine Liquidation,
	timeService TimeService,
	broker Broker,
) *Keeper {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Keeper{
		log:         log,
		Config:      conf,
		oracle:      oracle,
		ledger:      ledger,
		risk:        riskEngine,
		settlement:  settlementEngine,
		liquidation: liquidationEngine,
		timeService: timeService,
		broker:      broker,
		rounds:      atomic.NewUint64(0),
		settled:     atomic.NewUint64(0),
		closed:      atomic.NewUint64(0),
		liquidated:  atomic.NewUint64(0),
		failures:    atomic.NewUint64(0),
		lastRound:   atomic.NewTime(time.Time{}),
	}
}

// ReloadConf updates the internal configuration of the keeper, a new
// interval applies from the next tick.
func (k *Keeper) ReloadConf(cfg Config) {
	k.log.Info("reloading configuration")
	if k.log.GetLevel() != cfg.Level.Get() {
		k.log.Info("updating log level",
			logging.String("old", k.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		k.log.SetLevel(cfg.Level.Get())
	}

	k.cfgMu.Lock()
	k.Config = cfg
	k.cfgMu.Unlock()
}

func (k *Keeper) config() Config {
	k.cfgMu.RLock()
	defer k.cfgMu.RUnlock()
	return k.Config
}

// Stats can be read while the keeper runs.
func (k *Keeper) Stats() Stats {
	return Stats{
		Rounds:     k.rounds.Load(),
		Settled:    k.settled.Load(),
		Closed:     k.closed.Load(),
		Liquidated: k.liquidated.Load(),
		Failures:   k.failures.Load(),
		LastRound:  k.lastRound.Load(),
	}
}

// Run executes a round every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	cfg := k.config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	interval := cfg.Interval.Get()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.log.Info("keeper started",
		logging.Party(cfg.Identity),
		logging.Duration("interval", interval),
	)
	for {
		select {
		case <-ctx.Done():
			k.log.Info("keeper stopped", logging.Uint64("rounds", k.rounds.Load()))
			return ctx.Err()
		case <-ticker.C:
			k.Round(ctx)
			if next := k.config().Interval.Duration; next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Round runs one pass over the positions. Failures are collected and
// never stop the rest of the round.
func (k *Keeper) Round(ctx context.Context) *RoundResult {
	cfg := k.config()
	errs := liberrors.NewCumulatedErrors()
	out := &RoundResult{}

	rate, err := k.updateRate(ctx, cfg)
	if err != nil {
		errs.Add(fmt.Errorf("rate update: %w", err))
	}
	out.Rate = rate

	now := k.timeService.GetTimeNow()
	due := []uint64{}
	for _, pos := range k.ledger.Active() {
		// matured positions get their final settlement when closed
		if !pos.IsMatured(now) && k.settlement.IsDue(pos) {
			due = append(due, pos.ID)
		}
	}
	if len(due) > 0 {
		res := k.settlement.SettleBatch(ctx, cfg.Identity, due)
		out.Settled = len(res.Settled)
		for id, err := range res.Failures {
			errs.Add(fmt.Errorf("settle %d: %w", id, err))
		}
	}

	for _, id := range k.ledger.MaturedBefore(now) {
		if _, err := k.settlement.CloseMaturedPosition(ctx, cfg.Identity, id); err != nil {
			errs.Add(fmt.Errorf("close %d: %w", id, err))
			continue
		}
		out.Closed++
	}

	unhealthy := []uint64{}
	for _, pos := range k.ledger.Active() {
		if k.risk.IsLiquidatable(ctx, pos.ID) {
			unhealthy = append(unhealthy, pos.ID)
		}
	}
	if len(unhealthy) > 0 {
		res := k.liquidation.BatchLiquidate(ctx, cfg.Identity, unhealthy)
		out.Liquidated = res.Count()
		for id, err := range res.Skipped {
			errs.Add(fmt.Errorf("liquidate %d: %w", id, err))
		}
	}

	failures := 0
	if errs.HasAny() {
		out.Err = errs
		failures = len(errs.Unwrap())
	}
	k.rounds.Inc()
	k.settled.Add(uint64(out.Settled))
	k.closed.Add(uint64(out.Closed))
	k.liquidated.Add(uint64(out.Liquidated))
	k.failures.Add(uint64(failures))
	k.lastRound.Store(now)

	if failures > 0 {
		k.log.Warn("keeper round had failures",
			logging.Int("failures", failures),
			logging.Error(out.Err),
		)
	} else if k.log.IsDebug() {
		k.log.Debug("keeper round done",
			logging.Int("settled", out.Settled),
			logging.Int("closed", out.Closed),
			logging.Int("liquidated", out.Liquidated),
		)
	}
	k.broker.Send(events.NewKeeperRound(ctx, cfg.Identity, out.Settled, out.Closed, out.Liquidated, failures))
	return out
}

// updateRate retries when too few sources answered, any other failure
// such as a tripped breaker is final.
func (k *Keeper) updateRate(ctx context.Context, cfg Config) (num.Decimal, error) {
	var rate num.Decimal
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitialInterval.Get()
	err := backoff.Retry(
		func() error {
			r, err := k.oracle.UpdateRate(ctx, cfg.Identity)
			if err != nil {
				if errors.Is(err, oracles.ErrInsufficientSources) {
					return err
				}
				return backoff.Permanent(err)
			}
			rate = r
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(bo, cfg.UpdateRetries), ctx),
	)
	return rate, err
}
