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

package oracles

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"golang.org/x/exp/slices"
)

// RateSource reports the current floating rate as a fraction in (0, 1].
// A source may fail on any read, it is then treated as absent.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/rate_source_mock.go -package mocks github.com/ratevault/swapcore/core/oracles RateSource
type RateSource interface {
	CurrentRate(ctx context.Context) (num.Decimal, error)
}

// TimeService.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/time_service_mock.go -package mocks github.com/ratevault/swapcore/core/oracles TimeService
type TimeService interface {
	GetTimeNow() time.Time
}

// Broker - the event bus broker, send events here.
type Broker interface {
	Send(event events.Event)
}

// Engine aggregates up to MaxSources rate sources into a single median
// rate, keeps the observation log used for TWAP and guards consumers with
// a staleness check and a circuit breaker.
type Engine struct {
	Config
	log         *logging.Logger
	timeService TimeService
	broker      Broker
	admin       string

	mu       sync.RWMutex
	sources  map[string]RateSource
	names    []string
	updaters map[string]struct{}

	hasRate      bool
	lastRate     num.Decimal
	lastUpdate   time.Time
	tripped      bool
	observations []types.RateObservation
}

// New instantiates a new rate oracle, admin manages sources and updaters
// and is always allowed to update the rate.
func New(log *logging.Logger, conf Config, admin string, timeService TimeService, broker Broker) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:      conf,
		log:         log,
		timeService: timeService,
		broker:      broker,
		admin:       admin,
		sources:     map[string]RateSource{},
		updaters:    map[string]struct{}{},
	}
}

// ReloadConf updates the internal configuration of the oracle.
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

// AddSource registers a named rate source.
func (e *Engine) AddSource(ctx context.Context, caller, name string, src RateSource) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	if name == "" || src == nil {
		return ErrInvalidSource
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sources[name]; ok {
		return ErrSourceExists
	}
	if len(e.sources) >= MaxSources {
		return ErrTooManySources
	}
	e.sources[name] = src
	e.names = append(e.names, name)
	slices.Sort(e.names)
	e.log.Info("rate source added", logging.Source(name), logging.Int("sources", len(e.names)))
	return nil
}

// RemoveSource unregisters a rate source.
func (e *Engine) RemoveSource(ctx context.Context, caller, name string) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sources[name]; !ok {
		return ErrSourceNotFound
	}
	delete(e.sources, name)
	if i, ok := slices.BinarySearch(e.names, name); ok {
		e.names = slices.Delete(e.names, i, i+1)
	}
	e.log.Info("rate source removed", logging.Source(name), logging.Int("sources", len(e.names)))
	return nil
}

// Sources returns the names of the registered sources, sorted.
func (e *Engine) Sources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.names)
}

// AddUpdater allows party to call UpdateRate.
func (e *Engine) AddUpdater(ctx context.Context, caller, party string) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	e.mu.Lock()
	e.updaters[party] = struct{}{}
	e.mu.Unlock()
	return nil
}

// RemoveUpdater revokes the right of party to call UpdateRate.
func (e *Engine) RemoveUpdater(ctx context.Context, caller, party string) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	e.mu.Lock()
	delete(e.updaters, party)
	e.mu.Unlock()
	return nil
}

func (e *Engine) canUpdate(party string) bool {
	if party == e.admin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.updaters[party]
	return ok
}

// IsTripped returns true while the circuit breaker is active.
func (e *Engine) IsTripped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tripped
}

// GetCurrentRate reads every source and returns the median of the valid
// readings. It has no side effect.
func (e *Engine) GetCurrentRate(ctx context.Context) (num.Decimal, error) {
	e.mu.RLock()
	tripped := e.tripped
	e.mu.RUnlock()
	if tripped {
		return num.DecimalZero(), ErrCircuitBreakerActive
	}
	rate, _, err := e.aggregate(ctx)
	return rate, err
}

// aggregate returns the median of the valid readings and how many there were.
func (e *Engine) aggregate(ctx context.Context) (num.Decimal, int, error) {
	e.mu.RLock()
	names := slices.Clone(e.names)
	srcs := make([]RateSource, 0, len(names))
	for _, n := range names {
		srcs = append(srcs, e.sources[n])
	}
	minSources, timeout := e.MinSources, e.SourceTimeout.Get()
	e.mu.RUnlock()

	if minSources < 1 {
		minSources = 1
	}

	readings := make([]num.Decimal, 0, len(srcs))
	for i, src := range srcs {
		rate, err := e.read(ctx, src, timeout)
		if err != nil {
			e.log.Debug("rate source abstained", logging.Source(names[i]), logging.Error(err))
			continue
		}
		if !types.IsValidRate(rate) {
			e.log.Warn("rate source reported an out of range rate",
				logging.Source(names[i]),
				logging.Decimal("rate", rate),
			)
			continue
		}
		readings = append(readings, rate)
	}

	if len(readings) < minSources {
		return num.DecimalZero(), len(readings), &InsufficientSourcesError{Valid: len(readings), Required: minSources}
	}
	return Median(readings), len(readings), nil
}

func (e *Engine) read(ctx context.Context, src RateSource, timeout time.Duration) (num.Decimal, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return src.CurrentRate(ctx)
}

// Median returns the median of rates, the mean of the two middle values
// when the count is even. rates must not be empty.
func Median(rates []num.Decimal) num.Decimal {
	sorted := slices.Clone(rates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(num.DecimalFromInt64(2))
}

// UpdateRate records the current median as the new rate. A move larger
// than MaxDeviationFactor from the last recorded rate trips the breaker
// instead, and the update is rejected.
func (e *Engine) UpdateRate(ctx context.Context, caller string) (num.Decimal, error) {
	defer metrics.NewTimeCounter("oracles", "UpdateRate").EngineTimeCounterAdd()
	if !e.canUpdate(caller) {
		return num.DecimalZero(), ErrNotAuthorised
	}
	if e.IsTripped() {
		metrics.OracleUpdateInc("rejected")
		return num.DecimalZero(), ErrCircuitBreakerActive
	}

	rate, count, err := e.aggregate(ctx)
	if err != nil {
		metrics.OracleUpdateInc("rejected")
		e.log.Warn("could not update rate", logging.Error(err))
		return num.DecimalZero(), err
	}

	now := e.timeService.GetTimeNow()
	e.mu.Lock()
	if e.tripped {
		e.mu.Unlock()
		return num.DecimalZero(), ErrCircuitBreakerActive
	}
	if e.hasRate && exceedsDeviation(e.lastRate, rate, e.MaxDeviationFactor.Get()) {
		e.tripped = true
		last := e.lastRate
		e.mu.Unlock()

		metrics.OracleUpdateInc("tripped")
		metrics.CircuitBreakerSet(true)
		e.log.Error("rate oracle circuit breaker tripped",
			logging.Decimal("last-rate", last),
			logging.Decimal("proposed-rate", rate),
		)
		e.broker.Send(events.NewCircuitBreakerTripped(ctx, last, rate, now))
		return num.DecimalZero(), &CircuitBreakerTrippedError{Last: last, Proposed: rate}
	}
	e.record(rate, now)
	e.mu.Unlock()

	metrics.OracleUpdateInc("ok")
	e.log.Debug("rate updated", logging.Decimal("rate", rate), logging.Int("sources", count))
	e.broker.Send(events.NewRateUpdated(ctx, rate, count, now))
	return rate, nil
}

// ResetCircuitBreaker clears the breaker with a new baseline rate. The
// baseline must itself be within the deviation factor of what the sources
// report right now.
func (e *Engine) ResetCircuitBreaker(ctx context.Context, caller string, baseline num.Decimal) error {
	if caller != e.admin {
		return ErrNotAuthorised
	}
	if !types.IsValidRate(baseline) {
		return ErrInvalidBaseline
	}
	if !e.IsTripped() {
		return ErrCircuitBreakerNotActive
	}

	median, _, err := e.aggregate(ctx)
	if err != nil {
		return err
	}

	now := e.timeService.GetTimeNow()
	e.mu.Lock()
	if exceedsDeviation(baseline, median, e.MaxDeviationFactor.Get()) {
		e.mu.Unlock()
		return &BaselineDeviationError{Baseline: baseline, Median: median}
	}
	e.record(baseline, now)
	e.tripped = false
	e.mu.Unlock()

	metrics.CircuitBreakerSet(false)
	e.log.Info("rate oracle circuit breaker reset", logging.Decimal("baseline", baseline))
	e.broker.Send(events.NewCircuitBreakerReset(ctx, baseline, now))
	return nil
}

// GetFreshRate returns the last recorded rate as long as it is not older
// than MaxStaleness.
func (e *Engine) GetFreshRate(ctx context.Context) (num.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tripped {
		return num.DecimalZero(), ErrCircuitBreakerActive
	}
	if !e.hasRate {
		return num.DecimalZero(), ErrNoRate
	}
	age := e.timeService.GetTimeNow().Sub(e.lastUpdate)
	if limit := e.MaxStaleness.Get(); age > limit {
		return num.DecimalZero(), &StaleRateError{Age: age, MaxStaleness: limit}
	}
	return e.lastRate, nil
}

// LastUpdate returns the last recorded rate and when it was recorded.
func (e *Engine) LastUpdate() (num.Decimal, time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRate, e.lastUpdate, e.hasRate
}

// GetTWAP returns the time weighted average rate over [now-period, now].
func (e *Engine) GetTWAP(ctx context.Context, period time.Duration) (num.Decimal, error) {
	if period <= 0 {
		return num.DecimalZero(), ErrInvalidPeriod
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tripped {
		return num.DecimalZero(), ErrCircuitBreakerActive
	}
	if len(e.observations) == 0 {
		return num.DecimalZero(), ErrNoRate
	}

	now := e.timeService.GetTimeNow()
	start := now.Add(-period)
	if first := e.observations[0].Timestamp; start.Before(first) {
		return num.DecimalZero(), &InsufficientHistoryError{WindowStart: start, FirstObservation: first}
	}

	area := e.cumulativeAt(now).Sub(e.cumulativeAt(start))
	return area.Div(seconds(period)), nil
}

// cumulativeAt interpolates the cumulative rate at t, t must not be
// before the first observation. Must be called with the lock held.
func (e *Engine) cumulativeAt(t time.Time) num.Decimal {
	// first observation strictly after t, the one before it covers t
	i := sort.Search(len(e.observations), func(i int) bool {
		return e.observations[i].Timestamp.After(t)
	})
	base := e.observations[i-1]
	return base.Cumulative.Add(base.Rate.Mul(seconds(t.Sub(base.Timestamp))))
}

// record appends an observation and sets the last rate. Must be called
// with the lock held.
func (e *Engine) record(rate num.Decimal, now time.Time) {
	if n := len(e.observations); n > 0 {
		last := &e.observations[n-1]
		if !now.After(last.Timestamp) {
			// same instant, the rate that lasts is the latest one
			last.Rate = rate
		} else {
			e.observations = append(e.observations, types.RateObservation{
				Timestamp:  now,
				Rate:       rate,
				Cumulative: last.Cumulative.Add(last.Rate.Mul(seconds(now.Sub(last.Timestamp)))),
			})
		}
	} else {
		e.observations = append(e.observations, types.RateObservation{
			Timestamp:  now,
			Rate:       rate,
			Cumulative: num.DecimalZero(),
		})
	}
	e.hasRate = true
	e.lastRate = rate
	e.lastUpdate = now
}

// Observations returns a copy of the observation log.
func (e *Engine) Observations() []types.RateObservation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.observations)
}

func exceedsDeviation(last, proposed, factor num.Decimal) bool {
	if !last.IsPositive() || !proposed.IsPositive() {
		return true
	}
	ratio := num.MaxD(proposed.Div(last), last.Div(proposed))
	return ratio.GreaterThan(factor)
}

func seconds(d time.Duration) num.Decimal {
	return num.NewDecimalFromBigInt(big.NewInt(d.Nanoseconds()), -9)
}
