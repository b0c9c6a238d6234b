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
	"errors"
	"fmt"
	"time"

	"github.com/ratevault/swapcore/libs/num"
)

var (
	ErrNotAuthorised           = errors.New("caller is not authorised")
	ErrTooManySources          = errors.New("too many rate sources")
	ErrSourceExists            = errors.New("rate source already exists")
	ErrSourceNotFound          = errors.New("rate source not found")
	ErrInvalidSource           = errors.New("invalid rate source")
	ErrInsufficientSources     = errors.New("insufficient valid rate sources")
	ErrCircuitBreakerActive    = errors.New("rate oracle circuit breaker is active")
	ErrCircuitBreakerNotActive = errors.New("rate oracle circuit breaker is not active")
	ErrStaleRate               = errors.New("rate is stale")
	ErrNoRate                  = errors.New("no rate recorded yet")
	ErrInvalidPeriod           = errors.New("invalid TWAP period")
	ErrInsufficientHistory     = errors.New("insufficient rate history")
	ErrInvalidBaseline         = errors.New("invalid baseline rate")
)

// InsufficientSourcesError is returned when fewer sources than required
// reported a usable rate.
type InsufficientSourcesError struct {
	Valid    int
	Required int
}

func (e *InsufficientSourcesError) Error() string {
	return fmt.Sprintf("%s: %d valid, %d required", ErrInsufficientSources, e.Valid, e.Required)
}

func (e *InsufficientSourcesError) Unwrap() error { return ErrInsufficientSources }

// StaleRateError carries the age of the last recorded rate.
type StaleRateError struct {
	Age          time.Duration
	MaxStaleness time.Duration
}

func (e *StaleRateError) Error() string {
	return fmt.Sprintf("%s: last update %s ago, max %s", ErrStaleRate, e.Age, e.MaxStaleness)
}

func (e *StaleRateError) Unwrap() error { return ErrStaleRate }

// CircuitBreakerTrippedError is returned by the update which tripped the breaker.
type CircuitBreakerTrippedError struct {
	Last     num.Decimal
	Proposed num.Decimal
}

func (e *CircuitBreakerTrippedError) Error() string {
	return fmt.Sprintf("%s: rate moved from %s to %s", ErrCircuitBreakerActive, e.Last, e.Proposed)
}

func (e *CircuitBreakerTrippedError) Unwrap() error { return ErrCircuitBreakerActive }

// InsufficientHistoryError is returned when a TWAP window starts before
// the first observation.
type InsufficientHistoryError struct {
	WindowStart      time.Time
	FirstObservation time.Time
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("%s: window starts at %s, first observation at %s",
		ErrInsufficientHistory, e.WindowStart.Format(time.RFC3339), e.FirstObservation.Format(time.RFC3339))
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// BaselineDeviationError is returned when a breaker reset baseline is too
// far from what the sources currently report.
type BaselineDeviationError struct {
	Baseline num.Decimal
	Median   num.Decimal
}

func (e *BaselineDeviationError) Error() string {
	return fmt.Sprintf("%s: baseline %s deviates too much from sources median %s", ErrInvalidBaseline, e.Baseline, e.Median)
}

func (e *BaselineDeviationError) Unwrap() error { return ErrInvalidBaseline }
