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

package events

import (
	"context"
	"time"

	"github.com/ratevault/swapcore/libs/num"
)

// RateUpdated is emitted each time the oracle records a new rate.
type RateUpdated struct {
	*Base
	rate    num.Decimal
	sources int
	ts      time.Time
}

func NewRateUpdated(ctx context.Context, rate num.Decimal, sources int, ts time.Time) *RateUpdated {
	return &RateUpdated{
		Base:    newBase(ctx, RateUpdatedEvent),
		rate:    rate,
		sources: sources,
		ts:      ts,
	}
}

func (r RateUpdated) Rate() num.Decimal { return r.rate }
func (r RateUpdated) Sources() int { return r.sources }
func (r RateUpdated) Timestamp() time.Time { return r.ts }

// CircuitBreaker is emitted when the oracle breaker trips or is reset.
type CircuitBreaker struct {
	*Base
	tripped  bool
	last     num.Decimal
	proposed num.Decimal
	ts       time.Time
}

func NewCircuitBreakerTripped(ctx context.Context, last, proposed num.Decimal, ts time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		Base:     newBase(ctx, CircuitBreakerEvent),
		tripped:  true,
		last:     last,
		proposed: proposed,
		ts:       ts,
	}
}

func NewCircuitBreakerReset(ctx context.Context, baseline num.Decimal, ts time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		Base:     newBase(ctx, CircuitBreakerEvent),
		last:     baseline,
		proposed: baseline,
		ts:       ts,
	}
}

func (c CircuitBreaker) Tripped() bool { return c.tripped }
func (c CircuitBreaker) Last() num.Decimal { return c.last }
func (c CircuitBreaker) Proposed() num.Decimal { return c.proposed }
func (c CircuitBreaker) Timestamp() time.Time { return c.ts }
