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
	"fmt"

	"github.com/ratevault/swapcore/core/types"
	liberrors "github.com/ratevault/swapcore/libs/errors"
	"github.com/ratevault/swapcore/libs/num"
)

// CheckInvariants recomputes the aggregates from the positions and
// compares them with the counters. Every violation found is reported.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := zeroTotals()
	errs := liberrors.NewCumulatedErrors()
	for id, pos := range e.positions {
		if !pos.Active {
			if !pos.Margin.IsZero() {
				errs.Add(fmt.Errorf("%w: closed position %d still holds margin %s", ErrInvariantViolated, id, pos.Margin))
			}
			continue
		}
		want.TotalMargin.AddSum(pos.Margin)
		if pos.Direction == types.DirectionPayFixed {
			want.PayFixedNotional.AddSum(pos.Notional)
		} else {
			want.PayFloatingNotional.AddSum(pos.Notional)
		}
		want.ActivePositions++
	}

	check := func(name string, got, expected *num.Uint) {
		if !got.EQ(expected) {
			errs.Add(fmt.Errorf("%w: %s is %s, positions sum to %s", ErrInvariantViolated, name, got, expected))
		}
	}
	check("total margin", e.totals.TotalMargin, want.TotalMargin)
	check("pay fixed notional", e.totals.PayFixedNotional, want.PayFixedNotional)
	check("pay floating notional", e.totals.PayFloatingNotional, want.PayFloatingNotional)
	if e.totals.ActivePositions != want.ActivePositions {
		errs.Add(fmt.Errorf("%w: %d active positions counted, %d found",
			ErrInvariantViolated, e.totals.ActivePositions, want.ActivePositions))
	}
	if n := uint64(e.maturities.Len()); n != want.ActivePositions {
		errs.Add(fmt.Errorf("%w: maturity index holds %d positions, %d active", ErrInvariantViolated, n, want.ActivePositions))
	}
	if custody := e.collateral.CustodyBalance(); custody.LT(e.totals.TotalMargin) {
		errs.Add(fmt.Errorf("%w: custody holds %s, below total margin %s", ErrInvariantViolated, custody, e.totals.TotalMargin))
	}

	if errs.HasAny() {
		return errs
	}
	return nil
}
