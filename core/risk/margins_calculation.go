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
	"time"

	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
)

// healthPrecision is the number of decimal places health factors and
// leverage are computed with.
const healthPrecision = 18

// Accrual returns the PnL the position accrued since its last settlement
// if the floating rate stayed at floating until until. Time after the
// maturity of the position does not accrue. The result is not rounded.
func Accrual(pos *types.Position, floating num.Decimal, until time.Time) num.Decimal {
	if until.After(pos.Maturity) {
		until = pos.Maturity
	}
	elapsed := until.Sub(pos.LastSettlementTime)
	if elapsed <= 0 {
		return num.DecimalZero()
	}
	return GrossPnL(pos.Direction, pos.Notional, pos.FixedRate, floating, elapsed)
}

// GrossPnL is notional * (floating - fixed) * elapsed / year, positive when
// the holder of direction gains.
func GrossPnL(direction types.Direction, notional *num.Uint, fixed, floating num.Decimal, elapsed time.Duration) num.Decimal {
	pnl := notional.ToDecimal().Mul(floating.Sub(fixed)).Mul(types.YearFraction(elapsed))
	if !direction.ProfitsWhenFloatingRises() {
		return pnl.Neg()
	}
	return pnl
}

// initialMarginRatio is the fraction of notional required to open a
// position of the given tenor.
func (c *Config) initialMarginRatio(days uint32) (num.Decimal, bool) {
	factor, ok := c.maturityFactor(days)
	if !ok {
		return num.DecimalZero(), false
	}
	return c.InitialMarginRatio.Get().Mul(factor), true
}

// maintenance returns notional * ratio + max(0, -unrealised), rounded up.
func maintenance(notional *num.Uint, ratio, unrealised num.Decimal) (*num.Uint, error) {
	req := notional.ToDecimal().Mul(ratio)
	if unrealised.IsNegative() {
		req = req.Add(unrealised.Neg())
	}
	return num.ToUint(req.Ceil())
}

// healthFactor is max(0, margin + unrealised) / maintenance, a position
// with nothing to maintain gets the max decimal.
func healthFactor(margin *num.Uint, unrealised num.Decimal, maintenance *num.Uint) (num.Decimal, error) {
	if maintenance.IsZero() {
		return num.MaxDecimal(), nil
	}
	effective := margin.ToDecimal().Add(unrealised)
	if !effective.IsPositive() {
		return num.DecimalZero(), nil
	}
	return num.Ratio(effective, maintenance.ToDecimal(), healthPrecision)
}
