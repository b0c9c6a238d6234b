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
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"
)

const namedLogger = "risk"

// Config represent the configuration of the margin engine.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	InitialMarginRatio     encoding.Decimal `long:"initial-margin-ratio" description:"initial margin as a fraction of notional, before the maturity factor"`
	MaintenanceMarginRatio encoding.Decimal `long:"maintenance-margin-ratio"`
	// LiquidationThreshold is the health factor under which a position
	// can be liquidated.
	LiquidationThreshold encoding.Decimal `long:"liquidation-threshold"`
	MaxLeverage          encoding.Decimal `long:"max-leverage"`

	// longer tenors carry more rate risk and need more initial margin
	MaturityFactor30d  encoding.Decimal `long:"maturity-factor-30d"`
	MaturityFactor90d  encoding.Decimal `long:"maturity-factor-90d"`
	MaturityFactor180d encoding.Decimal `long:"maturity-factor-180d"`
	MaturityFactor365d encoding.Decimal `long:"maturity-factor-365d"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:                  encoding.LogLevel{Level: logging.InfoLevel},
		InitialMarginRatio:     encoding.NewDecimal("0.1"),
		MaintenanceMarginRatio: encoding.NewDecimal("0.05"),
		LiquidationThreshold:   encoding.NewDecimal("1"),
		MaxLeverage:            encoding.NewDecimal("10"),
		MaturityFactor30d:      encoding.NewDecimal("1"),
		MaturityFactor90d:      encoding.NewDecimal("1.25"),
		MaturityFactor180d:     encoding.NewDecimal("1.5"),
		MaturityFactor365d:     encoding.NewDecimal("2"),
	}
}

// maturityFactor returns false for a tenor positions cannot be opened with.
func (c *Config) maturityFactor(days uint32) (num.Decimal, bool) {
	switch days {
	case 30:
		return c.MaturityFactor30d.Get(), true
	case 90:
		return c.MaturityFactor90d.Get(), true
	case 180:
		return c.MaturityFactor180d.Get(), true
	case 365:
		return c.MaturityFactor365d.Get(), true
	}
	return num.DecimalZero(), false
}
