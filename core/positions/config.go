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
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/logging"
)

const namedLogger = "positions"

// Config represent the configuration of the position ledger.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	// InitialMarginRatio is the minimum margin, as a fraction of notional,
	// a position can be opened with.
	InitialMarginRatio encoding.Decimal `long:"initial-margin-ratio"`
	// MinMarginRatio is the floor an owner cannot withdraw below.
	MinMarginRatio encoding.Decimal `long:"min-margin-ratio"`
	TradingFee     encoding.Decimal `long:"trading-fee" description:"fee charged on open, as a fraction of notional"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:              encoding.LogLevel{Level: logging.InfoLevel},
		InitialMarginRatio: encoding.NewDecimal("0.1"),
		MinMarginRatio:     encoding.NewDecimal("0.05"),
		TradingFee:         encoding.NewDecimal("0.001"),
	}
}
