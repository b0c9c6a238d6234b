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

package liquidation

import (
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/logging"
)

const namedLogger = "liquidation"

// Config represent the configuration of the liquidation engine.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	MaxLiquidationRatio encoding.Decimal `long:"max-liquidation-ratio" description:"largest fraction of the margin one liquidation can seize"`
	ProtocolFee         encoding.Decimal `long:"protocol-fee"`
	// LiquidationBonus is never applied above ProtocolFee.
	LiquidationBonus encoding.Decimal `long:"liquidation-bonus"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:               encoding.LogLevel{Level: logging.InfoLevel},
		MaxLiquidationRatio: encoding.NewDecimal("0.5"),
		ProtocolFee:         encoding.NewDecimal("0.02"),
		LiquidationBonus:    encoding.NewDecimal("0.05"),
	}
}
