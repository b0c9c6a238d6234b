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
	"time"

	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/logging"
)

const (
	namedLogger = "settlement"

	// MinSettlementInterval is the shortest interval a configuration can set.
	MinSettlementInterval = time.Hour
)

// Config represent the configuration of the settlement engine.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	SettlementInterval encoding.Duration `long:"settlement-interval" description:"minimum time between two settlements of a position"`
	// SettlementFee is charged on settlement gains only.
	SettlementFee encoding.Decimal `long:"settlement-fee"`
	// KeeperShare is the part of the settlement fee paid to the caller.
	KeeperShare encoding.Decimal `long:"keeper-share"`
	CloseFee    encoding.Decimal `long:"close-fee" description:"fraction of notional charged when a matured position is closed"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:              encoding.LogLevel{Level: logging.InfoLevel},
		SettlementInterval: encoding.Duration{Duration: time.Hour},
		SettlementFee:      encoding.NewDecimal("0.01"),
		KeeperShare:        encoding.NewDecimal("0.1"),
		CloseFee:           encoding.NewDecimal("0.0005"),
	}
}

// interval returns the configured settlement interval, never below the minimum.
func (c *Config) interval() time.Duration {
	if d := c.SettlementInterval.Get(); d > MinSettlementInterval {
		return d
	}
	return MinSettlementInterval
}
