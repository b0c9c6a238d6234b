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
	"time"

	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/logging"
)

const namedLogger = "oracles"

// MaxSources is the maximum number of rate sources the oracle aggregates.
const MaxSources = 5

// Config represent the configuration of the rate oracle.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	MinSources         int               `long:"min-sources" description:"minimum number of valid readings to produce a rate"`
	MaxDeviationFactor encoding.Decimal  `long:"max-deviation-factor" description:"largest accepted ratio between two consecutive rates"`
	MaxStaleness       encoding.Duration `long:"max-staleness" description:"age after which the last recorded rate is stale"`
	// SourceTimeout bounds a single source read, zero means no bound.
	SourceTimeout encoding.Duration `long:"source-timeout"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:              encoding.LogLevel{Level: logging.InfoLevel},
		MinSources:         1,
		MaxDeviationFactor: encoding.NewDecimal("5"),
		MaxStaleness:       encoding.Duration{Duration: time.Hour},
		SourceTimeout:      encoding.Duration{Duration: 5 * time.Second},
	}
}
