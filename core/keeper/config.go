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

package keeper

import (
	"errors"
	"fmt"
	"time"

	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/logging"
)

const namedLogger = "keeper"

var ErrInvalidInterval = errors.New("keeper interval must be positive")

// Config represent the configuration of the keeper.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`

	// Identity is the party the keeper calls the engines as, it is paid
	// the keeper rewards.
	Identity string            `long:"identity"`
	Interval encoding.Duration `long:"interval" description:"time between two keeper rounds"`

	UpdateRetries        uint64            `long:"update-retries" description:"retries of a rate update when too few sources answer"`
	RetryInitialInterval encoding.Duration `long:"retry-initial-interval"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:                encoding.LogLevel{Level: logging.InfoLevel},
		Identity:             "keeper",
		Interval:             encoding.Duration{Duration: time.Minute},
		UpdateRetries:        3,
		RetryInitialInterval: encoding.Duration{Duration: 200 * time.Millisecond},
	}
}

// Validate checks the keeper can be run with this configuration.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return errors.New("a keeper identity is required")
	}
	if c.Interval.Get() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval.Get())
	}
	return nil
}
