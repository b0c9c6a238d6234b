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

package config

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ratevault/swapcore/core/broker"
	"github.com/ratevault/swapcore/core/collateral"
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/core/execution/liquidation"
	"github.com/ratevault/swapcore/core/keeper"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/oracles"
	"github.com/ratevault/swapcore/core/positions"
	"github.com/ratevault/swapcore/core/risk"
	"github.com/ratevault/swapcore/core/settlement"
	"github.com/ratevault/swapcore/core/snapshot"
	vgfs "github.com/ratevault/swapcore/libs/fs"
	"github.com/ratevault/swapcore/logging"

	"github.com/BurntSushi/toml"
)

// Kinds of rate source a configuration can declare.
const (
	SourceStatic = "static"
	SourceHTTP   = "http"
	SourceStream = "stream"
)

var ErrInvalidSource = errors.New("invalid rate source configuration")

// SourceConfig declares one rate source of the oracle.
type SourceConfig struct {
	Name string
	Kind string
	// Rate is the value reported by a static source.
	Rate encoding.Decimal
	// URL of an http or stream source.
	URL string
	// Field holds the rate in the JSON document of an http source.
	Field string
	// MaxAge after which a stream source abstains.
	MaxAge encoding.Duration
}

// Config ties together all other application configuration types.
type Config struct {
	Logging     logging.Config     `group:"Logging" namespace:"logging"`
	Broker      broker.Config      `group:"Broker" namespace:"broker"`
	Collateral  collateral.Config  `group:"Collateral" namespace:"collateral"`
	Oracles     oracles.Config     `group:"Oracles" namespace:"oracles"`
	Positions   positions.Config   `group:"Positions" namespace:"positions"`
	Risk        risk.Config        `group:"Risk" namespace:"risk"`
	Settlement  settlement.Config  `group:"Settlement" namespace:"settlement"`
	Liquidation liquidation.Config `group:"Liquidation" namespace:"liquidation"`
	Keeper      keeper.Config      `group:"Keeper" namespace:"keeper"`
	Snapshot    snapshot.Config    `group:"Snapshot" namespace:"snapshot"`
	Metrics     metrics.Config     `group:"Metrics" namespace:"metrics"`

	Admin   string `long:"admin" description:"party managing rate sources and ledger grants"`
	Sources []SourceConfig
}

// NewDefaultConfig returns a set of default configs for all packages, as
// specified at the per package config level.
func NewDefaultConfig() Config {
	return Config{
		Logging:     logging.NewDefaultConfig(),
		Broker:      broker.NewDefaultConfig(),
		Collateral:  collateral.NewDefaultConfig(),
		Oracles:     oracles.NewDefaultConfig(),
		Positions:   positions.NewDefaultConfig(),
		Risk:        risk.NewDefaultConfig(),
		Settlement:  settlement.NewDefaultConfig(),
		Liquidation: liquidation.NewDefaultConfig(),
		Keeper:      keeper.NewDefaultConfig(),
		Snapshot:    snapshot.NewDefaultConfig(),
		Metrics:     metrics.NewDefaultConfig(),
		Admin:       "admin",
	}
}

// Read loads the toml file at path over the default configuration.
func Read(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("could not read configuration %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as toml, replacing the file atomically.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("could not encode configuration: %w", err)
	}
	return vgfs.WriteFile(path, buf.Bytes())
}

// Validate checks the parts of the configuration engines cannot check
// on their own.
func (c *Config) Validate() error {
	if c.Admin == "" {
		return errors.New("an admin party is required")
	}
	if len(c.Sources) > oracles.MaxSources {
		return fmt.Errorf("%w: %d sources, at most %d", ErrInvalidSource, len(c.Sources), oracles.MaxSources)
	}
	names := map[string]struct{}{}
	for _, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("%w: source without a name", ErrInvalidSource)
		}
		if _, ok := names[src.Name]; ok {
			return fmt.Errorf("%w: duplicate source %s", ErrInvalidSource, src.Name)
		}
		names[src.Name] = struct{}{}
		switch src.Kind {
		case SourceStatic:
		case SourceHTTP, SourceStream:
			if src.URL == "" {
				return fmt.Errorf("%w: %s source %s needs a url", ErrInvalidSource, src.Kind, src.Name)
			}
		default:
			return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidSource, src.Kind, src.Name)
		}
	}
	if err := c.Keeper.Validate(); err != nil {
		return err
	}
	return c.Snapshot.Validate()
}
