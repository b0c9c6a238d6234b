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

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ratevault/swapcore/core/broker"
	"github.com/ratevault/swapcore/core/chaintime"
	"github.com/ratevault/swapcore/core/collateral"
	"github.com/ratevault/swapcore/core/config"
	"github.com/ratevault/swapcore/core/execution/liquidation"
	"github.com/ratevault/swapcore/core/keeper"
	"github.com/ratevault/swapcore/core/oracles"
	"github.com/ratevault/swapcore/core/oracles/adaptors"
	"github.com/ratevault/swapcore/core/ownership"
	"github.com/ratevault/swapcore/core/positions"
	"github.com/ratevault/swapcore/core/risk"
	"github.com/ratevault/swapcore/core/settlement"
	"github.com/ratevault/swapcore/core/snapshot"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/logging"
)

const (
	settlementIdentity  = "settlement"
	liquidationIdentity = "liquidation"
)

// node holds every engine of a running instance, wired together.
type node struct {
	log *logging.Logger

	timeService *chaintime.Svc
	broker      *broker.Broker
	collateral  *collateral.Engine
	ownership   *ownership.Registry
	ledger      *positions.Engine
	oracle      *oracles.Engine
	risk        *risk.Engine
	settlement  *settlement.Engine
	liquidation *liquidation.Engine
	keeper      *keeper.Keeper
	snapshot    *snapshot.Engine

	// streams must be run for their sources to report a rate.
	streams []*adaptors.StreamSource
	statics map[string]*adaptors.StaticSource
}

func newNode(ctx context.Context, log *logging.Logger, cfg config.Config, timeService *chaintime.Svc) (*node, error) {
	n := &node{
		log:         log,
		timeService: timeService,
		statics:     map[string]*adaptors.StaticSource{},
	}

	n.broker = broker.New(log, cfg.Broker)
	n.collateral = collateral.New(log, cfg.Collateral, n.broker)
	n.ownership = ownership.New(log, n.broker)
	n.ledger = positions.New(log, cfg.Positions, cfg.Admin, n.collateral, n.ownership, timeService, n.broker)
	n.oracle = oracles.New(log, cfg.Oracles, cfg.Admin, timeService, n.broker)
	n.risk = risk.New(log, cfg.Risk, n.ledger, n.oracle, timeService)
	n.settlement = settlement.New(log, cfg.Settlement, settlementIdentity, n.ledger, n.oracle, timeService, n.broker)
	n.liquidation = liquidation.New(log, cfg.Liquidation, liquidationIdentity, n.ledger, n.risk, n.broker)
	n.keeper = keeper.New(log, cfg.Keeper, n.oracle, n.ledger, n.risk, n.settlement, n.liquidation, timeService, n.broker)

	if err := n.ledger.Grant(ctx, cfg.Admin, settlementIdentity, types.OpUpdatePnL, types.OpClosePosition); err != nil {
		return nil, err
	}
	if err := n.ledger.Grant(ctx, cfg.Admin, liquidationIdentity, types.OpReduceMargin, types.OpClosePosition); err != nil {
		return nil, err
	}
	if err := n.oracle.AddUpdater(ctx, cfg.Admin, cfg.Keeper.Identity); err != nil {
		return nil, err
	}
	if err := n.addSources(ctx, cfg); err != nil {
		return nil, err
	}

	snap, err := snapshot.New(log, cfg.Snapshot, timeService)
	if err != nil {
		return nil, err
	}
	if err := snap.AddProviders(n.collateral, n.ownership, n.ledger, n.oracle); err != nil {
		snap.Close()
		return nil, err
	}
	n.snapshot = snap
	return n, nil
}

func (n *node) addSources(ctx context.Context, cfg config.Config) error {
	client := &http.Client{Timeout: cfg.Oracles.SourceTimeout.Get()}
	for _, sc := range cfg.Sources {
		var src oracles.RateSource
		switch sc.Kind {
		case config.SourceStatic:
			static := adaptors.NewStaticSource(sc.Rate.Get())
			n.statics[sc.Name] = static
			src = static
		case config.SourceHTTP:
			src = adaptors.NewHTTPSource(client, sc.URL, sc.Field, nil)
		case config.SourceStream:
			stream := adaptors.NewStreamSource(n.log, sc.URL, sc.MaxAge.Get(), n.timeService.GetTimeNow)
			n.streams = append(n.streams, stream)
			src = stream
		default:
			return fmt.Errorf("%w: unknown kind %q", config.ErrInvalidSource, sc.Kind)
		}
		if err := n.oracle.AddSource(ctx, cfg.Admin, sc.Name, src); err != nil {
			return fmt.Errorf("could not add rate source %s: %w", sc.Name, err)
		}
	}
	return nil
}

// reload hands a new configuration to every engine.
func (n *node) reload(cfg config.Config) {
	n.collateral.ReloadConf(cfg.Collateral)
	n.ledger.ReloadConf(cfg.Positions)
	n.oracle.ReloadConf(cfg.Oracles)
	n.risk.ReloadConf(cfg.Risk)
	n.settlement.ReloadConf(cfg.Settlement)
	n.liquidation.ReloadConf(cfg.Liquidation)
	n.keeper.ReloadConf(cfg.Keeper)
	n.snapshot.ReloadConf(cfg.Snapshot)
}

func (n *node) Close() error {
	return n.snapshot.Close()
}
