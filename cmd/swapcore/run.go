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
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ratevault/swapcore/core/chaintime"
	"github.com/ratevault/swapcore/core/config"
	"github.com/ratevault/swapcore/core/metrics"
	"github.com/ratevault/swapcore/core/snapshot"
	"github.com/ratevault/swapcore/logging"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

type runCmd struct {
	Config  string `long:"config" short:"c" default:"swapcore.toml" description:"path of the configuration file"`
	Restore bool   `long:"restore" description:"restore the latest snapshot before starting"`
}

func (opts *runCmd) Execute(_ []string) error {
	cfg, err := config.Read(opts.Config)
	if err != nil {
		return err
	}
	log := logging.NewLoggerFromConfig(cfg.Logging)
	defer log.AtExit()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher, err := config.NewFromFile(ctx, log, opts.Config)
	if err != nil {
		return err
	}

	n, err := newNode(ctx, log, watcher.Get(), chaintime.NewWallClock())
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error("could not close snapshot store", logging.Error(err))
		}
	}()
	watcher.OnConfigUpdate(n.reload)

	if opts.Restore {
		snap, err := n.snapshot.Restore(ctx, 0)
		switch {
		case errors.Is(err, snapshot.ErrNoSnapshot):
			log.Info("no snapshot to restore, starting empty")
		case err != nil:
			return err
		default:
			log.Info("state restored", logging.Uint64("version", snap.Version))
		}
	}

	srv, err := metrics.Start(cfg.Metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range n.streams {
		stream := stream
		g.Go(func() error { return stream.Run(gctx) })
	}
	g.Go(func() error { return n.keeper.Run(gctx) })

	log.Info("swapcore started",
		logging.String("version", Version),
		logging.Int("sources", len(cfg.Sources)),
	)
	err = g.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if _, serr := n.snapshot.Snapshot(shutdownCtx); serr != nil {
		log.Error("could not take shutdown snapshot", logging.Error(serr))
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func Run(_ context.Context, parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"run",
		"Run the keeper against the configured rate sources",
		"Run refreshes the rate and settles, closes and liquidates positions every keeper interval until interrupted",
		&runCmd{},
	)
	return err
}
