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
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ratevault/swapcore/core/broker"
	"github.com/ratevault/swapcore/core/chaintime"
	"github.com/ratevault/swapcore/core/config"
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/core/keeper"
	"github.com/ratevault/swapcore/core/snapshot"
	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	simulatedSource = "simulated"
	liquidityParty  = "liquidity-provider"
)

var simulationStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type simulateCmd struct {
	Days       int    `long:"days" default:"40" description:"number of daily keeper rounds to run"`
	Rate       string `long:"rate" default:"0.05" description:"floating rate at the start"`
	TargetRate string `long:"target-rate" default:"0.8" description:"floating rate the market moves to"`
	ShockDay   int    `long:"shock-day" default:"5" description:"day the rate starts moving to the target"`
	Verbose    bool   `long:"verbose" short:"v" description:"log every engine at debug level"`
}

// simulatedTrade is a position opened at the start of the simulation.
type simulatedTrade struct {
	trader    string
	direction types.Direction
	notional  uint64
	fixedRate string
	days      uint32
	margin    uint64
}

var simulatedTrades = []simulatedTrade{
	{trader: "alice", direction: types.DirectionPayFixed, notional: 1_000_000, fixedRate: "0.05", days: 30, margin: 100_000},
	{trader: "bob", direction: types.DirectionPayFloating, notional: 1_000_000, fixedRate: "0.05", days: 90, margin: 100_000},
	{trader: "carol", direction: types.DirectionPayFixed, notional: 2_000_000, fixedRate: "0.06", days: 90, margin: 200_000},
}

// simulationReport is what a simulation run ends with.
type simulationReport struct {
	Days       int
	FinalRate  num.Decimal
	Keeper     keeper.Stats
	Balances   map[string]*num.Uint
	Holdings   map[string][]uint64
	Events     map[events.Type]int
	Snapshot   *snapshot.Snapshot
	RoundFails int
}

func (opts *simulateCmd) Execute(_ []string) error {
	log := logging.NewTestLogger()
	if opts.Verbose {
		log = logging.NewDevLogger()
	}
	defer log.AtExit()

	report, err := opts.simulate(context.Background(), log)
	if err != nil {
		return err
	}
	return report.print(os.Stdout)
}

// simulate runs the scenario on a manual clock: positions are opened,
// then one keeper round runs per simulated day while the rate source
// walks to the target without tripping the circuit breaker.
func (opts *simulateCmd) simulate(ctx context.Context, log *logging.Logger) (*simulationReport, error) {
	rate, err := num.DecimalFromString(opts.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}
	target, err := num.DecimalFromString(opts.TargetRate)
	if err != nil {
		return nil, fmt.Errorf("invalid target rate: %w", err)
	}
	if !types.IsValidRate(rate) || !types.IsValidRate(target) {
		return nil, fmt.Errorf("rates must be in (0, 1]")
	}

	cfg := config.NewDefaultConfig()
	cfg.Snapshot = snapshot.NewTestConfig()
	cfg.Oracles.SourceTimeout = encoding.Duration{}
	cfg.Keeper.RetryInitialInterval = encoding.Duration{Duration: time.Millisecond}
	cfg.Sources = []config.SourceConfig{
		{Name: simulatedSource, Kind: config.SourceStatic, Rate: encoding.Decimal{Decimal: rate}},
	}

	tsvc := chaintime.New(simulationStart)
	n, err := newNode(ctx, log, cfg, tsvc)
	if err != nil {
		return nil, err
	}
	defer n.Close()

	recorder := broker.NewRecorder()
	n.broker.Subscribe(recorder)

	if err := n.collateral.Deposit(ctx, liquidityParty, num.NewUint(1_000_000)); err != nil {
		return nil, err
	}
	for _, trade := range simulatedTrades {
		if err := openTrade(ctx, n, trade); err != nil {
			return nil, err
		}
	}

	source := n.statics[simulatedSource]
	maxFactor := cfg.Oracles.MaxDeviationFactor.Get()
	report := &simulationReport{Days: opts.Days}
	// every tick moves the rate first, then runs the keeper round against it
	tsvc.NotifyOnTick(
		func(_ context.Context, now time.Time) {
			day := int(now.Sub(simulationStart) / (24 * time.Hour))
			if day >= opts.ShockDay && !rate.Equal(target) {
				rate = stepTowards(rate, target, maxFactor)
				source.Set(rate)
			}
		},
		func(ctx context.Context, now time.Time) {
			res := n.keeper.Round(ctx)
			if res.Err != nil {
				report.RoundFails++
				log.Debug("round ended with failures",
					logging.Time("tick", now),
					logging.Duration("since-last-tick", now.Sub(tsvc.GetTimeLastBatch())),
					logging.Error(res.Err),
				)
			}
		},
	)
	for day := 1; day <= opts.Days; day++ {
		tsvc.Advance(ctx, 24*time.Hour)
	}

	if report.Snapshot, err = n.snapshot.Snapshot(ctx); err != nil {
		return nil, err
	}

	report.FinalRate = rate
	report.Keeper = n.keeper.Stats()
	report.Balances = map[string]*num.Uint{
		cfg.Keeper.Identity: n.collateral.Balance(cfg.Keeper.Identity),
		liquidityParty:      n.collateral.Balance(liquidityParty),
	}
	report.Holdings = map[string][]uint64{}
	for _, trade := range simulatedTrades {
		report.Balances[trade.trader] = n.collateral.Balance(trade.trader)
		report.Holdings[trade.trader] = n.ownership.PositionsOf(trade.trader)
	}
	report.Events = map[events.Type]int{}
	for _, evt := range recorder.Events() {
		report.Events[evt.Type()]++
	}
	return report, nil
}

func openTrade(ctx context.Context, n *node, trade simulatedTrade) error {
	notional := num.NewUint(trade.notional)
	margin := num.NewUint(trade.margin)
	fee, err := num.MulFrac(notional, n.ledger.TradingFee.Get())
	if err != nil {
		return err
	}
	if err := n.collateral.Deposit(ctx, trade.trader, num.Sum(margin, fee)); err != nil {
		return err
	}
	_, err = n.ledger.Open(ctx, trade.trader, types.OpenRequest{
		Direction:    trade.direction,
		Notional:     notional,
		FixedRate:    num.MustDecimalFromString(trade.fixedRate),
		MaturityDays: trade.days,
		Margin:       margin,
	})
	if err != nil {
		return fmt.Errorf("could not open position for %s: %w", trade.trader, err)
	}
	return nil
}

// stepTowards moves rate to target by at most maxFactor, so that a single
// update never exceeds the oracle deviation bound.
func stepTowards(rate, target, maxFactor num.Decimal) num.Decimal {
	if target.GreaterThan(rate) {
		return num.MinD(target, rate.Mul(maxFactor))
	}
	return num.MaxD(target, rate.Div(maxFactor))
}

func sortedParties(balances map[string]*num.Uint) []string {
	parties := maps.Keys(balances)
	slices.Sort(parties)
	return parties
}

func (r *simulationReport) print(out io.Writer) error {
	title := color.New(color.Bold, color.FgCyan)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	title.Fprintf(out, "simulation over %d days\n", r.Days)
	fmt.Fprintf(w, "final rate\t%s\n", r.FinalRate.String())
	fmt.Fprintf(w, "rounds\t%d\n", r.Keeper.Rounds)
	fmt.Fprintf(w, "settled\t%d\n", r.Keeper.Settled)
	fmt.Fprintf(w, "closed\t%d\n", r.Keeper.Closed)
	fmt.Fprintf(w, "liquidated\t%d\n", r.Keeper.Liquidated)
	fmt.Fprintf(w, "failures\t%d\n", r.Keeper.Failures)
	if err := w.Flush(); err != nil {
		return err
	}

	title.Fprintln(out, "balances")
	for _, party := range sortedParties(r.Balances) {
		fmt.Fprintf(w, "%s\t%s\n", party, r.Balances[party].String())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	title.Fprintln(out, "positions")
	for _, party := range sortedParties(r.Balances) {
		if ids, ok := r.Holdings[party]; ok {
			fmt.Fprintf(w, "%s\t%v\n", party, ids)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	title.Fprintln(out, "events")
	for t := events.PositionOpenedEvent; t <= events.KeeperRoundEvent; t++ {
		if c := r.Events[t]; c > 0 {
			fmt.Fprintf(w, "%s\t%d\n", t.String(), c)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if r.Snapshot != nil {
		title.Fprintln(out, "snapshot")
		fmt.Fprintf(w, "version\t%d\n", r.Snapshot.Version)
		fmt.Fprintf(w, "hash\t%s\n", r.Snapshot.Hash)
	}
	return w.Flush()
}

func Simulate(_ context.Context, parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"simulate",
		"Run a deterministic simulation",
		"Simulate opens a few positions on a manual clock, moves the floating rate and runs a keeper round per day",
		&simulateCmd{},
	)
	return err
}
