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

package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Gauge ...
	Gauge instrument = iota
	// Counter ...
	Counter
	// Histogram ...
	Histogram
)

const namespace = "swapcore"

var (
	// ErrInstrumentNotSupported signals the specified instrument is not yet supported.
	ErrInstrumentNotSupported = errors.New("instrument type unsupported")
	// ErrInstrumentTypeMismatch signal the type of the instrument is not expected.
	ErrInstrumentTypeMismatch = errors.New("instrument is not of the expected type")
)

var (
	setupOnce sync.Once
	setupErr  error

	engineTime          *prometheus.CounterVec
	oracleUpdateCounter *prometheus.CounterVec
	breakerGauge        prometheus.Gauge
	settlementCounter   *prometheus.CounterVec
	liquidationCounter  *prometheus.CounterVec
	activePositions     prometheus.Gauge
	settlementDuration  prometheus.Histogram
)

// abstract prometheus types.
type instrument int

// combine all possible prometheus options + way to differentiate between regular or vector type.
type instrumentOpts struct {
	opts    prometheus.Opts
	buckets []float64
	vectors []string
}

type mi struct {
	gaugeV     *prometheus.GaugeVec
	gauge      prometheus.Gauge
	counterV   *prometheus.CounterVec
	counter    prometheus.Counter
	histogramV *prometheus.HistogramVec
	histogram  prometheus.Histogram
}

// InstrumentOption - vararg for instrument options setting.
type InstrumentOption func(o *instrumentOpts)

// Vectors - configuration used to create a vector of a given interface, slice of label names.
func Vectors(labels ...string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.vectors = labels
	}
}

// Help - set the help field on instrument.
func Help(help string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.opts.Help = help
	}
}

// Namespace - set namespace.
func Namespace(ns string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.opts.Namespace = ns
	}
}

// Buckets - specific to histogram type.
func Buckets(b []float64) InstrumentOption {
	return func(o *instrumentOpts) {
		o.buckets = b
	}
}

// AddInstrument configure and register new metrics instrument.
func AddInstrument(t instrument, name string, opts ...InstrumentOption) (*mi, error) {
	var col prometheus.Collector
	ret := mi{}
	opt := instrumentOpts{
		opts: prometheus.Opts{
			Name: name,
		},
	}
	// apply options
	for _, o := range opts {
		o(&opt)
	}
	switch t {
	case Gauge:
		o := prometheus.GaugeOpts(opt.opts)
		if len(opt.vectors) == 0 {
			ret.gauge = prometheus.NewGauge(o)
			col = ret.gauge
		} else {
			ret.gaugeV = prometheus.NewGaugeVec(o, opt.vectors)
			col = ret.gaugeV
		}
	case Counter:
		o := prometheus.CounterOpts(opt.opts)
		if len(opt.vectors) == 0 {
			ret.counter = prometheus.NewCounter(o)
			col = ret.counter
		} else {
			ret.counterV = prometheus.NewCounterVec(o, opt.vectors)
			col = ret.counterV
		}
	case Histogram:
		o := prometheus.HistogramOpts{
			Name:      opt.opts.Name,
			Namespace: opt.opts.Namespace,
			Help:      opt.opts.Help,
			Buckets:   opt.buckets,
		}
		if len(opt.vectors) == 0 {
			ret.histogram = prometheus.NewHistogram(o)
			col = ret.histogram
		} else {
			ret.histogramV = prometheus.NewHistogramVec(o, opt.vectors)
			col = ret.histogramV
		}
	default:
		return nil, ErrInstrumentNotSupported
	}
	if err := prometheus.Register(col); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Gauge returns a prometheus Gauge instrument.
func (m mi) Gauge() (prometheus.Gauge, error) {
	if m.gauge == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.gauge, nil
}

// CounterVec returns a prometheus CounterVec instrument.
func (m mi) CounterVec() (*prometheus.CounterVec, error) {
	if m.counterV == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.counterV, nil
}

func (m mi) Histogram() (prometheus.Histogram, error) {
	if m.histogram == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.histogram, nil
}

// Setup registers every instrument once. Calling it again is a no-op.
func Setup() error {
	setupOnce.Do(func() {
		setupErr = setupMetrics()
	})
	return setupErr
}

// Start registers the instruments and serves them over HTTP, it returns
// the server so the caller can shut it down.
func Start(conf Config) (*http.Server, error) {
	if !conf.Enabled {
		return nil, nil
	}
	if err := Setup(); err != nil {
		return nil, errors.Wrap(err, "could not set up metrics")
	}
	mux := http.NewServeMux()
	mux.Handle(conf.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv, nil
}

func setupMetrics() error {
	h, err := AddInstrument(
		Counter,
		"engine_seconds_total",
		Namespace(namespace),
		Vectors("engine", "fn"),
	)
	if err != nil {
		return err
	}
	if engineTime, err = h.CounterVec(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Counter,
		"oracle_updates_total",
		Namespace(namespace),
		Vectors("result"),
		Help("Number of rate updates attempted, by outcome"),
	)
	if err != nil {
		return err
	}
	if oracleUpdateCounter, err = h.CounterVec(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Gauge,
		"oracle_circuit_breaker",
		Namespace(namespace),
		Help("1 while the rate oracle circuit breaker is tripped"),
	)
	if err != nil {
		return err
	}
	if breakerGauge, err = h.Gauge(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Counter,
		"settlements_total",
		Namespace(namespace),
		Vectors("result"),
		Help("Number of settlements attempted, by outcome"),
	)
	if err != nil {
		return err
	}
	if settlementCounter, err = h.CounterVec(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Counter,
		"liquidations_total",
		Namespace(namespace),
		Vectors("mode"),
		Help("Number of liquidations executed, full or partial"),
	)
	if err != nil {
		return err
	}
	if liquidationCounter, err = h.CounterVec(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Gauge,
		"active_positions",
		Namespace(namespace),
		Help("Number of active positions in the ledger"),
	)
	if err != nil {
		return err
	}
	if activePositions, err = h.Gauge(); err != nil {
		return err
	}

	h, err = AddInstrument(
		Histogram,
		"settlement_batch_seconds",
		Namespace(namespace),
		Buckets(prometheus.DefBuckets),
		Help("Time spent settling a batch of positions"),
	)
	if err != nil {
		return err
	}
	settlementDuration, err = h.Histogram()
	return err
}

// OracleUpdateInc counts a rate update by result (ok, rejected, tripped).
func OracleUpdateInc(result string) {
	if oracleUpdateCounter == nil {
		return
	}
	oracleUpdateCounter.WithLabelValues(result).Inc()
}

// CircuitBreakerSet reflects the breaker state.
func CircuitBreakerSet(tripped bool) {
	if breakerGauge == nil {
		return
	}
	if tripped {
		breakerGauge.Set(1)
		return
	}
	breakerGauge.Set(0)
}

// SettlementInc counts a settlement by result.
func SettlementInc(result string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(result).Inc()
}

// LiquidationInc counts a liquidation, mode is full or partial.
func LiquidationInc(mode string) {
	if liquidationCounter == nil {
		return
	}
	liquidationCounter.WithLabelValues(mode).Inc()
}

// ActivePositionsSet sets the active positions gauge.
func ActivePositionsSet(n uint64) {
	if activePositions == nil {
		return
	}
	activePositions.Set(float64(n))
}

// ObserveSettlementBatch records the duration of a settlement batch.
func ObserveSettlementBatch(d time.Duration) {
	if settlementDuration == nil {
		return
	}
	settlementDuration.Observe(d.Seconds())
}
