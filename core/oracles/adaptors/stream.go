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

package adaptors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var ErrStaleTick = errors.New("last streamed rate is too old")

// Tick is a message pushed by a streaming rate feed.
type Tick struct {
	Rate      json.RawMessage `json:"rate"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// StreamSource keeps the last rate pushed over a websocket. It abstains
// when nothing was received yet or when the last tick is older than maxAge.
type StreamSource struct {
	log    *logging.Logger
	url    string
	maxAge time.Duration
	now    func() time.Time
	dialer *websocket.Dialer

	mu       sync.RWMutex
	rate     num.Decimal
	received time.Time
}

func NewStreamSource(log *logging.Logger, url string, maxAge time.Duration, now func() time.Time) *StreamSource {
	if now == nil {
		now = time.Now
	}
	return &StreamSource{
		log:    log.Named("stream-source"),
		url:    url,
		maxAge: maxAge,
		now:    now,
		dialer: websocket.DefaultDialer,
	}
}

func (s *StreamSource) CurrentRate(_ context.Context) (num.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.received.IsZero() {
		return num.DecimalZero(), ErrNoRate
	}
	if age := s.now().Sub(s.received); s.maxAge > 0 && age > s.maxAge {
		return num.DecimalZero(), fmt.Errorf("%w: %s", ErrStaleTick, age)
	}
	return s.rate, nil
}

// Run connects to the feed and consumes ticks until ctx is done,
// reconnecting with an exponential backoff.
func (s *StreamSource) Run(ctx context.Context) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, bo, func(err error, next time.Duration) {
		s.log.Warn("rate stream disconnected",
			logging.String("url", s.url),
			logging.Error(err),
			logging.Duration("retry-in", next),
		)
	})
}

func (s *StreamSource) consume(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.HandleMessage(msg); err != nil {
			s.log.Debug("ignoring malformed tick", logging.Error(err))
		}
	}
}

// HandleMessage applies a single raw tick.
func (s *StreamSource) HandleMessage(msg []byte) error {
	var tick Tick
	if err := json.Unmarshal(msg, &tick); err != nil {
		return err
	}
	if len(tick.Rate) == 0 {
		return ErrNoRate
	}
	rate, err := parseRate(tick.Rate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rate = rate
	s.received = s.now()
	s.mu.Unlock()
	return nil
}
