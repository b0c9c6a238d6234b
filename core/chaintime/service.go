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

package chaintime

import (
	"context"
	"sync"
	"time"
)

// Svc is the clock every engine reads. It either follows the wall clock or
// only moves when told to, the latter being what simulations and tests use.
type Svc struct {
	mu        sync.RWMutex
	wall      bool
	previous  time.Time
	current   time.Time
	listeners []func(context.Context, time.Time)
}

// New returns a service frozen at t until SetTimeNow or Advance is called.
func New(t time.Time) *Svc {
	t = t.UTC()
	return &Svc{current: t, previous: t}
}

// NewWallClock returns a service that follows time.Now.
func NewWallClock() *Svc {
	return &Svc{wall: true}
}

// SetTimeNow moves the clock to t and notifies the listeners.
// Moving backwards is ignored, time only advances.
func (s *Svc) SetTimeNow(ctx context.Context, t time.Time) {
	s.mu.Lock()
	t = t.UTC()
	if s.wall || t.Before(s.current) {
		s.mu.Unlock()
		return
	}
	s.previous = s.current
	s.current = t
	listeners := make([]func(context.Context, time.Time), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, f := range listeners {
		f(ctx, t)
	}
}

// Advance moves the clock forward by d.
func (s *Svc) Advance(ctx context.Context, d time.Duration) time.Time {
	next := s.GetTimeNow().Add(d)
	s.SetTimeNow(ctx, next)
	return next
}

func (s *Svc) GetTimeNow() time.Time {
	if s.wall {
		return time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// GetTimeLastBatch returns the time before the last update.
func (s *Svc) GetTimeLastBatch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// NotifyOnTick registers f to be called every time the clock is set.
func (s *Svc) NotifyOnTick(f ...func(context.Context, time.Time)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, f...)
	s.mu.Unlock()
}
