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

package broker

import (
	"sync"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/logging"
)

// LogSubscriber writes a debug line for every event.
type LogSubscriber struct {
	log *logging.Logger
}

func NewLogSubscriber(log *logging.Logger) *LogSubscriber {
	return &LogSubscriber{log: log}
}

func (l *LogSubscriber) Push(evts ...events.Event) {
	for _, e := range evts {
		l.log.Debug("event",
			logging.String("type", e.Type().String()),
			logging.Uint64("sequence", e.Sequence()),
			logging.TraceID(e.TraceID()),
		)
	}
}

func (l *LogSubscriber) Types() []events.Type {
	return nil
}

// Recorder keeps every event it receives in memory.
type Recorder struct {
	mu    sync.Mutex
	types []events.Type
	evts  []events.Event
}

func NewRecorder(types ...events.Type) *Recorder {
	return &Recorder{types: types}
}

func (r *Recorder) Push(evts ...events.Event) {
	r.mu.Lock()
	r.evts = append(r.evts, evts...)
	r.mu.Unlock()
}

func (r *Recorder) Types() []events.Type {
	return r.types
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.evts))
	copy(out, r.evts)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []events.Event{}
	for _, e := range r.evts {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
