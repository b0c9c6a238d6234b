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
	"context"
	"time"

	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Sources are live collaborators and are not part of the snapshot, they
// are registered again by whoever restores the engine.
type oracleState struct {
	HasRate      bool                    `json:"has_rate"`
	LastRate     num.Decimal             `json:"last_rate"`
	LastUpdate   time.Time               `json:"last_update"`
	Tripped      bool                    `json:"tripped"`
	Updaters     []string                `json:"updaters"`
	Observations []types.RateObservation `json:"observations"`
}

func (e *Engine) Namespace() string {
	return "oracles"
}

func (e *Engine) GetState() ([]byte, error) {
	e.mu.RLock()
	updaters := maps.Keys(e.updaters)
	slices.Sort(updaters)
	state := oracleState{
		HasRate:      e.hasRate,
		LastRate:     e.lastRate,
		LastUpdate:   e.lastUpdate,
		Tripped:      e.tripped,
		Updaters:     updaters,
		Observations: slices.Clone(e.observations),
	}
	e.mu.RUnlock()

	buf, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialise oracle state")
	}
	return buf, nil
}

func (e *Engine) LoadState(_ context.Context, buf []byte) error {
	var state oracleState
	if err := json.Unmarshal(buf, &state); err != nil {
		return errors.Wrap(err, "could not deserialise oracle state")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasRate = state.HasRate
	e.lastRate = state.LastRate
	e.lastUpdate = state.LastUpdate
	e.tripped = state.Tripped
	e.observations = state.Observations
	e.updaters = make(map[string]struct{}, len(state.Updaters))
	for _, u := range state.Updaters {
		e.updaters[u] = struct{}{}
	}
	return nil
}
