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

package collateral

import (
	"context"

	"github.com/ratevault/swapcore/libs/num"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const snapshotNamespace = "collateral"

type accountState struct {
	Party   string    `json:"party"`
	Balance *num.Uint `json:"balance"`
}

func (e *Engine) Namespace() string {
	return snapshotNamespace
}

// GetState serialises the accounts, ordered by party.
func (e *Engine) GetState() ([]byte, error) {
	e.mu.Lock()
	parties := maps.Keys(e.accounts)
	slices.Sort(parties)
	state := make([]accountState, 0, len(parties))
	for _, p := range parties {
		state = append(state, accountState{Party: p, Balance: e.accounts[p].Clone()})
	}
	e.mu.Unlock()

	buf, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialise collateral accounts")
	}
	return buf, nil
}

// LoadState replaces every account with the serialised ones.
func (e *Engine) LoadState(_ context.Context, buf []byte) error {
	state := []accountState{}
	if err := json.Unmarshal(buf, &state); err != nil {
		return errors.Wrap(err, "could not deserialise collateral accounts")
	}

	accounts := make(map[string]*num.Uint, len(state)+1)
	accounts[CustodyAccount] = num.UintZero()
	for _, acc := range state {
		if acc.Balance == nil {
			acc.Balance = num.UintZero()
		}
		accounts[acc.Party] = acc.Balance
	}

	e.mu.Lock()
	e.accounts = accounts
	e.mu.Unlock()
	return nil
}
