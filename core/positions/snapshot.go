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

package positions

import (
	"context"

	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"

	"github.com/goccy/go-json"
	"github.com/google/btree"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Totals and the maturity index are derived and rebuilt on load.
type ledgerState struct {
	NextID       uint64                       `json:"next_id"`
	Positions    []*types.Position            `json:"positions"`
	FeeBalance   *num.Uint                    `json:"fee_balance"`
	ProtocolPool *num.Uint                    `json:"protocol_pool"`
	Grants       map[string][]types.Operation `json:"grants"`
}

func (e *Engine) Namespace() string {
	return "positions"
}

func (e *Engine) GetState() ([]byte, error) {
	e.mu.Lock()
	ids := maps.Keys(e.positions)
	slices.Sort(ids)
	state := ledgerState{
		NextID:       e.nextID,
		Positions:    make([]*types.Position, 0, len(ids)),
		FeeBalance:   e.feeBalance.Clone(),
		ProtocolPool: e.protocolPool.Clone(),
		Grants:       make(map[string][]types.Operation, len(e.grants)),
	}
	for _, id := range ids {
		state.Positions = append(state.Positions, e.positions[id].Clone())
	}
	for party, ops := range e.grants {
		granted := maps.Keys(ops)
		slices.Sort(granted)
		state.Grants[party] = granted
	}
	e.mu.Unlock()

	buf, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialise ledger state")
	}
	return buf, nil
}

func (e *Engine) LoadState(_ context.Context, buf []byte) error {
	var state ledgerState
	if err := json.Unmarshal(buf, &state); err != nil {
		return errors.Wrap(err, "could not deserialise ledger state")
	}

	positions := make(map[uint64]*types.Position, len(state.Positions))
	maturities := btree.NewG[maturityItem](16, maturityLess)
	totals := zeroTotals()
	for _, pos := range state.Positions {
		if pos == nil || pos.Notional == nil || pos.Margin == nil || pos.AccumulatedPnL == nil {
			return errors.New("ledger state holds an incomplete position")
		}
		positions[pos.ID] = pos
		if pos.Active {
			maturities.ReplaceOrInsert(maturityItem{maturity: pos.Maturity, id: pos.ID})
			totals.TotalMargin.AddSum(pos.Margin)
			if pos.Direction == types.DirectionPayFixed {
				totals.PayFixedNotional.AddSum(pos.Notional)
			} else {
				totals.PayFloatingNotional.AddSum(pos.Notional)
			}
			totals.ActivePositions++
		}
	}
	grants := make(map[string]map[types.Operation]struct{}, len(state.Grants))
	for party, ops := range state.Grants {
		granted := make(map[types.Operation]struct{}, len(ops))
		for _, op := range ops {
			granted[op] = struct{}{}
		}
		grants[party] = granted
	}
	if state.FeeBalance == nil {
		state.FeeBalance = num.UintZero()
	}
	if state.ProtocolPool == nil {
		state.ProtocolPool = num.UintZero()
	}
	if state.NextID == 0 {
		state.NextID = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID = state.NextID
	e.positions = positions
	e.maturities = maturities
	e.totals = totals
	e.feeBalance = state.FeeBalance
	e.protocolPool = state.ProtocolPool
	e.grants = grants
	return nil
}
