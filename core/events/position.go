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

package events

import (
	"context"
	"time"

	"github.com/ratevault/swapcore/core/types"
	"github.com/ratevault/swapcore/libs/num"
)

// PositionState is emitted whenever a position is opened, mutated or closed.
type PositionState struct {
	*Base
	pos   types.Position
	owner string
}

func newPositionState(ctx context.Context, t Type, owner string, pos *types.Position) *PositionState {
	return &PositionState{
		Base:  newBase(ctx, t),
		pos:   *pos.Clone(),
		owner: owner,
	}
}

func NewPositionOpened(ctx context.Context, owner string, pos *types.Position) *PositionState {
	return newPositionState(ctx, PositionOpenedEvent, owner, pos)
}

func NewPositionUpdated(ctx context.Context, owner string, pos *types.Position) *PositionState {
	return newPositionState(ctx, PositionUpdatedEvent, owner, pos)
}

func (p PositionState) Position() types.Position {
	return *p.pos.Clone()
}

func (p PositionState) PositionID() uint64 {
	return p.pos.ID
}

func (p PositionState) Owner() string {
	return p.owner
}

func (p PositionState) IsParty(id string) bool {
	return p.owner == id
}

// PositionClosed is emitted once a position is finalised.
type PositionClosed struct {
	*Base
	id       uint64
	owner    string
	payout   *num.Uint
	residual *num.Uint
	ts       time.Time
}

func NewPositionClosed(ctx context.Context, id uint64, owner string, payout, residual *num.Uint, ts time.Time) *PositionClosed {
	return &PositionClosed{
		Base:     newBase(ctx, PositionClosedEvent),
		id:       id,
		owner:    owner,
		payout:   payout.Clone(),
		residual: residual.Clone(),
		ts:       ts,
	}
}

func (p PositionClosed) PositionID() uint64 { return p.id }
func (p PositionClosed) Owner() string { return p.owner }
func (p PositionClosed) Payout() *num.Uint { return p.payout.Clone() }
func (p PositionClosed) Residual() *num.Uint { return p.residual.Clone() }
func (p PositionClosed) Timestamp() time.Time { return p.ts }
func (p PositionClosed) IsParty(id string) bool {
	return p.owner == id
}

// OwnershipTransferred is emitted by the ownership registry.
type OwnershipTransferred struct {
	*Base
	id       uint64
	from, to string
}

func NewOwnershipTransferred(ctx context.Context, id uint64, from, to string) *OwnershipTransferred {
	return &OwnershipTransferred{
		Base: newBase(ctx, OwnershipTransferredEvent),
		id:   id,
		from: from,
		to:   to,
	}
}

func (o OwnershipTransferred) PositionID() uint64 { return o.id }
func (o OwnershipTransferred) From() string { return o.from }
func (o OwnershipTransferred) To() string { return o.to }
func (o OwnershipTransferred) IsParty(id string) bool {
	return o.from == id || o.to == id
}
