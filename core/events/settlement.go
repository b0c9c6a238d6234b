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

	"github.com/ratevault/swapcore/libs/num"
)

// PositionSettled carries the outcome of one settlement period.
type PositionSettled struct {
	*Base
	id           uint64
	keeper       string
	floatingRate num.Decimal
	gross        *num.Int
	net          *num.Int
	fee          *num.Uint
	keeperReward *num.Uint
	from, to     time.Time
}

func NewPositionSettled(
	ctx context.Context,
	id uint64,
	keeper string,
	floatingRate num.Decimal,
	gross, net *num.Int,
	fee, keeperReward *num.Uint,
	from, to time.Time,
) *PositionSettled {
	return &PositionSettled{
		Base:         newBase(ctx, PositionSettledEvent),
		id:           id,
		keeper:       keeper,
		floatingRate: floatingRate,
		gross:        gross.Clone(),
		net:          net.Clone(),
		fee:          fee.Clone(),
		keeperReward: keeperReward.Clone(),
		from:         from,
		to:           to,
	}
}

func (s PositionSettled) PositionID() uint64 { return s.id }
func (s PositionSettled) Keeper() string { return s.keeper }
func (s PositionSettled) FloatingRate() num.Decimal { return s.floatingRate }
func (s PositionSettled) Gross() *num.Int { return s.gross.Clone() }
func (s PositionSettled) Net() *num.Int { return s.net.Clone() }
func (s PositionSettled) Fee() *num.Uint { return s.fee.Clone() }
func (s PositionSettled) KeeperReward() *num.Uint { return s.keeperReward.Clone() }
func (s PositionSettled) Period() (time.Time, time.Time) {
	return s.from, s.to
}

// PositionLiquidated carries the outcome of a full or partial liquidation.
type PositionLiquidated struct {
	*Base
	id           uint64
	liquidator   string
	seized       *num.Uint
	reward       *num.Uint
	protocolFee  *num.Uint
	healthFactor num.Decimal
	partial      bool
}

func NewPositionLiquidated(
	ctx context.Context,
	id uint64,
	liquidator string,
	seized, reward, protocolFee *num.Uint,
	healthFactor num.Decimal,
	partial bool,
) *PositionLiquidated {
	return &PositionLiquidated{
		Base:         newBase(ctx, PositionLiquidatedEvent),
		id:           id,
		liquidator:   liquidator,
		seized:       seized.Clone(),
		reward:       reward.Clone(),
		protocolFee:  protocolFee.Clone(),
		healthFactor: healthFactor,
		partial:      partial,
	}
}

func (l PositionLiquidated) PositionID() uint64 { return l.id }
func (l PositionLiquidated) Liquidator() string { return l.liquidator }
func (l PositionLiquidated) Seized() *num.Uint { return l.seized.Clone() }
func (l PositionLiquidated) Reward() *num.Uint { return l.reward.Clone() }
func (l PositionLiquidated) ProtocolFee() *num.Uint { return l.protocolFee.Clone() }
func (l PositionLiquidated) HealthFactor() num.Decimal { return l.healthFactor }
func (l PositionLiquidated) Partial() bool { return l.partial }
func (l PositionLiquidated) IsParty(id string) bool {
	return l.liquidator == id
}
