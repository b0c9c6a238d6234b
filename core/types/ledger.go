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

package types

import (
	"time"

	"github.com/ratevault/swapcore/libs/num"
)

// Operation is a ledger capability that can be granted to a party.
type Operation uint8

const (
	OpUpdatePnL Operation = iota + 1
	OpClosePosition
	OpReduceMargin
	OpOpenOnBehalfOf
)

var operationNames = map[Operation]string{
	OpUpdatePnL:      "update-pnl",
	OpClosePosition:  "close-position",
	OpReduceMargin:   "reduce-margin",
	OpOpenOnBehalfOf: "open-on-behalf-of",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// AllOperations lists every grantable operation.
func AllOperations() []Operation {
	return []Operation{OpUpdatePnL, OpClosePosition, OpReduceMargin, OpOpenOnBehalfOf}
}

// SettlementUpdate is applied by the ledger as a single unit: the net PnL
// is recorded, the fee accrues and the keeper reward is paid from it.
type SettlementUpdate struct {
	ID uint64
	// Version the update was computed against.
	Version   uint64
	NetPnL    *num.Int
	Fee       *num.Uint
	Keeper    string
	KeeperFee *num.Uint
	SettledAt time.Time
}

// SeizeRequest moves margin out of a position, paying Reward to the
// recipient and the rest of Amount to the protocol pool.
type SeizeRequest struct {
	ID        uint64
	Version   uint64
	Amount    *num.Uint
	Reward    *num.Uint
	Recipient string
}

// SeizeResult reports what was actually moved.
type SeizeResult struct {
	Seized          *num.Uint
	Reward          *num.Uint
	ProtocolShare   *num.Uint
	RemainingMargin *num.Uint
}

// LiquidationResult reports a seizure and the close that followed it.
type LiquidationResult struct {
	SeizeResult
	Payout *num.Uint
	// Residual is the margin left to the protocol pool on close.
	Residual *num.Uint
}
