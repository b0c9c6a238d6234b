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

	"github.com/ratevault/swapcore/libs/num"
)

// TransferKind names the reason for a collateral movement.
type TransferKind string

const (
	TransferDeposit      TransferKind = "deposit"
	TransferWithdraw     TransferKind = "withdraw"
	TransferMarginDebit  TransferKind = "margin-debit"
	TransferMarginCredit TransferKind = "margin-credit"
)

// Transfer is a single movement of collateral between a party and custody.
type Transfer struct {
	*Base
	kind    TransferKind
	party   string
	amount  *num.Uint
	balance *num.Uint
}

func NewTransfer(ctx context.Context, kind TransferKind, party string, amount, balance *num.Uint) *Transfer {
	return &Transfer{
		Base:    newBase(ctx, TransferEvent),
		kind:    kind,
		party:   party,
		amount:  amount.Clone(),
		balance: balance.Clone(),
	}
}

func (t Transfer) Kind() TransferKind { return t.kind }
func (t Transfer) Party() string { return t.party }
func (t Transfer) Amount() *num.Uint { return t.amount.Clone() }
func (t Transfer) Balance() *num.Uint { return t.balance.Clone() }
func (t Transfer) IsParty(id string) bool {
	return t.party == id
}

// KeeperRound summarises one pass of the keeper loop.
type KeeperRound struct {
	*Base
	keeper     string
	settled    int
	closed     int
	liquidated int
	failures   int
}

func NewKeeperRound(ctx context.Context, keeper string, settled, closed, liquidated, failures int) *KeeperRound {
	return &KeeperRound{
		Base:       newBase(ctx, KeeperRoundEvent),
		keeper:     keeper,
		settled:    settled,
		closed:     closed,
		liquidated: liquidated,
		failures:   failures,
	}
}

func (k KeeperRound) Keeper() string { return k.keeper }
func (k KeeperRound) Settled() int { return k.settled }
func (k KeeperRound) Closed() int { return k.closed }
func (k KeeperRound) Liquidated() int { return k.liquidated }
func (k KeeperRound) Failures() int { return k.failures }
