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
	"errors"
	"fmt"
	"sync"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/libs/num"
	"github.com/ratevault/swapcore/logging"
)

// CustodyAccount is the owner name of the account holding every margin
// posted to the ledger, plus whatever liquidity was provided for payouts.
const CustodyAccount = "*custody"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid transfer amount")
	ErrReservedParty       = errors.New("party name is reserved")
)

// InsufficientFundsError is returned when an account cannot cover a transfer.
type InsufficientFundsError struct {
	Party     string
	Balance   *num.Uint
	Requested *num.Uint
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: party %s holds %s, requested %s", ErrInsufficientBalance, e.Party, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientBalance
}

// Broker send events.
type Broker interface {
	Send(event events.Event)
	SendBatch(events []events.Event)
}

// Engine is the value transfer channel: every movement is all or nothing.
type Engine struct {
	Config
	log    *logging.Logger
	broker Broker

	mu       sync.Mutex
	accounts map[string]*num.Uint
}

// New instantiates a new collateral engine.
func New(log *logging.Logger, conf Config, broker Broker) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())
	return &Engine{
		Config: conf,
		log:    log,
		broker: broker,
		accounts: map[string]*num.Uint{
			CustodyAccount: num.UintZero(),
		},
	}
}

// ReloadConf updates the internal configuration of the collateral engine.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}

	e.mu.Lock()
	e.Config = cfg
	e.mu.Unlock()
}

// Deposit brings external funds into a party account.
func (e *Engine) Deposit(ctx context.Context, party string, amount *num.Uint) error {
	if party == CustodyAccount {
		return ErrReservedParty
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	bal := e.account(party)
	bal.AddSum(amount)
	evt := events.NewTransfer(ctx, events.TransferDeposit, party, amount, bal)
	e.mu.Unlock()
	e.broker.Send(evt)
	return nil
}

// Withdraw takes funds out of a party account.
func (e *Engine) Withdraw(ctx context.Context, party string, amount *num.Uint) error {
	if party == CustodyAccount {
		return ErrReservedParty
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	bal := e.account(party)
	if bal.LT(amount) {
		e.mu.Unlock()
		return &InsufficientFundsError{Party: party, Balance: bal.Clone(), Requested: amount.Clone()}
	}
	bal.Sub(bal, amount)
	evt := events.NewTransfer(ctx, events.TransferWithdraw, party, amount, bal)
	e.mu.Unlock()
	e.broker.Send(evt)
	return nil
}

// FundCustody adds liquidity to the custody account, used to pay out
// gains which exceed the margin a position posted.
func (e *Engine) FundCustody(ctx context.Context, amount *num.Uint) {
	e.mu.Lock()
	bal := e.account(CustodyAccount)
	bal.AddSum(amount)
	evt := events.NewTransfer(ctx, events.TransferDeposit, CustodyAccount, amount, bal)
	e.mu.Unlock()
	e.broker.Send(evt)
}

// Debit moves amount from party to custody.
func (e *Engine) Debit(ctx context.Context, party string, amount *num.Uint) error {
	return e.move(ctx, events.TransferMarginDebit, party, CustodyAccount, party, amount)
}

// Credit moves amount from custody to party.
func (e *Engine) Credit(ctx context.Context, party string, amount *num.Uint) error {
	return e.move(ctx, events.TransferMarginCredit, CustodyAccount, party, party, amount)
}

func (e *Engine) move(ctx context.Context, kind events.TransferKind, from, to, party string, amount *num.Uint) error {
	if party == CustodyAccount {
		return ErrReservedParty
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	e.mu.Lock()
	src, dst := e.account(from), e.account(to)
	if src.LT(amount) {
		e.mu.Unlock()
		e.log.Debug("transfer rejected",
			logging.String("from", from),
			logging.String("to", to),
			logging.BigUint("amount", amount),
			logging.BigUint("balance", src),
		)
		return &InsufficientFundsError{Party: from, Balance: src.Clone(), Requested: amount.Clone()}
	}
	src.Sub(src, amount)
	dst.AddSum(amount)
	evt := events.NewTransfer(ctx, kind, party, amount, e.accounts[party])
	e.mu.Unlock()

	e.broker.Send(evt)
	return nil
}

// Balance returns the balance of party, zero for unknown parties.
func (e *Engine) Balance(party string) *num.Uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal, ok := e.accounts[party]; ok {
		return bal.Clone()
	}
	return num.UintZero()
}

// CustodyBalance returns what the custody account holds.
func (e *Engine) CustodyBalance() *num.Uint {
	return e.Balance(CustodyAccount)
}

// account must be called with the lock held.
func (e *Engine) account(party string) *num.Uint {
	bal, ok := e.accounts[party]
	if !ok {
		bal = num.UintZero()
		e.accounts[party] = bal
	}
	return bal
}
