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
	"errors"
	"fmt"

	"github.com/ratevault/swapcore/libs/num"
)

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionInactive      = errors.New("position is not active")
	ErrPositionChanged       = errors.New("position changed since it was read")
	ErrNotOwner              = errors.New("caller does not own the position")
	ErrNotAuthorised         = errors.New("caller is not authorised")
	ErrInvalidTrader         = errors.New("invalid trader")
	ErrInvalidNotional       = errors.New("notional must be positive")
	ErrInvalidFixedRate      = errors.New("fixed rate must be in (0, 1]")
	ErrInvalidMaturity       = errors.New("maturity is not an allowed tenor")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidSettlement     = errors.New("invalid settlement update")
	ErrInvalidReward         = errors.New("reward exceeds seized margin")
	ErrInsufficientMargin    = errors.New("insufficient margin")
	ErrExcessiveWithdrawal   = errors.New("withdrawal leaves margin below the minimum")
	ErrInsufficientLiquidity = errors.New("custody cannot cover the payment without using margin of other positions")
	ErrInvariantViolated     = errors.New("ledger invariant violated")
)

// InsufficientMarginError is returned when a position is opened with less
// than the initial margin.
type InsufficientMarginError struct {
	Required *num.Uint
	Provided *num.Uint
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("%s: required %s, provided %s", ErrInsufficientMargin, e.Required, e.Provided)
}

func (e *InsufficientMarginError) Unwrap() error { return ErrInsufficientMargin }

// ExcessiveWithdrawalError is returned when removing margin would leave
// the position under its minimum margin.
type ExcessiveWithdrawalError struct {
	ID        uint64
	Remaining *num.Uint
	Minimum   *num.Uint
}

func (e *ExcessiveWithdrawalError) Error() string {
	return fmt.Sprintf("%s: position %d would keep %s, minimum %s", ErrExcessiveWithdrawal, e.ID, e.Remaining, e.Minimum)
}

func (e *ExcessiveWithdrawalError) Unwrap() error { return ErrExcessiveWithdrawal }

// LiquidityError is returned when a payment out of custody would dig into
// margin backing other positions.
type LiquidityError struct {
	Required  *num.Uint
	Available *num.Uint
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s", ErrInsufficientLiquidity, e.Required, e.Available)
}

func (e *LiquidityError) Unwrap() error { return ErrInsufficientLiquidity }
