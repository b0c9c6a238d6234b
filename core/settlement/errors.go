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

package settlement

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPositionMatured    = errors.New("position has nothing left to settle before maturity")
	ErrPositionClosed     = errors.New("position is closed")
	ErrSettlementTooSoon  = errors.New("settlement interval has not elapsed")
	ErrPositionNotMatured = errors.New("position has not matured")
)

// SettlementTooSoonError is returned when a position is settled before
// its interval elapsed.
type SettlementTooSoonError struct {
	ID       uint64
	Earliest time.Time
}

func (e *SettlementTooSoonError) Error() string {
	return fmt.Sprintf("position %d cannot be settled before %s", e.ID, e.Earliest.Format(time.RFC3339))
}

func (e *SettlementTooSoonError) Unwrap() error {
	return ErrSettlementTooSoon
}

// PositionNotMaturedError is returned when closing a position before its maturity.
type PositionNotMaturedError struct {
	ID       uint64
	Maturity time.Time
}

func (e *PositionNotMaturedError) Error() string {
	return fmt.Sprintf("position %d matures at %s", e.ID, e.Maturity.Format(time.RFC3339))
}

func (e *PositionNotMaturedError) Unwrap() error {
	return ErrPositionNotMatured
}
