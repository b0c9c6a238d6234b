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

package liquidation

import (
	"errors"
	"fmt"

	"github.com/ratevault/swapcore/libs/num"
)

var (
	ErrPositionNotLiquidatable = errors.New("position is not liquidatable")
	// ErrSolvencyViolation is returned when a liquidation would pay out more
	// than it seizes or seize more than the position holds.
	ErrSolvencyViolation = errors.New("liquidation solvency violated")
	ErrInvalidAmount     = errors.New("invalid liquidation amount")
)

type PositionNotLiquidatableError struct {
	ID           uint64
	HealthFactor num.Decimal
}

func (e *PositionNotLiquidatableError) Error() string {
	return fmt.Sprintf("position %d is not liquidatable, health factor %s", e.ID, e.HealthFactor.String())
}

func (e *PositionNotLiquidatableError) Unwrap() error {
	return ErrPositionNotLiquidatable
}
