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
	"errors"
	"fmt"
	"time"

	"github.com/ratevault/swapcore/libs/num"
)

var ErrInvalidDirection = errors.New("invalid swap direction")

// Direction of a swap position, which leg the holder pays.
type Direction int8

const (
	DirectionUnspecified Direction = iota
	// DirectionPayFixed pays the fixed rate and receives floating.
	DirectionPayFixed
	// DirectionPayFloating pays the floating rate and receives fixed.
	DirectionPayFloating
)

func (d Direction) String() string {
	switch d {
	case DirectionPayFixed:
		return "pay-fixed"
	case DirectionPayFloating:
		return "pay-floating"
	default:
		return "unspecified"
	}
}

func (d Direction) IsValid() bool {
	return d == DirectionPayFixed || d == DirectionPayFloating
}

// ProfitsWhenFloatingRises is true for the pay fixed leg.
func (d Direction) ProfitsWhenFloatingRises() bool {
	return d == DirectionPayFixed
}

func DirectionFromString(s string) (Direction, error) {
	switch s {
	case "pay-fixed", "PAY_FIXED":
		return DirectionPayFixed, nil
	case "pay-floating", "PAY_FLOATING":
		return DirectionPayFloating, nil
	}
	return DirectionUnspecified, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := DirectionFromString(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Position is one leveraged interest rate swap exposure.
type Position struct {
	ID        uint64
	Direction Direction
	// Notional is the reference principal, it is never transferred.
	Notional  *num.Uint
	FixedRate num.Decimal
	// Margin is the collateral posted against the position.
	Margin *num.Uint
	// AccumulatedPnL is the running total of realised settlements.
	AccumulatedPnL     *num.Int
	MaturityDays       uint32
	StartTime          time.Time
	Maturity           time.Time
	LastSettlementTime time.Time
	Active             bool
	// Version is bumped by every mutation of the position.
	Version uint64
}

func (p *Position) Clone() *Position {
	cpy := *p
	cpy.Notional = p.Notional.Clone()
	cpy.Margin = p.Margin.Clone()
	cpy.AccumulatedPnL = p.AccumulatedPnL.Clone()
	return &cpy
}

// IsMatured returns true once t reached the maturity of the position.
func (p *Position) IsMatured(t time.Time) bool {
	return !t.Before(p.Maturity)
}

func (p Position) String() string {
	return fmt.Sprintf(
		"position(id=%d direction=%s notional=%s fixed=%s margin=%s pnl=%s active=%t)",
		p.ID, p.Direction, p.Notional, p.FixedRate, p.Margin, p.AccumulatedPnL, p.Active,
	)
}

// OpenRequest carries the parameters of a new position.
type OpenRequest struct {
	Direction    Direction
	Notional     *num.Uint
	FixedRate    num.Decimal
	MaturityDays uint32
	Margin       *num.Uint
}

// Totals are the aggregate counters kept by the ledger.
type Totals struct {
	TotalMargin         *num.Uint
	PayFixedNotional    *num.Uint
	PayFloatingNotional *num.Uint
	ActivePositions     uint64
}

func (t Totals) Clone() Totals {
	return Totals{
		TotalMargin:         t.TotalMargin.Clone(),
		PayFixedNotional:    t.PayFixedNotional.Clone(),
		PayFloatingNotional: t.PayFloatingNotional.Clone(),
		ActivePositions:     t.ActivePositions,
	}
}
