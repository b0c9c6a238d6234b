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

package num

import (
	"fmt"
	"strings"
)

// Numeric holds a value reported by an external feed, either as a
// wad-scaled integer ("50000000000000000") or as a plain decimal ("0.05").
type Numeric struct {
	asUint    *Uint
	asDecimal *Decimal
}

func (n *Numeric) Clone() *Numeric {
	nn := &Numeric{}
	if n.asUint != nil {
		nn.asUint = n.asUint.Clone()
	}
	if n.asDecimal != nil {
		decimal := *n.asDecimal
		nn.asDecimal = &decimal
	}
	return nn
}

func (n *Numeric) String() string {
	if n.asUint != nil {
		return n.asUint.String()
	}
	if n.asDecimal != nil {
		return n.asDecimal.String()
	}

	return ""
}

func NumericToString(n *Numeric) string {
	if n == nil {
		return ""
	}

	return n.String()
}

func NumericFromString(s string) (*Numeric, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	// Check if the provided string contains a ".", because if it does not,
	// the DecimalFromString will return it as int
	if strings.Contains(s, ".") {
		d, err := DecimalFromString(s)
		if err != nil {
			return nil, fmt.Errorf("error obtaining decimal from string: %s", err.Error())
		}
		return &Numeric{
			asDecimal: &d,
		}, nil
	}

	u, overflow := UintFromString(s, 10)
	if overflow {
		return nil, fmt.Errorf("%w: invalid integer %q", ErrOverflow, s)
	}

	return &Numeric{
		asUint: u,
	}, nil
}

// Rate returns the value as a fraction, integers are read as wad values.
func (n *Numeric) Rate() (Decimal, error) {
	if n.asDecimal != nil {
		return *n.asDecimal, nil
	}
	if n.asUint != nil {
		return DecimalFromWad(n.asUint), nil
	}
	return DecimalZero(), fmt.Errorf("empty numeric value")
}

func (n *Numeric) SetUint(u *Uint) *Numeric {
	n.asUint = u
	n.asDecimal = nil
	return n
}

func (n *Numeric) SetDecimal(d *Decimal) *Numeric {
	n.asDecimal = d
	n.asUint = nil

	return n
}

func (n *Numeric) Decimal() *Decimal {
	if n.asDecimal == nil {
		return nil
	}
	d := *n.asDecimal
	return &d
}

func (n *Numeric) Uint() *Uint {
	if n.asUint == nil {
		return nil
	}
	u := *n.asUint
	return &u
}

func (n *Numeric) IsDecimal() bool {
	return n.asDecimal != nil
}

func (n *Numeric) IsUint() bool {
	return n.asUint != nil
}
