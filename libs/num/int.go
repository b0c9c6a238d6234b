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
	"math/big"
)

// Int a wrapper to a signed big int, the sign is kept
// apart from the magnitude which is a Uint.
type Int struct {
	// The unsigned version of the integer
	U *Uint
	// The sign of the integer true = positive, false = negative
	s bool
}

// IntZero returns a new Int set to 0.
func IntZero() *Int {
	return NewInt(0)
}

// NewInt creates a new Int with the value of the
// int64 passed as a parameter.
func NewInt(val int64) *Int {
	if val < 0 {
		return &Int{
			U: NewUint(uint64(-val)),
			s: false,
		}
	}
	return &Int{
		U: NewUint(uint64(val)),
		s: true,
	}
}

// IntFromUint creates a new Int with the value of the
// uint passed as a parameter, s is the sign.
func IntFromUint(u *Uint, s bool) *Int {
	return &Int{
		U: u.Clone(),
		s: s || u.IsZero(),
	}
}

// IntFromDecimal truncates d towards zero, returns true on overflow.
func IntFromDecimal(d Decimal) (*Int, bool) {
	u, overflow := UintFromBig(new(big.Int).Abs(d.BigInt()))
	if overflow {
		return IntZero(), true
	}
	return IntFromUint(u, !d.IsNegative()), false
}

// IsNegative tests if the stored value is negative
// true if < 0
// false if >= 0.
func (i *Int) IsNegative() bool {
	return !i.s && !i.U.IsZero()
}

// IsPositive tests if the stored value is positive
// true if > 0
// false if <= 0.
func (i *Int) IsPositive() bool {
	return i.s && !i.U.IsZero()
}

// IsZero tests if the stored value is zero
// true if == 0.
func (i *Int) IsZero() bool {
	return i.U.IsZero()
}

// FlipSign changes the sign of the number from - to + and back again.
func (i *Int) FlipSign() {
	i.s = !i.s
}

// Clone creates a copy of the object so nothing is shared.
func (i Int) Clone() *Int {
	return &Int{
		U: i.U.Clone(),
		s: i.s,
	}
}

// Abs returns a copy of the magnitude.
func (i *Int) Abs() *Uint {
	return i.U.Clone()
}

// GT returns if i > o.
func (i Int) GT(o *Int) bool {
	return i.Cmp(o) > 0
}

// LT returns if i < o.
func (i Int) LT(o *Int) bool {
	return i.Cmp(o) < 0
}

// EQ returns if i == o.
func (i Int) EQ(o *Int) bool {
	return i.Cmp(o) == 0
}

// Cmp returns -1, 0 or 1 depending on i being smaller, equal or greater than o.
func (i Int) Cmp(o *Int) int {
	in, on := i.IsNegative(), o.IsNegative()
	switch {
	case in && !on:
		return -1
	case !in && on:
		return 1
	case in && on:
		// both negative, the larger magnitude is the smaller value
		switch {
		case i.U.GT(o.U):
			return -1
		case i.U.LT(o.U):
			return 1
		}
		return 0
	}
	switch {
	case i.U.GT(o.U):
		return 1
	case i.U.LT(o.U):
		return -1
	}
	return 0
}

// String returns a string version of the number.
func (i Int) String() string {
	if i.IsNegative() {
		return "-" + i.U.String()
	}
	return i.U.String()
}

// Add will add the passed in value to the base value
// i = i + a.
func (i *Int) Add(a *Int) *Int {
	// Handle cases where we have a zero
	if a.IsZero() {
		return i
	}
	if i.IsZero() {
		i.U.Set(a.U)
		i.s = a.s
		return i
	}

	// Handle the easy cases were both are the same sign
	if i.s == a.s {
		i.U.Add(i.U, a.U)
		return i
	}

	// Now the cases where the signs are different
	if i.U.GTE(a.U) {
		// abs(i) >= abs(a) so the sign of i wins
		i.U.Sub(i.U, a.U)
	} else {
		i.U.Sub(a.U, i.U)
		i.s = a.s
	}
	if i.U.IsZero() {
		i.s = true
	}
	return i
}

// Sub will subtract the passed in value from the base value
// i = i - a.
func (i *Int) Sub(a *Int) *Int {
	b := a.Clone()
	b.FlipSign()
	return i.Add(b)
}

// AddSum adds all of the parameters to i
// i = i + a + b + c.
func (i *Int) AddSum(vals ...*Int) *Int {
	for _, x := range vals {
		i.Add(x)
	}
	return i
}

// ToDecimal returns the value as a Decimal.
func (i *Int) ToDecimal() Decimal {
	return DecimalFromInt(i)
}

func (i Int) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Int) UnmarshalText(text []byte) error {
	b, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return fmt.Errorf("invalid int value %q", string(text))
	}
	u, overflow := UintFromBig(new(big.Int).Abs(b))
	if overflow {
		return fmt.Errorf("%w: %q", ErrOverflow, string(text))
	}
	i.U = u
	i.s = b.Sign() >= 0
	return nil
}
