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
	"errors"
	"fmt"
)

var (
	// ErrOverflow is returned when a value does not fit in the target type.
	ErrOverflow = errors.New("numeric overflow")
	// ErrNegative is returned when a negative value is narrowed into an unsigned type.
	ErrNegative = errors.New("negative value for unsigned amount")
	// ErrDivisionByZero is returned on a zero denominator.
	ErrDivisionByZero = errors.New("division by zero")
)

// ToUint narrows d into a Uint, flooring any fractional part. It fails
// instead of wrapping when d is negative or wider than 256 bits.
func ToUint(d Decimal) (*Uint, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	u, overflow := UintFromDecimal(d.Floor())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return u, nil
}

// ToInt narrows d into an Int, truncating towards zero.
func ToInt(d Decimal) (*Int, error) {
	i, overflow := IntFromDecimal(d.Truncate(0))
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return i, nil
}

// MulFrac returns floor(x * f) for a non negative fraction f.
func MulFrac(x *Uint, f Decimal) (*Uint, error) {
	return ToUint(x.ToDecimal().Mul(f))
}

// MulFracCeil returns ceil(x * f) for a non negative fraction f.
func MulFracCeil(x *Uint, f Decimal) (*Uint, error) {
	return ToUint(x.ToDecimal().Mul(f).Ceil())
}

// AddChecked returns a + b in a new Uint or ErrOverflow.
func AddChecked(a, b *Uint) (*Uint, error) {
	r, overflow := UintZero().AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return r, nil
}

// SubChecked returns a - b in a new Uint or ErrNegative when b > a.
func SubChecked(a, b *Uint) (*Uint, error) {
	r, underflow := UintZero().SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrNegative, a, b)
	}
	return r, nil
}

// MulChecked returns a * b in a new Uint or ErrOverflow.
func MulChecked(a, b *Uint) (*Uint, error) {
	r, overflow := UintZero().MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, a, b)
	}
	return r, nil
}

// Ratio returns a / b as a Decimal with the given precision.
func Ratio(a, b Decimal, precision int32) (Decimal, error) {
	if b.IsZero() {
		return DecimalZero(), ErrDivisionByZero
	}
	return a.DivRound(b, precision), nil
}
