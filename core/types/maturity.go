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

const (
	SecondsPerDay  = 24 * 60 * 60
	SecondsPerYear = 365 * SecondsPerDay
)

var allowedMaturities = []uint32{30, 90, 180, 365}

// AllowedMaturities returns the tenors, in days, a position can be opened with.
func AllowedMaturities() []uint32 {
	out := make([]uint32, len(allowedMaturities))
	copy(out, allowedMaturities)
	return out
}

func IsValidMaturity(days uint32) bool {
	for _, d := range allowedMaturities {
		if d == days {
			return true
		}
	}
	return false
}

// MaturityFrom returns the maturity time of a position opened at start.
func MaturityFrom(start time.Time, days uint32) time.Time {
	return start.Add(time.Duration(days) * SecondsPerDay * time.Second)
}

// YearFraction is the ACT/365 fraction of a year covered by d.
func YearFraction(d time.Duration) num.Decimal {
	if d <= 0 {
		return num.DecimalZero()
	}
	secs := num.DecimalFromInt64(int64(d / time.Second))
	return secs.Div(num.DecimalFromInt64(SecondsPerYear))
}
