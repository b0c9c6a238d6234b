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

// RateObservation is one entry of the oracle's append-only log.
// Cumulative is the integral of the rate over time, in rate x seconds.
type RateObservation struct {
	Timestamp  time.Time
	Rate       num.Decimal
	Cumulative num.Decimal
}

// IsValidRate returns true for a rate in (0, 1].
func IsValidRate(r num.Decimal) bool {
	return r.IsPositive() && r.LessThanOrEqual(num.DecimalOne())
}
