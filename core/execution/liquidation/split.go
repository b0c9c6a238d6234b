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
	"fmt"

	"github.com/ratevault/swapcore/libs/num"
)

// Split is how a liquidation divides the margin it seizes.
type Split struct {
	Seized *num.Uint
	// Reward goes to the liquidator, the rest of Seized to the protocol.
	Reward      *num.Uint
	ProtocolFee *num.Uint
	Bonus       *num.Uint
}

// ProtocolShare is what the protocol keeps out of the seized margin.
func (s *Split) ProtocolShare() *num.Uint {
	return num.UintZero().Sub(s.Seized, s.Reward)
}

// checkSolvency enforces reward <= seized <= margin.
func checkSolvency(margin, seized, reward *num.Uint) error {
	if seized.GT(margin) {
		return fmt.Errorf("%w: seized %s of margin %s", ErrSolvencyViolation, seized, margin)
	}
	if reward.GT(seized) {
		return fmt.Errorf("%w: reward %s above seized %s", ErrSolvencyViolation, reward, seized)
	}
	return nil
}

// ComputeSplit returns the split of a liquidation of a position holding
// margin. A nil requested amount seizes the configured maximum.
func ComputeSplit(cfg Config, margin, requested *num.Uint) (*Split, error) {
	ceiling, err := num.MulFrac(margin, cfg.MaxLiquidationRatio.Get())
	if err != nil {
		return nil, err
	}
	seized := num.Min(ceiling, margin).Clone()
	if requested != nil {
		seized = num.Min(seized, requested).Clone()
	}

	feeRatio := cfg.ProtocolFee.Get()
	fee, err := num.MulFrac(seized, feeRatio)
	if err != nil {
		return nil, err
	}
	bonus, err := num.MulFrac(seized, num.MinD(cfg.LiquidationBonus.Get(), feeRatio))
	if err != nil {
		return nil, err
	}

	reward := num.UintZero().Sub(seized, num.Min(fee, seized))
	reward.AddSum(bonus)
	if reward.GT(seized) {
		reward = seized.Clone()
	}
	if err := checkSolvency(margin, seized, reward); err != nil {
		return nil, err
	}
	return &Split{
		Seized:      seized,
		Reward:      reward,
		ProtocolFee: fee,
		Bonus:       bonus,
	}, nil
}
