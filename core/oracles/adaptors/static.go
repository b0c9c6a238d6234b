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

package adaptors

import (
	"context"
	"errors"
	"sync"

	"github.com/ratevault/swapcore/libs/num"
)

var (
	ErrNoRate         = errors.New("source has no rate")
	ErrSourceDisabled = errors.New("source is disabled")
)

// StaticSource reports whatever rate it was last given. It backs manual
// feeds and collaborators such as a lending pool pushing its borrow rate.
type StaticSource struct {
	mu   sync.RWMutex
	rate *num.Decimal
	err  error
}

func NewStaticSource(rate num.Decimal) *StaticSource {
	return &StaticSource{rate: &rate}
}

// Set updates the reported rate and clears any failure.
func (s *StaticSource) Set(rate num.Decimal) {
	s.mu.Lock()
	s.rate = &rate
	s.err = nil
	s.mu.Unlock()
}

// Fail makes every read return err until Set is called again.
func (s *StaticSource) Fail(err error) {
	if err == nil {
		err = ErrSourceDisabled
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticSource) CurrentRate(_ context.Context) (num.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return num.DecimalZero(), s.err
	}
	if s.rate == nil {
		return num.DecimalZero(), ErrNoRate
	}
	return *s.rate, nil
}

// FuncSource adapts a function into a rate source.
type FuncSource func(ctx context.Context) (num.Decimal, error)

func (f FuncSource) CurrentRate(ctx context.Context) (num.Decimal, error) {
	return f(ctx)
}
