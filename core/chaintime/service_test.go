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

package chaintime_test

import (
	"context"
	"testing"
	"time"

	"github.com/ratevault/swapcore/core/chaintime"

	"github.com/stretchr/testify/assert"
)

func TestTimeService(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("advance and notify", func(t *testing.T) {
		svc := chaintime.New(start)
		var ticks []time.Time
		svc.NotifyOnTick(func(_ context.Context, t time.Time) {
			ticks = append(ticks, t)
		})

		next := svc.Advance(ctx, 24*time.Hour)
		assert.Equal(t, start.Add(24*time.Hour), next)
		assert.Equal(t, next, svc.GetTimeNow())
		assert.Equal(t, start, svc.GetTimeLastBatch())
		assert.Equal(t, []time.Time{next}, ticks)
	})

	t.Run("never goes backwards", func(t *testing.T) {
		svc := chaintime.New(start)
		svc.SetTimeNow(ctx, start.Add(-time.Hour))
		assert.Equal(t, start, svc.GetTimeNow())
	})

	t.Run("wall clock", func(t *testing.T) {
		svc := chaintime.NewWallClock()
		before := time.Now().UTC()
		assert.False(t, svc.GetTimeNow().Before(before))
	})
}
