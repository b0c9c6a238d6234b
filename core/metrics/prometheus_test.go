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

package metrics_test

import (
	"testing"
	"time"

	"github.com/ratevault/swapcore/core/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupIsIdempotent(t *testing.T) {
	require.NoError(t, metrics.Setup())
	require.NoError(t, metrics.Setup())

	assert.NotPanics(t, func() {
		metrics.OracleUpdateInc("ok")
		metrics.CircuitBreakerSet(true)
		metrics.CircuitBreakerSet(false)
		metrics.SettlementInc("ok")
		metrics.LiquidationInc("full")
		metrics.ActivePositionsSet(3)
		metrics.ObserveSettlementBatch(time.Millisecond)
		metrics.NewTimeCounter("settlement", "Settle").EngineTimeCounterAdd()
	})
}

func TestStartDisabled(t *testing.T) {
	srv, err := metrics.Start(metrics.NewDefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, srv)
}
