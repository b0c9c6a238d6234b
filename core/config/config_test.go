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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ratevault/swapcore/core/config"
	"github.com/ratevault/swapcore/core/config/encoding"
	"github.com/ratevault/swapcore/core/keeper"
	vgfs "github.com/ratevault/swapcore/libs/fs"
	"github.com/ratevault/swapcore/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := config.NewDefaultConfig()
	cfg.Admin = "governance"
	cfg.Settlement.SettlementInterval = encoding.Duration{Duration: 4 * time.Hour}
	cfg.Risk.LiquidationThreshold = encoding.NewDecimal("1.1")
	cfg.Sources = []config.SourceConfig{
		{Name: "fixed", Kind: config.SourceStatic, Rate: encoding.NewDecimal("0.05")},
		{Name: "feed", Kind: config.SourceHTTP, URL: "http://localhost:8080/rate", Field: "rate"},
	}
	require.NoError(t, config.Save(path, cfg))

	got, err := config.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "governance", got.Admin)
	assert.Equal(t, 4*time.Hour, got.Settlement.SettlementInterval.Get())
	assert.True(t, got.Risk.LiquidationThreshold.Get().Equal(cfg.Risk.LiquidationThreshold.Get()))
	require.Len(t, got.Sources, 2)
	assert.True(t, got.Sources[0].Rate.Get().Equal(cfg.Sources[0].Rate.Get()))
	assert.Equal(t, "rate", got.Sources[1].Field)
}

func TestReadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Admin = \"ops\"\n\n[Keeper]\nIdentity = \"bot\"\n"), 0o600))

	cfg, err := config.Read(path)
	require.NoError(t, err)
	defaults := config.NewDefaultConfig()
	assert.Equal(t, "ops", cfg.Admin)
	assert.Equal(t, "bot", cfg.Keeper.Identity)
	assert.Equal(t, defaults.Keeper.Interval, cfg.Keeper.Interval)
	assert.Equal(t, defaults.Settlement.SettlementInterval, cfg.Settlement.SettlementInterval)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"no admin":     func(c *config.Config) { c.Admin = "" },
		"unknown kind": func(c *config.Config) { c.Sources = []config.SourceConfig{{Name: "a", Kind: "carrier-pigeon"}} },
		"no url":       func(c *config.Config) { c.Sources = []config.SourceConfig{{Name: "a", Kind: config.SourceStream}} },
		"duplicate": func(c *config.Config) {
			c.Sources = []config.SourceConfig{{Name: "a", Kind: config.SourceStatic}, {Name: "a", Kind: config.SourceStatic}}
		},
		"too many sources": func(c *config.Config) {
			for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
				c.Sources = append(c.Sources, config.SourceConfig{Name: n, Kind: config.SourceStatic})
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.Validate())

	for _, interval := range []time.Duration{0, -time.Second} {
		cfg := config.NewDefaultConfig()
		cfg.Keeper.Interval.Duration = interval
		assert.ErrorIs(t, cfg.Validate(), keeper.ErrInvalidInterval, interval.String())
	}
}

func TestWatcherReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := config.NewDefaultConfig()
	require.NoError(t, config.Save(path, cfg))

	w, err := config.NewFromFile(ctx, logging.NewTestLogger(), path)
	require.NoError(t, err)
	assert.Equal(t, "admin", w.Get().Admin)

	updates := make(chan config.Config, 8)
	w.OnConfigUpdate(func(c config.Config) { updates <- c })

	cfg.Admin = "rotated"
	require.NoError(t, config.Save(path, cfg))

	require.Eventually(t, func() bool {
		return w.Get().Admin == "rotated"
	}, 5*time.Second, 20*time.Millisecond)
	select {
	case c := <-updates:
		assert.Equal(t, "rotated", c.Admin)
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not called")
	}
	assert.GreaterOrEqual(t, w.Reloads(), uint64(1))

	// an invalid file keeps the last good configuration
	require.NoError(t, vgfs.WriteFile(path, []byte("Admin = \"\"\n")))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "rotated", w.Get().Admin)
}
