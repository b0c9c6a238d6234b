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

package main

import (
	"context"
	"fmt"

	"github.com/ratevault/swapcore/core/config"
	"github.com/ratevault/swapcore/core/config/encoding"
	vgfs "github.com/ratevault/swapcore/libs/fs"

	"github.com/jessevdk/go-flags"
)

type initCmd struct {
	Output string `long:"output" short:"o" default:"swapcore.toml" description:"path of the configuration file to create"`
	Force  bool   `long:"force" short:"f" description:"overwrite an existing configuration file"`
}

func (opts *initCmd) Execute(_ []string) error {
	exists, err := vgfs.FileExists(opts.Output)
	if err != nil {
		return err
	}
	if exists && !opts.Force {
		return fmt.Errorf("configuration file %s already exists, use --force to overwrite it", opts.Output)
	}

	cfg := config.NewDefaultConfig()
	cfg.Sources = []config.SourceConfig{
		{Name: "fixed", Kind: config.SourceStatic, Rate: encoding.NewDecimal("0.05")},
	}
	if err := config.Save(opts.Output, cfg); err != nil {
		return err
	}
	fmt.Printf("configuration written to %s\n", opts.Output)
	return nil
}

func Init(_ context.Context, parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"init",
		"Create a default configuration file",
		"Write the default configuration, with a single static rate source, to a toml file",
		&initCmd{},
	)
	return err
}
