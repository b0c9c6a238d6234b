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

package snapshot

import (
	"errors"

	"github.com/ratevault/swapcore/core/config/encoding"
	vgfs "github.com/ratevault/swapcore/libs/fs"
	"github.com/ratevault/swapcore/logging"
)

const (
	namedLogger = "snapshot"
	goLevelDB   = "GOLevelDB"
	memDB       = "memory"
)

var ErrInvalidStorage = errors.New("invalid snapshot storage method")

type Config struct {
	Level      encoding.LogLevel `long:"log-level"`
	KeepRecent int               `long:"keep-recent" description:"Number of snapshots to keep in the store"`
	Storage    string            `long:"storage" choice:"GOLevelDB" choice:"memory" description:"Storage type to use"`
	DBPath     string            `long:"db-path" description:"Path to the snapshot database directory"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:      encoding.LogLevel{Level: logging.InfoLevel},
		KeepRecent: 10,
		Storage:    goLevelDB,
		DBPath:     "snapshots",
	}
}

func NewTestConfig() Config {
	cfg := NewDefaultConfig()
	cfg.Storage = memDB
	cfg.DBPath = ""
	return cfg
}

// Validate checks the values in the config are sensible.
func (c *Config) Validate() error {
	if c.KeepRecent < 1 {
		return errors.New("at least one snapshot must be kept")
	}
	switch c.Storage {
	case memDB:
		if len(c.DBPath) != 0 {
			return errors.New("db path cannot be set when storage method is in-memory")
		}
		return nil
	case goLevelDB:
		if len(c.DBPath) == 0 {
			return errors.New("db path is required for GOLevelDB storage")
		}
		isFile, err := vgfs.FileExists(c.DBPath)
		if errors.Is(err, vgfs.ErrIsADirectory) {
			return nil
		}
		if err != nil {
			return err
		}
		if isFile {
			return errors.New("snapshot DB path is not a directory")
		}
		return nil
	default:
		return ErrInvalidStorage
	}
}
