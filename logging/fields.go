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

package logging

import (
	"fmt"
	"time"

	"github.com/ratevault/swapcore/libs/num"

	"go.uber.org/zap"
)

// Binary constructs a field that carries an opaque binary blob.
func Binary(key string, val []byte) zap.Field {
	return zap.Binary(key, val)
}

// Bool constructs a field that carries a bool.
func Bool(key string, val bool) zap.Field {
	return zap.Bool(key, val)
}

// Duration constructs a field with the given key and value.
func Duration(key string, val time.Duration) zap.Field {
	return zap.Duration(key, val)
}

// Error constructs a field that carries an error.
func Error(val error) zap.Field {
	return zap.Error(val)
}

// Int constructs a field with the given key and value.
func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

// Int64 constructs a field with the given key and value.
func Int64(key string, val int64) zap.Field {
	return zap.Int64(key, val)
}

// String constructs a field with the given key and value.
func String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Strings constructs a field with the given key and value.
func Strings(key string, val []string) zap.Field {
	return zap.Strings(key, val)
}

// Time constructs a field with the given key and value.
func Time(key string, val time.Time) zap.Field {
	return zap.Time(key, val)
}

// Uint64 constructs a field with the given key and value.
func Uint64(key string, val uint64) zap.Field {
	return zap.Uint64(key, val)
}

// BigUint constructs a field with the given key and value.
func BigUint(key string, val *num.Uint) zap.Field {
	if val == nil {
		return zap.String(key, "nil")
	}
	return zap.String(key, val.String())
}

// BigInt constructs a field with the given key and value.
func BigInt(key string, val *num.Int) zap.Field {
	if val == nil {
		return zap.String(key, "nil")
	}
	return zap.String(key, val.String())
}

// Decimal constructs a field with the given key and value.
func Decimal(key string, val num.Decimal) zap.Field {
	return zap.String(key, val.String())
}

// PositionID constructs a field with the given position id.
func PositionID(id uint64) zap.Field {
	return zap.Uint64("position-id", id)
}

// PositionIDs constructs a field with a list of position ids.
func PositionIDs(ids []uint64) zap.Field {
	return zap.String("position-ids", fmt.Sprint(ids))
}

// Party constructs a field with the given party.
func Party(party string) zap.Field {
	return zap.String("party", party)
}

// Source constructs a field with the name of a rate source.
func Source(name string) zap.Field {
	return zap.String("source", name)
}

// TraceID constructs a field with an event trace id.
func TraceID(id string) zap.Field {
	return zap.String("trace-id", id)
}
