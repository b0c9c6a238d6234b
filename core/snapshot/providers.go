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
	"context"

	"golang.org/x/exp/slices"
)

// Provider is an engine whose state is part of a snapshot.
type Provider interface {
	Namespace() string
	GetState() ([]byte, error)
	LoadState(ctx context.Context, buf []byte) error
}

// providersInCallOrder holds the providers namespace in the order in which
// they must be restored. Unknown namespaces are restored after, by name.
var providersInCallOrder = []string{
	"collateral",
	"ownership", // Needs to happen before positions.
	"positions",
	"oracles",
}

func orderNamespaces(namespaces []string) []string {
	rank := func(ns string) int {
		if i := slices.Index(providersInCallOrder, ns); i >= 0 {
			return i
		}
		return len(providersInCallOrder)
	}
	out := slices.Clone(namespaces)
	slices.SortFunc(out, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return out
}
