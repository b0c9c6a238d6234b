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

package ownership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/logging"

	"github.com/goccy/go-json"
)

const namedLogger = "ownership"

var (
	ErrAlreadyMinted    = errors.New("position already has an owner")
	ErrUnknownPosition  = errors.New("position has no owner")
	ErrNotOwner         = errors.New("caller does not own the position")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Broker send events.
type Broker interface {
	Send(event events.Event)
}

// Registry records which party holds each position. It knows nothing
// about position state: closing a position leaves its owner in place.
type Registry struct {
	log    *logging.Logger
	broker Broker

	mu     sync.RWMutex
	owners map[uint64]string
}

func New(log *logging.Logger, broker Broker) *Registry {
	return &Registry{
		log:    log.Named(namedLogger),
		broker: broker,
		owners: map[uint64]string{},
	}
}

// Mint assigns the first owner of a position.
func (r *Registry) Mint(ctx context.Context, id uint64, owner string) error {
	if owner == "" {
		return ErrInvalidRecipient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyMinted, id)
	}
	r.owners[id] = owner
	return nil
}

func (r *Registry) OwnerOf(id uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	return owner, nil
}

// Transfer hands the position over to a new owner, only the current
// owner can do so.
func (r *Registry) Transfer(ctx context.Context, caller string, id uint64, to string) error {
	if to == "" {
		return ErrInvalidRecipient
	}
	r.mu.Lock()
	owner, ok := r.owners[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	if owner != caller {
		r.mu.Unlock()
		return ErrNotOwner
	}
	r.owners[id] = to
	r.mu.Unlock()

	r.log.Debug("ownership transferred",
		logging.PositionID(id),
		logging.String("from", owner),
		logging.String("to", to),
	)
	r.broker.Send(events.NewOwnershipTransferred(ctx, id, owner, to))
	return nil
}

// PositionsOf returns the ids held by owner in ascending order.
func (r *Registry) PositionsOf(owner string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := []uint64{}
	for id, o := range r.owners {
		if o == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Namespace() string {
	return "ownership"
}

func (r *Registry) GetState() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(r.owners)
}

func (r *Registry) LoadState(_ context.Context, buf []byte) error {
	owners := map[uint64]string{}
	if err := json.Unmarshal(buf, &owners); err != nil {
		return fmt.Errorf("could not deserialise owners: %w", err)
	}
	r.mu.Lock()
	r.owners = owners
	r.mu.Unlock()
	return nil
}
