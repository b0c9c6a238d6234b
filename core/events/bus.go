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

package events

import (
	"context"

	vgcontext "github.com/ratevault/swapcore/libs/context"
)

type Type int

const (
	// All event type -> used by subscribers to just receive all events, has no actual corresponding event payload.
	All Type = iota
	PositionOpenedEvent
	PositionUpdatedEvent
	PositionClosedEvent
	PositionSettledEvent
	PositionLiquidatedEvent
	OwnershipTransferredEvent
	RateUpdatedEvent
	CircuitBreakerEvent
	TransferEvent
	KeeperRoundEvent
)

var eventStrings = map[Type]string{
	All:                       "ALL",
	PositionOpenedEvent:       "PositionOpenedEvent",
	PositionUpdatedEvent:      "PositionUpdatedEvent",
	PositionClosedEvent:       "PositionClosedEvent",
	PositionSettledEvent:      "PositionSettledEvent",
	PositionLiquidatedEvent:   "PositionLiquidatedEvent",
	OwnershipTransferredEvent: "OwnershipTransferredEvent",
	RateUpdatedEvent:          "RateUpdatedEvent",
	CircuitBreakerEvent:       "CircuitBreakerEvent",
	TransferEvent:             "TransferEvent",
	KeeperRoundEvent:          "KeeperRoundEvent",
}

func (t Type) String() string {
	s, ok := eventStrings[t]
	if !ok {
		return "UNKNOWN EVENT"
	}
	return s
}

// Event - the base event interface type.
type Event interface {
	Type() Type
	Context() context.Context
	TraceID() string
	Sequence() uint64
	SetSequenceID(s uint64)
}

// Base common denominator all events share.
type Base struct {
	ctx     context.Context
	traceID string
	seq     uint64
	et      Type
}

// A base event holds no data, so the constructor will not be called directly.
func newBase(ctx context.Context, t Type) *Base {
	ctx, tID := vgcontext.TraceIDFromContext(ctx)
	return &Base{
		ctx:     ctx,
		traceID: tID,
		et:      t,
	}
}

// TraceID returns the... traceID obviously.
func (b Base) TraceID() string {
	return b.traceID
}

func (b *Base) SetSequenceID(s uint64) {
	// sequence ID can only be set once
	if b.seq != 0 {
		return
	}
	b.seq = s
}

// Sequence returns event sequence number.
func (b Base) Sequence() uint64 {
	return b.seq
}

// Context returns context.
func (b Base) Context() context.Context {
	return b.ctx
}

// Type returns the event type.
func (b Base) Type() Type {
	return b.et
}
