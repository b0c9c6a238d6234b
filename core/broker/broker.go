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

package broker

import (
	"sync"

	"github.com/ratevault/swapcore/core/events"
	"github.com/ratevault/swapcore/logging"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Subscriber receives the events of the types it asked for. An empty
// Types list, or one containing events.All, receives everything.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/subscriber_mock.go -package mocks github.com/ratevault/swapcore/core/broker Subscriber
type Subscriber interface {
	Push(evts ...events.Event)
	Types() []events.Type
}

// BrokerI interface (horribly named) is declared here to provide a drop-in replacement for broker mocks used throughout.
//
//go:generate go run github.com/golang/mock/mockgen -destination mocks/broker_mock.go -package mocks github.com/ratevault/swapcore/core/broker BrokerI
type BrokerI interface {
	Send(event events.Event)
	SendBatch(events []events.Event)
	Subscribe(s Subscriber) int
	Unsubscribe(k int)
}

// Broker fans out events to subscribers synchronously, in subscription
// order. Every event gets a sequence number unique to this broker.
type Broker struct {
	log *logging.Logger

	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]Subscriber
}

// New creates a new base broker.
func New(log *logging.Logger, config Config) *Broker {
	log = log.Named(namedLogger)
	log.SetLevel(config.Level.Get())

	b := &Broker{
		log:  log,
		subs: map[int]Subscriber{},
	}
	if config.LogEvents {
		b.Subscribe(NewLogSubscriber(log))
	}
	return b
}

// Subscribe registers s and returns the id to unsubscribe it with.
func (b *Broker) Subscribe(s Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = s
	return b.nextID
}

func (b *Broker) Unsubscribe(k int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, k)
}

// Send sends an event to all subscribers interested in its type.
func (b *Broker) Send(event events.Event) {
	b.SendBatch([]events.Event{event})
}

// SendBatch sends a slice of events, they keep their relative order.
func (b *Broker) SendBatch(evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	b.mu.Lock()
	for _, e := range evts {
		b.seq++
		e.SetSequenceID(b.seq)
	}
	keys := maps.Keys(b.subs)
	slices.Sort(keys)
	subs := make([]Subscriber, 0, len(keys))
	for _, k := range keys {
		subs = append(subs, b.subs[k])
	}
	b.mu.Unlock()

	for _, s := range subs {
		if filtered := filter(s.Types(), evts); len(filtered) > 0 {
			s.Push(filtered...)
		}
	}
}

func filter(types []events.Type, evts []events.Event) []events.Event {
	if len(types) == 0 || slices.Contains(types, events.All) {
		return evts
	}
	out := make([]events.Event, 0, len(evts))
	for _, e := range evts {
		if slices.Contains(types, e.Type()) {
			out = append(out, e)
		}
	}
	return out
}
