// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package db

import (
	"errors"
	"sync"
)

// broadcastCapacity bounds how many not-yet-fully-delivered messages a
// channel retains. Once full, publishing a new message drops the oldest
// one, same as mini-redis's broadcast::channel(1024).
const broadcastCapacity = 1024

// ErrLagged is returned by Receiver.Recv when the caller fell behind the
// ring's retention window: the messages it missed have already been
// overwritten. The receiver fast-forwards to the oldest still-retained
// message and can keep receiving.
var ErrLagged = errors.New("receiver lagged and missed messages")

// errClosed is returned by Receiver.Recv once the broadcaster has been
// closed and every retained message has been delivered to this receiver.
var errClosed = errors.New("broadcaster closed")

// ErrUnsubscribed is returned by Receiver.Recv after Close has been
// called on that same Receiver, waking a goroutine that was blocked
// inside Recv so it does not leak for the remaining, unbounded lifetime
// of the channel (pub/sub channels are never torn down, per this
// system's retention policy).
var ErrUnsubscribed = errors.New("receiver unsubscribed")

// broadcaster is a single publish/subscribe channel: a fixed-capacity
// ring buffer of messages, each subscriber tracked only by a read cursor
// (a monotonically increasing sequence number), guarded by one mutex and
// a condition variable used to wake receivers blocked on an empty ring.
// This is the Go analogue of tokio::sync::broadcast, which the standard
// library and this module's dependency set have no equivalent of.
type broadcaster struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   [][]byte
	base   uint64 // sequence number of ring[0]
	next   uint64 // sequence number the next published message will get
	refs   int    // number of live Receivers, for publish's subscriber count
	closed bool
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{ring: make([][]byte, 0, broadcastCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// publish appends value to the ring, evicting the oldest message if the
// ring is full, and returns the number of receivers live at the instant
// of the call (spec.md: "the number of receivers active at the instant
// the send was attempted").
func (b *broadcaster) publish(value []byte) int {
	b.mu.Lock()
	if len(b.ring) == broadcastCapacity {
		b.ring = b.ring[1:]
		b.base++
	}
	b.ring = append(b.ring, value)
	b.next++
	n := b.refs
	b.mu.Unlock()
	b.cond.Broadcast()
	return n
}

// subscribe returns a Receiver positioned at the current write cursor:
// it will only observe messages published after this call.
func (b *broadcaster) subscribe() *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
	return &Receiver{b: b, cursor: b.next}
}

// close wakes every blocked receiver so they can observe the broadcaster
// is closed and return.
func (b *broadcaster) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Receiver observes messages published to one channel after the moment
// it was created via Db.Subscribe.
type Receiver struct {
	b       *broadcaster
	cursor  uint64
	stopped bool
}

// Recv blocks until a message is available, the receiver has lagged past
// the retention window (ErrLagged, after which it is repositioned at the
// oldest retained message), the broadcaster has been closed and drained
// (errClosed), or Close has been called on this Receiver (ErrUnsubscribed).
func (r *Receiver) Recv() ([]byte, error) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if r.stopped {
			return nil, ErrUnsubscribed
		}
		if r.cursor < b.base {
			// Missed messages that have already been evicted: fast-forward
			// and report the gap once.
			r.cursor = b.base
			return nil, ErrLagged
		}
		if r.cursor < b.next {
			msg := b.ring[r.cursor-b.base]
			r.cursor++
			return msg, nil
		}
		if b.closed {
			return nil, errClosed
		}
		b.cond.Wait()
	}
}

// Close releases this receiver's hold on the channel's live-subscriber
// count and wakes it if it is currently blocked in Recv, so the goroutine
// driving that Recv loop can exit instead of leaking for the unbounded
// remaining lifetime of the channel.
func (r *Receiver) Close() {
	r.b.mu.Lock()
	r.b.refs--
	r.stopped = true
	r.b.mu.Unlock()
	r.b.cond.Broadcast()
}
