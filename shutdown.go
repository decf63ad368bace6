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

package kelvin

// Shutdown is a one-shot broadcast: every Handler (and any subscribe
// session it runs) holds a *Shutdown and selects on Done() alongside its
// own work. The Db's sweeper does not use it; it stops through db.Guard. Trigger closes the channel exactly once, waking every observer
// simultaneously — the Go analogue of the teacher's close-channel
// shutdown idiom (tenant.Manager's done channel), generalized to more
// than one goroutine per signal.
type Shutdown struct {
	ch        chan struct{}
	triggered bool
}

// NewShutdown returns an untriggered Shutdown.
func NewShutdown() *Shutdown {
	return &Shutdown{ch: make(chan struct{})}
}

// Done returns a channel that is closed once Trigger has been called.
// Safe to call concurrently with Trigger and with itself.
func (s *Shutdown) Done() <-chan struct{} {
	return s.ch
}

// Trigger fires the shutdown signal. Calling it more than once is a
// programmer error and panics, matching the single-producer contract the
// coordinator (server.Run) upholds: only one code path ever decides to
// shut down.
func (s *Shutdown) Trigger() {
	if s.triggered {
		panic("kelvin: Shutdown triggered more than once")
	}
	s.triggered = true
	close(s.ch)
}

// IsShutdown reports whether Trigger has already run. Racy by design if
// called concurrently with Trigger from outside the triggering goroutine;
// callers needing a synchronization point should select on Done() instead.
func (s *Shutdown) IsShutdown() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
