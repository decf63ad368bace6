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

// Package db implements the shared, mutex-guarded key/value and
// publish/subscribe state that every connection handler operates on, plus
// the background sweeper goroutine that purges expired keys.
package db

import (
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

type entry struct {
	data      []byte
	expiresAt time.Time // zero value means no expiry
}

type expiration struct {
	when time.Time
	key  string
}

// state is the mutex-guarded heart of Db. The lock is held only for
// short, non-blocking critical sections — no I/O and no channel sends
// happen while it is held, matching the teacher's convention of using a
// plain sync.Mutex (not an async-aware one) because nothing ever awaits
// inside the critical section.
type state struct {
	entries     map[string]entry
	pubSub      map[string]*broadcaster
	expirations []expiration // kept sorted by (when, key)
	shutdown    bool
}

// Db is the shared, cloneable handle every connection operates on. Its
// zero value is not usable; construct one with New.
type Db struct {
	mu     sync.Mutex
	cond   *sync.Cond // signals the sweeper: a new earliest expiration was set, or shutdown
	st     state
	logger *log.Logger
}

// Option configures a Db at construction time, following the teacher's
// functional-options convention (tenant.Option).
type Option func(*Db)

// WithLogger attaches a logger used for sweeper diagnostics. A nil
// logger (the default) disables this logging entirely.
func WithLogger(l *log.Logger) Option {
	return func(d *Db) { d.logger = l }
}

// New builds a Db and starts its background expiration sweeper. Db itself
// has no exported way to stop the sweeper; build it through NewGuard and
// call Guard.Close when finished to stop the sweeper goroutine.
func New(opts ...Option) *Db {
	d := &Db{
		st: state{
			entries: make(map[string]entry),
			pubSub:  make(map[string]*broadcaster),
		},
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	go d.sweep()
	return d
}

// Guard wraps a Db so that its sweeper goroutine is shut down exactly
// once when Close is called, the Go analogue of the original's
// DbDropGuard (Go has no destructors, so shutdown must be explicit).
type Guard struct {
	Db *Db
}

// NewGuard builds a Db and its owning Guard.
func NewGuard(opts ...Option) *Guard {
	return &Guard{Db: New(opts...)}
}

// Close signals the sweeper to exit. Safe to call exactly once.
func (g *Guard) Close() {
	g.Db.shutdown()
}

// Get returns the value associated with key and whether it was present.
// Per the sweeper-only expiry design (spec.md §9), Get does not itself
// check ExpiresAt: an entry that has logically expired but has not yet
// been swept is still returned.
func (d *Db) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.st.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Set stores value under key, replacing and clearing any prior
// expiration. A zero ttl means the key never expires. A positive ttl
// schedules deletion ttl from now; the sweeper is woken only if this
// insertion becomes the new earliest expiration, to avoid waking it on
// every write.
func (d *Db) Set(key string, value []byte, ttl time.Duration) {
	d.mu.Lock()

	var expiresAt time.Time
	notify := false
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
		if len(d.st.expirations) == 0 || expiresAt.Before(d.st.expirations[0].when) {
			notify = true
		}
	}

	prev, hadPrev := d.st.entries[key]
	d.st.entries[key] = entry{data: value, expiresAt: expiresAt}

	if hadPrev && !prev.expiresAt.IsZero() {
		d.removeExpiration(prev.expiresAt, key)
	}
	if !expiresAt.IsZero() {
		d.insertExpiration(expiresAt, key)
	}

	d.mu.Unlock()
	if notify {
		d.cond.Signal()
	}
}

func expirationLess(a, b expiration) bool {
	if !a.when.Equal(b.when) {
		return a.when.Before(b.when)
	}
	return a.key < b.key
}

// searchExpiration returns the index of the first entry not less than
// (when, key) — i.e. the insertion point, or the entry's own index if
// present. Uses sort.Search for the boundary probe (its signature is
// stable across toolchain versions) and x/exp/slices for the mutation,
// following the same split the teacher's evict_test.go exercises.
func (d *Db) searchExpiration(when time.Time, key string) int {
	target := expiration{when: when, key: key}
	return sort.Search(len(d.st.expirations), func(i int) bool {
		return !expirationLess(d.st.expirations[i], target)
	})
}

func (d *Db) insertExpiration(when time.Time, key string) {
	i := d.searchExpiration(when, key)
	d.st.expirations = slices.Insert(d.st.expirations, i, expiration{when: when, key: key})
}

func (d *Db) removeExpiration(when time.Time, key string) {
	i := d.searchExpiration(when, key)
	if i < len(d.st.expirations) && d.st.expirations[i].when.Equal(when) && d.st.expirations[i].key == key {
		d.st.expirations = slices.Delete(d.st.expirations, i, i+1)
	}
}

// Subscribe returns a Receiver for channel, creating the channel's
// broadcaster on first use. Pub/sub channels are never garbage collected
// once created (spec.md §9): this keeps Publish's subscriber-count read
// free of races against a concurrently-tearing-down channel.
func (d *Db) Subscribe(channel string) *Receiver {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.st.pubSub[channel]
	if !ok {
		b = newBroadcaster()
		d.st.pubSub[channel] = b
	}
	return b.subscribe()
}

// Publish sends value to channel's subscribers and returns how many
// receivers were live at the instant of the call. Publishing to a
// channel with no subscribers (no broadcaster ever created for it)
// returns 0 and is a no-op.
func (d *Db) Publish(channel string, value []byte) int {
	d.mu.Lock()
	b, ok := d.st.pubSub[channel]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return b.publish(value)
}

// shutdown flips the shutdown flag and wakes the sweeper so it can exit.
func (d *Db) shutdown() {
	d.mu.Lock()
	d.st.shutdown = true
	d.mu.Unlock()
	d.cond.Signal()
}

// sweep runs until shutdown, deleting expired keys and sleeping until
// the next expiration or a wakeup signal. It mirrors purge_expired_tasks
// in the original: a plain loop around "purge, then wait," translated
// from Notify+select to a condition variable plus a timer goroutine,
// since sync.Cond has no timed wait.
func (d *Db) sweep() {
	for {
		d.mu.Lock()
		for !d.st.shutdown {
			when, ok := d.purgeExpiredLocked()
			if !ok {
				d.cond.Wait()
				continue
			}
			wait := time.Until(when)
			if wait <= 0 {
				continue
			}
			d.waitUntilLocked(wait)
			continue
		}
		d.mu.Unlock()
		if d.logger != nil {
			d.logger.Printf("db: sweeper shut down")
		}
		return
	}
}

// purgeExpiredLocked deletes every key whose expiration has passed and
// reports the next pending expiration, if any. Called with mu held.
func (d *Db) purgeExpiredLocked() (time.Time, bool) {
	now := time.Now()
	for len(d.st.expirations) > 0 {
		next := d.st.expirations[0]
		if next.when.After(now) {
			return next.when, true
		}
		delete(d.st.entries, next.key)
		d.st.expirations = slices.Delete(d.st.expirations, 0, 1)
	}
	return time.Time{}, false
}

// waitUntilLocked blocks until d is signaled or dur has elapsed,
// re-acquiring mu before returning either way. sync.Cond has no
// deadline-aware Wait, so a timer goroutine performs the wakeup; mu is
// released for the duration of the wait exactly as sync.Cond.Wait
// requires.
func (d *Db) waitUntilLocked(dur time.Duration) {
	timer := time.AfterFunc(dur, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	d.cond.Wait()
	timer.Stop()
}
