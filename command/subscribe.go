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

package command

import (
	"strings"

	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/db"
)

// Subscribe implements SUBSCRIBE channel [channel...]. Applying it does
// not return after the first reply: it takes over the connection for a
// multiplexed session (spec.md §4.4.1) that lasts until every subscribed
// channel has been removed again, the peer disconnects, or shutdown
// fires.
type Subscribe struct {
	channels []string
}

func parseSubscribe(p *kelvin.Parser) (Command, error) {
	var channels []string
	for p.Remaining() > 0 {
		ch, err := p.NextString()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, &kelvin.ProtocolError{Msg: "SUBSCRIBE requires at least one channel"}
	}
	return Subscribe{channels: channels}, nil
}

func (c Subscribe) Name() string { return "subscribe" }

func (c Subscribe) Apply(database *db.Db, conn *kelvin.Connection, shutdown *kelvin.Shutdown) error {
	s := newSubscribeSession(database, conn)
	for _, ch := range c.channels {
		if err := s.subscribeTo(ch); err != nil {
			s.closeAll()
			return err
		}
	}
	err := s.run(shutdown)
	s.closeAll()
	return err
}

// channelMessage is a value forwarded from one of the session's per-
// channel fan-in goroutines to its multiplex loop.
type channelMessage struct {
	channel string
	payload []byte
}

type subscribeSession struct {
	database  *db.Db
	conn      *kelvin.Connection
	receivers map[string]*db.Receiver
	messages  chan channelMessage
}

func newSubscribeSession(database *db.Db, conn *kelvin.Connection) *subscribeSession {
	return &subscribeSession{
		database:  database,
		conn:      conn,
		receivers: make(map[string]*db.Receiver),
		messages:  make(chan channelMessage),
	}
}

// subscribeTo adds channel to the session if not already present and
// replies with the standard subscribe acknowledgement. Re-subscribing to
// an already-subscribed channel keeps the existing receiver but still
// sends the acknowledgement, with an unchanged channel count.
func (s *subscribeSession) subscribeTo(channel string) error {
	if _, ok := s.receivers[channel]; !ok {
		r := s.database.Subscribe(channel)
		s.receivers[channel] = r
		go s.forward(channel, r)
	}
	return s.conn.WriteFrame(kelvin.Arr(
		kelvin.Str("subscribe"),
		kelvin.Str(channel),
		kelvin.Int(uint64(len(s.receivers))),
	))
}

// forward relays messages from one channel's Receiver onto the session's
// shared messages channel until the receiver is closed (via
// unsubscribeFrom or closeAll) or the underlying broadcaster reports it
// has no more to deliver.
func (s *subscribeSession) forward(channel string, r *db.Receiver) {
	for {
		payload, err := r.Recv()
		if err != nil {
			if err == db.ErrLagged {
				// A lagged subscriber skips the gap and keeps receiving;
				// it is never disconnected for falling behind.
				continue
			}
			return
		}
		s.messages <- channelMessage{channel: channel, payload: payload}
	}
}

// unsubscribeFrom removes channel from the session, if present, replying
// with the standard unsubscribe acknowledgement. It reports whether the
// channel had been subscribed.
func (s *subscribeSession) unsubscribeFrom(channel string) (bool, error) {
	r, ok := s.receivers[channel]
	if !ok {
		return false, nil
	}
	delete(s.receivers, channel)
	r.Close()
	err := s.conn.WriteFrame(kelvin.Arr(
		kelvin.Str("unsubscribe"),
		kelvin.Str(channel),
		kelvin.Int(uint64(len(s.receivers))),
	))
	return true, err
}

// closeAll releases every receiver still held by the session, used both
// on normal exit and on error.
func (s *subscribeSession) closeAll() {
	for ch, r := range s.receivers {
		delete(s.receivers, ch)
		r.Close()
	}
}

// run is the session's multiplex loop: it awaits a message from any
// subscribed channel, a new frame from the connection, or shutdown, in
// any order that makes progress on all three, per §4.4.1's fairness
// requirement. It returns when the subscribed-channel set becomes empty,
// the peer disconnects, or shutdown fires.
func (s *subscribeSession) run(shutdown *kelvin.Shutdown) error {
	frames := s.conn.Frames()
	for len(s.receivers) > 0 {
		select {
		case msg := <-s.messages:
			if err := s.conn.WriteFrame(kelvin.Arr(
				kelvin.Str("message"),
				kelvin.Str(msg.channel),
				kelvin.Bytes(msg.payload),
			)); err != nil {
				return err
			}

		case result, ok := <-frames:
			if !ok || result.Err != nil {
				if !ok || result.Err == kelvin.ErrCleanEOF {
					return nil
				}
				return result.Err
			}
			if err := s.handleFrame(result.Frame); err != nil {
				return err
			}

		case <-shutdown.Done():
			return nil
		}
	}
	return nil
}

// handleFrame processes one frame received while in subscribe mode. Only
// SUBSCRIBE (to add more channels) and UNSUBSCRIBE are accepted; anything
// else gets an Error reply but does not end the session.
func (s *subscribeSession) handleFrame(f kelvin.Frame) error {
	p, err := kelvin.NewParser(f)
	if err != nil {
		return s.conn.WriteFrame(kelvin.Err(err.Error()))
	}
	name, err := p.NextString()
	if err != nil {
		return s.conn.WriteFrame(kelvin.Err(err.Error()))
	}
	switch strings.ToLower(name) {
	case "subscribe":
		var channels []string
		for p.Remaining() > 0 {
			ch, err := p.NextString()
			if err != nil {
				return s.conn.WriteFrame(kelvin.Err(err.Error()))
			}
			channels = append(channels, ch)
		}
		if len(channels) == 0 {
			return s.conn.WriteFrame(kelvin.Err("ERR SUBSCRIBE requires at least one channel"))
		}
		for _, ch := range channels {
			if err := s.subscribeTo(ch); err != nil {
				return err
			}
		}
		return nil

	case "unsubscribe":
		var channels []string
		for p.Remaining() > 0 {
			ch, err := p.NextString()
			if err != nil {
				return s.conn.WriteFrame(kelvin.Err(err.Error()))
			}
			channels = append(channels, ch)
		}
		if len(channels) == 0 {
			// No arguments: unsubscribe from every channel currently held.
			for ch := range s.receivers {
				channels = append(channels, ch)
			}
		}
		for _, ch := range channels {
			if _, err := s.unsubscribeFrom(ch); err != nil {
				return err
			}
		}
		return nil

	default:
		return s.conn.WriteFrame(kelvin.Err("ERR unexpected command '" + name + "' in subscribe mode"))
	}
}
