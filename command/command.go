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

// Package command parses request frames into typed commands and applies
// them against the state engine, writing response frames back to the
// connection. Each verb lives in its own file, mirroring the one-module-
// per-command layout of the implementation this design is grounded on.
package command

import (
	"strings"

	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/db"
)

// Command is a parsed, ready-to-run request. Most implementations write
// exactly one reply frame and return; Subscribe instead takes over the
// connection for a multiplexed session and only returns once that session
// ends.
type Command interface {
	// Apply executes the command against database, using conn for any
	// reply frames, and observing shutdown if the command enters a
	// long-lived session.
	Apply(database *db.Db, conn *kelvin.Connection, shutdown *kelvin.Shutdown) error

	// Name reports the command's canonical lowercase name. It never
	// affects wire behavior; the handler folds it into the error it
	// returns from a failed Apply so log lines can identify which verb
	// was in flight.
	Name() string
}

// Parse decodes f into a typed Command. f must be the Array frame read
// directly off the wire; Parse reads its own command name off the front
// before delegating the rest of the array to the command's own argument
// parser.
func Parse(f kelvin.Frame) (Command, error) {
	p, err := kelvin.NewParser(f)
	if err != nil {
		return nil, err
	}
	name, err := p.NextString()
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(name)

	switch name {
	case "get":
		return parseGet(p)
	case "set":
		return parseSet(p)
	case "publish":
		return parsePublish(p)
	case "subscribe":
		return parseSubscribe(p)
	case "ping":
		return parsePing(p)
	case "unsubscribe":
		// UNSUBSCRIBE is only ever valid as a frame read from within an
		// active Subscribe session's own multiplex loop, which parses it
		// directly rather than going through Parse. Reaching here means a
		// client sent it as a standalone top-level command.
		return nil, &kelvin.ProtocolError{Msg: "UNSUBSCRIBE is unsupported outside a subscribe session"}
	default:
		// An unrecognized command is not a protocol error: it is a valid
		// Command that replies with an Error frame. The parser is not
		// required to have consumed the remaining tokens.
		return Unknown{name: name}, nil
	}
}
