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
	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/db"
)

// Ping implements PING [msg]. With no argument it replies with the Simple
// string PONG; with an argument it echoes it back as Bulk, matching
// scenario 1 of the protocol's end-to-end tests.
type Ping struct {
	msg    []byte
	hasMsg bool
}

func parsePing(p *kelvin.Parser) (Command, error) {
	if p.Remaining() == 0 {
		return Ping{}, nil
	}
	msg, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Ping{msg: msg, hasMsg: true}, nil
}

func (c Ping) Name() string { return "ping" }

func (c Ping) Apply(_ *db.Db, conn *kelvin.Connection, _ *kelvin.Shutdown) error {
	if !c.hasMsg {
		return conn.WriteFrame(kelvin.Simple("PONG"))
	}
	return conn.WriteFrame(kelvin.Bytes(c.msg))
}
