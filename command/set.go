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
	"time"

	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/db"
)

// Set implements SET key value [EX seconds | PX milliseconds].
type Set struct {
	key   string
	value []byte
	ttl   time.Duration
}

func parseSet(p *kelvin.Parser) (Command, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	value, err := p.NextBytes()
	if err != nil {
		return nil, err
	}

	var ttl time.Duration
	haveExpiry := false
	for p.Remaining() > 0 {
		opt, err := p.NextString()
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(opt) {
		case "EX":
			if haveExpiry {
				return nil, &kelvin.ProtocolError{Msg: "EX and PX are mutually exclusive"}
			}
			secs, err := p.NextInt()
			if err != nil {
				return nil, err
			}
			if secs <= 0 {
				return nil, &kelvin.ProtocolError{Msg: "EX must be a positive integer"}
			}
			ttl = time.Duration(secs) * time.Second
			haveExpiry = true
		case "PX":
			if haveExpiry {
				return nil, &kelvin.ProtocolError{Msg: "EX and PX are mutually exclusive"}
			}
			millis, err := p.NextInt()
			if err != nil {
				return nil, err
			}
			if millis <= 0 {
				return nil, &kelvin.ProtocolError{Msg: "PX must be a positive integer"}
			}
			ttl = time.Duration(millis) * time.Millisecond
			haveExpiry = true
		case "NX", "XX", "KEEPTTL":
			return nil, &kelvin.ProtocolError{Msg: "unsupported SET option '" + opt + "'"}
		default:
			return nil, &kelvin.ProtocolError{Msg: "unsupported SET option '" + opt + "'"}
		}
	}

	return Set{key: key, value: value, ttl: ttl}, nil
}

func (c Set) Name() string { return "set" }

func (c Set) Apply(database *db.Db, conn *kelvin.Connection, _ *kelvin.Shutdown) error {
	database.Set(c.key, c.value, c.ttl)
	return conn.WriteFrame(kelvin.Simple("OK"))
}
