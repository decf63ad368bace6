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

// Get implements GET key.
type Get struct {
	key string
}

func parseGet(p *kelvin.Parser) (Command, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Get{key: key}, nil
}

func (c Get) Name() string { return "get" }

func (c Get) Apply(database *db.Db, conn *kelvin.Connection, _ *kelvin.Shutdown) error {
	value, ok := database.Get(c.key)
	if !ok {
		return conn.WriteFrame(kelvin.Null)
	}
	return conn.WriteFrame(kelvin.Bytes(value))
}
