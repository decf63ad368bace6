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

// Publish implements PUBLISH channel value.
type Publish struct {
	channel string
	value   []byte
}

func parsePublish(p *kelvin.Parser) (Command, error) {
	channel, err := p.NextString()
	if err != nil {
		return nil, err
	}
	value, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Publish{channel: channel, value: value}, nil
}

func (c Publish) Name() string { return "publish" }

func (c Publish) Apply(database *db.Db, conn *kelvin.Connection, _ *kelvin.Shutdown) error {
	n := database.Publish(c.channel, c.value)
	return conn.WriteFrame(kelvin.Int(uint64(n)))
}
