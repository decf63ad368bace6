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

// Unknown is produced when a request's command name matches none of the
// supported verbs. Unlike every other command, a failed parse does not
// close the connection: the client gets an Error reply and can keep
// sending requests.
type Unknown struct {
	name string
}

func (c Unknown) Name() string { return c.name }

func (c Unknown) Apply(_ *db.Db, conn *kelvin.Connection, _ *kelvin.Shutdown) error {
	return conn.WriteFrame(kelvin.Err("ERR unknown command '" + c.name + "'"))
}
