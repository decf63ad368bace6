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

package server

import (
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/command"
	"github.com/kelvindb/kelvin/db"
)

// handler drives a single accepted connection until shutdown, peer EOF,
// or an unrecoverable command/protocol/IO error. It never propagates an
// error to the accept loop: every outcome here ends with the connection
// closed and, at most, a log line.
type handler struct {
	database *db.Db
	conn     *kelvin.Connection
	shutdown *kelvin.Shutdown
	logger   *log.Logger
	id       uuid.UUID
}

func newHandler(database *db.Db, netConn net.Conn, shutdown *kelvin.Shutdown, logger *log.Logger) *handler {
	return &handler{
		database: database,
		conn:     kelvin.NewConnection(netConn),
		shutdown: shutdown,
		logger:   logger,
		id:       uuid.New(),
	}
}

// run is the per-connection command loop: until shutdown, await either
// the next frame or the shutdown signal; on a frame, parse and dispatch
// it; on shutdown or peer EOF, return.
func (h *handler) run() {
	defer h.conn.Close()

	frames := h.conn.Frames()
	for {
		select {
		case <-h.shutdown.Done():
			return

		case result, ok := <-frames:
			if !ok || result.Err != nil {
				if !ok || result.Err == kelvin.ErrCleanEOF {
					return
				}
				h.logf("closing connection: %v", result.Err)
				return
			}
			if err := h.dispatch(result.Frame); err != nil {
				h.logf("closing connection: %v", err)
				return
			}
		}
	}
}

// dispatch parses f into a Command and applies it. A SUBSCRIBE command's
// Apply does not return until its own session ends, after which this
// loop resumes reading ordinary commands from the same connection.
func (h *handler) dispatch(f kelvin.Frame) error {
	cmd, err := command.Parse(f)
	if err != nil {
		return err
	}
	if err := cmd.Apply(h.database, h.conn, h.shutdown); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return nil
}

func (h *handler) logf(format string, args ...interface{}) {
	if h.logger == nil {
		return
	}
	h.logger.Printf("[conn %s] "+format, append([]interface{}{h.id}, args...)...)
}
