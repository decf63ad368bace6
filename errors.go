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

import "errors"

// ErrCleanEOF is returned by ReadFrame when the peer closes the socket
// with no partial frame buffered: an ordinary, expected end of a
// connection, not an error worth logging.
var ErrCleanEOF = errors.New("EOF")

// ErrConnectionReset is returned by ReadFrame when the peer closes the
// socket after at least one byte of a not-yet-complete frame has already
// been buffered — a genuine abrupt disconnect, logged like any other I/O
// error.
var ErrConnectionReset = errors.New("connection reset by peer")

// ErrEndOfStream is returned by Parser methods once every array element
// has been consumed, distinguishing "no more arguments" from a malformed
// argument. (SUBSCRIBE and UNSUBSCRIBE loop on Parser.Remaining instead.)
var ErrEndOfStream = errors.New("end of argument stream")

// ErrWrongType is returned by Parser.NextInt when the current argument is
// neither an Integer frame nor a Simple or Bulk frame holding a base-10
// unsigned integer that fits in an int64.
var ErrWrongType = errors.New("argument is not an integer")
