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

// Package kelvin implements the wire protocol for a minimal, single-node,
// in-memory key/value store with publish/subscribe: frame encoding and
// decoding, the per-connection buffered codec, the command-argument
// cursor, and the shutdown broadcast shared by every connection handler.
//
// The state engine lives in the sibling db package; command parsing and
// application lives in command; the accept loop and per-connection
// handler live in server.
package kelvin
