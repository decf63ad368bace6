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

import (
	"math"
	"strconv"
)

// Parser walks the elements of a request Array frame one at a time. Every
// command parses its own arguments from a shared Parser instead of
// indexing the Array directly, so argument-count and type mistakes report
// a uniform error regardless of which command hit them.
type Parser struct {
	elems []Frame
	pos   int
}

// NewParser builds a Parser over a request frame, which must be an Array
// (the only top-level shape a client may legally send, per the command
// dispatch rule in spec.md §4.4).
func NewParser(f Frame) (*Parser, error) {
	if f.Kind != KindArray {
		return nil, protoErrf("request frame must be an array, got %v", f.Kind)
	}
	return &Parser{elems: f.Array}, nil
}

// Next returns the next unconsumed element, or ErrEndOfStream once the
// array is exhausted.
func (p *Parser) Next() (Frame, error) {
	if p.pos >= len(p.elems) {
		return Frame{}, ErrEndOfStream
	}
	f := p.elems[p.pos]
	p.pos++
	return f, nil
}

// NextString returns the next element's payload as a string. Both Simple
// and Bulk frames are accepted (commands are lenient about which one a
// client sends for a textual argument, matching the original's
// `Parse::next_string`).
func (p *Parser) NextString() (string, error) {
	f, err := p.Next()
	if err != nil {
		return "", err
	}
	switch f.Kind {
	case KindSimple:
		return f.Text, nil
	case KindBulk:
		return string(f.Bulk), nil
	default:
		return "", protoErrf("expected a string argument, got %v", f.Kind)
	}
}

// NextBytes returns the next element's payload as raw bytes, used for
// values that must round-trip exactly (SET's value argument).
func (p *Parser) NextBytes() ([]byte, error) {
	f, err := p.Next()
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case KindBulk:
		return f.Bulk, nil
	case KindSimple:
		return []byte(f.Text), nil
	default:
		return nil, protoErrf("expected a bulk argument, got %v", f.Kind)
	}
}

// NextInt returns the next element's payload parsed as an integer, used by
// SET's EX/PX arguments. A literal Integer frame is accepted directly;
// Simple and Bulk frames are parsed as a base-10 unsigned integer. This
// matches the original's next_int, which has an explicit case for a
// client that encodes a numeric argument as an Integer frame rather than
// a Bulk string.
func (p *Parser) NextInt() (int64, error) {
	f, err := p.Next()
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case KindInteger:
		if f.Integer > math.MaxInt64 {
			return 0, ErrWrongType
		}
		return int64(f.Integer), nil
	case KindSimple, KindBulk:
		s := f.Text
		if f.Kind == KindBulk {
			s = string(f.Bulk)
		}
		v, perr := strconv.ParseUint(s, 10, 64)
		if perr != nil || v > math.MaxInt64 {
			return 0, ErrWrongType
		}
		return int64(v), nil
	default:
		return 0, ErrWrongType
	}
}

// Finish reports an error unless every element has been consumed. Commands
// call this after parsing their expected arguments so that a client
// sending trailing garbage is rejected rather than silently ignored.
func (p *Parser) Finish() error {
	if p.pos < len(p.elems) {
		return protoErrf("unexpected trailing argument")
	}
	return nil
}

// Remaining reports how many elements have not yet been consumed, used by
// SUBSCRIBE/UNSUBSCRIBE to loop "while there is another channel name."
func (p *Parser) Remaining() int {
	return len(p.elems) - p.pos
}
