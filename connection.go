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
	"bufio"
	"io"
	"net"
	"sync"
)

const initialBufferSize = 4096

// Connection wraps a net.Conn with a growable read buffer and a buffered
// writer, reading and writing whole Frames at a time. It holds no
// protocol state of its own beyond the bytes in flight.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	buf  []byte // accumulated, not-yet-parsed bytes read from conn
	used int     // bytes of buf that hold valid data

	once      sync.Once
	framesCh  chan FrameResult
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps conn for frame-at-a-time IO.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		buf:    make([]byte, initialBufferSize),
		stopCh: make(chan struct{}),
	}
}

// RemoteAddr reports the peer address, used only for log correlation.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying socket and releases the Frames() reader
// goroutine, if one was started, from a pending send that nobody will
// ever receive again. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	return c.conn.Close()
}

// ReadFrame reads and decodes a single Frame, blocking until one is
// available, more data must be read from the socket, or the connection is
// closed. It returns ErrCleanEOF if the peer closes cleanly with no
// partial frame buffered, ErrConnectionReset if the peer closes mid-frame,
// and a *ProtocolError if the peer sends malformed data.
func (c *Connection) ReadFrame() (Frame, error) {
	for {
		n, err := check(c.buf[:c.used])
		if err == nil {
			f, consumed := parse(c.buf[:c.used])
			if consumed != n {
				panic("kelvin: check/parse length mismatch")
			}
			c.discard(n)
			return f, nil
		}
		if _, ok := err.(*ProtocolError); ok {
			return Frame{}, err
		}
		// err == ErrIncomplete: grow the buffer if it is full, then read more.
		if c.used == len(c.buf) {
			c.grow()
		}
		m, rerr := c.reader.Read(c.buf[c.used:])
		c.used += m
		if rerr != nil {
			if rerr == io.EOF {
				if c.used == 0 {
					return Frame{}, ErrCleanEOF
				}
				return Frame{}, ErrConnectionReset
			}
			return Frame{}, rerr
		}
	}
}

// discard removes the first n bytes of buf, which have already been
// parsed, sliding any remaining unparsed bytes down to offset 0.
func (c *Connection) discard(n int) {
	remaining := c.used - n
	copy(c.buf, c.buf[n:c.used])
	c.used = remaining
}

// grow doubles the capacity of buf. Called only when a frame has not yet
// been fully buffered and the buffer is already full, mirroring the
// original implementation's `BytesMut::reserve` growth on demand rather
// than pre-allocating a worst-case frame size.
func (c *Connection) grow() {
	next := make([]byte, len(c.buf)*2)
	copy(next, c.buf[:c.used])
	c.buf = next
}

// FrameResult is one element of the channel returned by Frames.
type FrameResult struct {
	Frame Frame
	Err   error
}

// Frames starts (on first call) a single background goroutine that reads
// frames off the connection one at a time and publishes them on the
// returned channel, closing it after the first error. Both the ordinary
// command loop and a SUBSCRIBE session read from this same channel, which
// is what lets a session return control to the ordinary loop without
// losing whatever frame arrives next: unlike an `await` on a read future,
// a goroutine has no implicit cancellation, so a single shared reader
// (rather than a fresh one per select) is the Go-idiomatic way to let two
// different loops take turns consuming the same socket.
//
// A consumer that stops reading this channel (e.g. because shutdown fired
// on a different select branch) must call Close, which unblocks the
// goroutine's pending send via stopCh instead of leaving it blocked
// forever on a send nobody will ever receive.
func (c *Connection) Frames() <-chan FrameResult {
	c.once.Do(func() {
		c.framesCh = make(chan FrameResult)
		go func() {
			for {
				f, err := c.ReadFrame()
				select {
				case c.framesCh <- FrameResult{Frame: f, Err: err}:
				case <-c.stopCh:
					return
				}
				if err != nil {
					close(c.framesCh)
					return
				}
			}
		}()
	})
	return c.framesCh
}

// WriteFrame encodes and flushes f to the peer.
func (c *Connection) WriteFrame(f Frame) error {
	enc := Encode(nil, f)
	if _, err := c.writer.Write(enc); err != nil {
		return err
	}
	return c.writer.Flush()
}
