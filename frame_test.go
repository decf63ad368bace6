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
	"bytes"
	"net"
	"reflect"
	"runtime"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		Simple("PONG"),
		Err("ERR unknown command 'foo'"),
		Int(0),
		Int(42),
		Bytes([]byte("hello")),
		Bytes([]byte{}),
		Null,
		Arr(Str("subscribe"), Str("foo"), Int(1)),
		Arr(),
	}
	for _, f := range cases {
		enc := Encode(nil, f)
		n, err := check(enc)
		if err != nil {
			t.Fatalf("check(%q): %v", enc, err)
		}
		if n != len(enc) {
			t.Fatalf("check(%q) = %d, want %d", enc, n, len(enc))
		}
		got, m := parse(enc)
		if m != n {
			t.Fatalf("parse consumed %d, check reported %d", m, n)
		}
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
		}
	}
}

func TestEncodeNestedArrayPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic encoding a nested array frame")
		}
	}()
	Encode(nil, Arr(Arr(Int(1))))
}

func TestCheckWireExamples(t *testing.T) {
	cases := map[string]Frame{
		"+PONG\r\n":                     Simple("PONG"),
		"$-1\r\n":                       Null,
		"$5\r\nhello\r\n":                Bytes([]byte("hello")),
		":0\r\n":                        Int(0),
		"*3\r\n$9\r\nsubscribe\r\n$3\r\nfoo\r\n:1\r\n": Arr(Str("subscribe"), Str("foo"), Int(1)),
	}
	for wire, want := range cases {
		buf := []byte(wire)
		n, err := check(buf)
		if err != nil {
			t.Fatalf("check(%q): %v", wire, err)
		}
		if n != len(buf) {
			t.Fatalf("check(%q) = %d, want %d", wire, n, len(buf))
		}
		got, _ := parse(buf)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("parse(%q) = %+v, want %+v", wire, got, want)
		}
	}
}

func TestCheckIncompleteThenComplete(t *testing.T) {
	// Scenario 8: a SET frame arrives split mid-token.
	full := []byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	partial := full[:len("*3\r\n$3\r\nS")]
	if _, err := check(partial); err != ErrIncomplete {
		t.Fatalf("check(partial) = %v, want ErrIncomplete", err)
	}
	n, err := check(full)
	if err != nil {
		t.Fatalf("check(full): %v", err)
	}
	if n != len(full) {
		t.Fatalf("check(full) = %d, want %d", n, len(full))
	}
}

func TestCheckProtocolErrors(t *testing.T) {
	cases := []string{
		"?bad\r\n",
		":notanumber\r\n",
		"$3\r\nab\r\n", // declared length 3 but only 2 bytes before CRLF
		"*2\r\n$-notanumber\r\n",
	}
	for _, c := range cases {
		if _, err := check([]byte(c)); err == nil || err == ErrIncomplete {
			t.Fatalf("check(%q) = %v, want a protocol error", c, err)
		}
	}
}

func TestConnectionReadFrameIncremental(t *testing.T) {
	client, srv := pipeConn(t)
	defer client.Close()
	defer srv.Close()

	conn := NewConnection(srv)
	done := make(chan struct{})
	var got Frame
	var gotErr error
	go func() {
		got, gotErr = conn.ReadFrame()
		close(done)
	}()

	client.Write([]byte("*3\r\n$3\r\nS"))
	client.Write([]byte("ET\r\n$1\r\nk\r\n$1\r\nv\r\n"))

	<-done
	if gotErr != nil {
		t.Fatalf("ReadFrame: %v", gotErr)
	}
	want := Arr(Str("SET"), Str("k"), Str("v"))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadFrame = %+v, want %+v", got, want)
	}
}

func TestConnectionReadFrameCleanEOF(t *testing.T) {
	client, srv := pipeConn(t)
	conn := NewConnection(srv)
	client.Close()
	_, err := conn.ReadFrame()
	if err != ErrCleanEOF {
		t.Fatalf("ReadFrame on empty closed conn = %v, want ErrCleanEOF", err)
	}
}

func TestConnectionReadFrameResetMidFrame(t *testing.T) {
	client, srv := pipeConn(t)
	conn := NewConnection(srv)

	done := make(chan struct{})
	var gotErr error
	go func() {
		_, gotErr = conn.ReadFrame()
		close(done)
	}()

	// Write a partial frame (array header plus two of three elements),
	// then disconnect before the last element arrives.
	client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n"))
	client.Close()

	<-done
	if gotErr != ErrConnectionReset {
		t.Fatalf("ReadFrame on mid-frame disconnect = %v, want ErrConnectionReset", gotErr)
	}
}

// TestFramesReaderExitsOnCloseWithoutConsumer regression-tests the
// Frames() reader goroutine against a leak: if a frame is read but the
// caller has already stopped consuming the channel (as happens when a
// handler's select exits via shutdown while Frames()'s background
// goroutine is mid-send), Close must unblock that goroutine rather than
// leaving it parked forever on a send nobody will ever receive.
func TestFramesReaderExitsOnCloseWithoutConsumer(t *testing.T) {
	const n = 50

	runtime.GC()
	baseline := runtime.NumGoroutine()

	conns := make([]*Connection, n)
	clients := make([]net.Conn, n)
	for i := 0; i < n; i++ {
		client, srv := pipeConn(t)
		clients[i] = client
		conns[i] = NewConnection(srv)
		conns[i].Frames() // starts the background reader, never consumed
		if _, err := client.Write([]byte("+PONG\r\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// Give each reader goroutine time to read its frame and block trying
	// to send it on the unconsumed channel.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < n; i++ {
		conns[i].Close()
		clients[i].Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutine count did not settle after Close: baseline=%d, now=%d", baseline, runtime.NumGoroutine())
}

func TestConnectionWriteFrame(t *testing.T) {
	client, srv := pipeConn(t)
	defer client.Close()
	defer srv.Close()

	conn := NewConnection(srv)
	go conn.WriteFrame(Simple("PONG"))

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("+PONG\r\n")) {
		t.Fatalf("wrote %q, want %q", buf[:n], "+PONG\r\n")
	}
}
