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
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kelvindb/kelvin"
	"github.com/kelvindb/kelvin/db"
)

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			return c
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, lastErr)
	return nil
}

// TestRunServesRequestsAndShutsDownCleanly exercises P7: Run only returns
// once every handler it spawned has finished.
func TestRunServesRequestsAndShutsDownCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	g := db.NewGuard()
	defer g.Close()

	shutdownCh := make(chan struct{})
	runDone := make(chan error, 1)
	go func() { runDone <- Run(ln, g.Db, shutdownCh) }()

	conn := dial(t, ln.Addr().String())
	c := kelvin.NewConnection(conn)

	if err := c.WriteFrame(kelvin.Arr(kelvin.Str("SET"), kelvin.Str("k"), kelvin.Str("v"))); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	reply, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !reflect.DeepEqual(reply, kelvin.Simple("OK")) {
		t.Fatalf("SET reply = %+v, want +OK", reply)
	}

	close(shutdownCh)

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown was triggered")
	}

	c.Close()
}

// TestListenerBoundsConcurrentConnections exercises P8: at most
// maxConnections handlers run concurrently; once that many clients are
// connected and blocked mid-request, a further dial's PING is not served
// until one of the existing connections closes.
func TestListenerBoundsConcurrentConnections(t *testing.T) {
	const maxConnections = 2

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	g := db.NewGuard()
	defer g.Close()
	shutdown := kelvin.NewShutdown()
	listener := NewListener(ln, g.Db, shutdown, maxConnections)
	go listener.run()
	defer func() {
		shutdown.Trigger()
		ln.Close()
	}()

	// Occupy every permit with idle connections (a handler holds its
	// permit for its whole lifetime, even while blocked waiting on a
	// frame that never arrives).
	holders := make([]net.Conn, maxConnections)
	for i := range holders {
		holders[i] = dial(t, ln.Addr().String())
	}
	time.Sleep(50 * time.Millisecond) // let the accept loop spawn handlers

	extra := dial(t, ln.Addr().String())
	defer extra.Close()
	extraConn := kelvin.NewConnection(extra)

	pingDone := make(chan error, 1)
	go func() {
		if err := extraConn.WriteFrame(kelvin.Arr(kelvin.Str("PING"))); err != nil {
			pingDone <- err
			return
		}
		_, err := extraConn.ReadFrame()
		pingDone <- err
	}()

	select {
	case err := <-pingDone:
		t.Fatalf("PING over the (maxConnections+1)th connection completed early (err=%v), want it blocked until a permit frees up", err)
	case <-time.After(150 * time.Millisecond):
	}

	holders[0].Close()

	select {
	case err := <-pingDone:
		if err != nil {
			t.Fatalf("PING after a permit freed up: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PING did not complete after a connection slot freed up")
	}

	for _, c := range holders[1:] {
		c.Close()
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ListenAddr != ":6379" || cfg.MaxConnections != MaxConnections {
		t.Fatalf("DefaultConfig = %+v", cfg)
	}
}

func TestLoadConfigOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kelvind.yaml")
	if err := os.WriteFile(path, []byte("listenAddr: \":7000\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.MaxConnections != MaxConnections {
		t.Fatalf("MaxConnections = %d, want default %d", cfg.MaxConnections, MaxConnections)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig on a missing file returned no error")
	}
}
