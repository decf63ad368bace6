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

package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelvindb/kelvin/db"
	"github.com/kelvindb/kelvin/server"
)

// drainTimeout bounds how long runDaemon waits for in-flight handlers to
// finish after shutdown is signaled before falling through to process
// exit, so a stuck or slow-to-drain connection cannot wedge the process
// indefinitely.
const drainTimeout = 30 * time.Second

// runDaemon parses CLI flags, optionally loads a YAML config file, and
// runs the server until SIGINT/SIGTERM, mirroring cmd/snellerd's
// flag-then-Serve-then-signal-wait shape. CLI argument parsing is an
// external collaborator per the core's scope (spec.md §1) — this file
// contains no protocol or state-engine logic of its own.
func runDaemon(args []string) {
	daemonCmd := flag.NewFlagSet("kelvind", flag.ExitOnError)
	listenAddr := daemonCmd.String("l", "", "address to listen on (overrides -config and the default :6379)")
	maxConns := daemonCmd.Int("c", 0, "maximum concurrent connections (stored in the config; server.Run always applies the default limit)")
	configPath := daemonCmd.String("config", "", "path to a YAML configuration file")

	if daemonCmd.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			logger.Fatalf("loading config %s: %s", *configPath, err)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *maxConns > 0 {
		cfg.MaxConnections = *maxConns
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal(err)
	}

	guard := db.NewGuard(db.WithLogger(logger))
	defer guard.Close()

	shutdownFuture := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		// SIGKILL and SIGQUIT are not caught, matching cmd/snellerd's
		// comment about which signals trigger a graceful stop.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		close(shutdownFuture)
	}()

	logger.Printf("kelvind %s listening on %v", version, ln.Addr())
	runDone := make(chan error, 1)
	go func() { runDone <- server.Run(ln, guard.Db, shutdownFuture, server.WithLogger(logger)) }()

	select {
	case err := <-runDone:
		if err != nil {
			logger.Fatal(err)
		}
		logger.Println("kelvind: all connections drained, exiting")
		return
	case <-shutdownFuture:
	}

	// Shutdown has been requested; bound how long we wait for server.Run
	// to finish draining in-flight handlers before exiting anyway.
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	select {
	case err := <-runDone:
		if err != nil {
			logger.Fatal(err)
		}
		logger.Println("kelvind: all connections drained, exiting")
	case <-ctx.Done():
		logger.Printf("kelvind: drain timeout (%s) exceeded, exiting with handlers still in flight", drainTimeout)
	}
}
