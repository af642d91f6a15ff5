package rpcutil

import (
	"errors"
	"log"
	"net"
	"net/rpc"

	"golang.org/x/xerrors"
)

// Serve registers rcvr's exported RPC-shaped methods under name and serves
// them on addr (which may end in :0 to let the OS pick a port) until the
// listener is closed by calling the returned close func. It returns the
// actual bound address immediately; the accept loop runs in its own
// goroutine with no result for a caller to Wait() on, so this is a plain
// goroutine rather than the teacher's errgroup.Group (that idiom pays for
// itself when something blocks on eg.Wait() for the workers' errors; here
// the daemon's lifetime is governed by runctl's atExit/interrupt handling
// instead). One goroutine per accepted connection, since net/rpc itself
// already dispatches each call on that connection in its own goroutine.
func Serve(addr string, name string, rcvr interface{}) (boundAddr string, close func() error, err error) {
	server := rpc.NewServer()
	if err := server.RegisterName(name, rcvr); err != nil {
		return "", nil, xerrors.Errorf("rpcutil.Serve: register %s: %w", name, err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, xerrors.Errorf("rpcutil.Serve: listen %s: %w", addr, err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("rpcutil: accept on %s: %v", addr, err)
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return ln.Addr().String(), ln.Close, nil
}
