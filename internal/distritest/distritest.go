// Package distritest provides process-spawning test helpers: start a real
// chfs-metad or chfs-datad binary against a temp dir and learn its
// listening address via the addrfd readiness handshake, the same pattern
// the teacher used for spawning its own export server in tests.
package distritest

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"testing"
)

// StartDataServer runs `chfs-datad -addrfd=3 -listen=localhost:0 -data=dataPath`
// (binPath must point at a built chfs-datad binary) and returns its
// listening address once the process has signaled readiness by writing to
// the inherited fd.
func StartDataServer(ctx context.Context, binPath, dataPath string) (addr string, cleanup func(), _ error) {
	return startServer(ctx, binPath, "-data="+dataPath)
}

// StartMetaServer runs `chfs-metad -addrfd=3 -listen=localhost:0 -data=dataPath`.
func StartMetaServer(ctx context.Context, binPath, dataPath string) (addr string, cleanup func(), _ error) {
	return startServer(ctx, binPath, "-data="+dataPath)
}

func startServer(ctx context.Context, binPath string, extraArgs ...string) (addr string, cleanup func(), _ error) {
	args := append([]string{"-addrfd=3", "-listen=localhost:0"}, extraArgs...)
	cmd := exec.CommandContext(ctx, binPath, args...)
	r, w, err := os.Pipe()
	if err != nil {
		return "", nil, err
	}
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	cmd.ExtraFiles = []*os.File{w}
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("%v: %v", cmd.Args, err)
	}
	cleanup = func() {
		cmd.Process.Kill()
		cmd.Wait()
	}

	if err := w.Close(); err != nil {
		return "", nil, err
	}

	b, err := ioutil.ReadAll(r)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return string(b), cleanup, nil
}

// RemoveAll wraps os.RemoveAll and fails the test on failure.
func RemoveAll(t testing.TB, path string) {
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
