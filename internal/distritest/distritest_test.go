package distritest

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/distr1/chfs-go/internal/inode"
	"github.com/distr1/chfs-go/internal/rpcutil"
)

// lookPathOrSkip resolves name on $PATH, skipping the test if it isn't
// there, the same way the teacher's internal/squashfs tests skip when
// unsquashfs is missing rather than failing the whole suite.
func lookPathOrSkip(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in $PATH; build it first (go build -o <dir> ./cmd/%s) to run this test", name, name)
	}
	return path
}

func dialAddr(addr string) (host string, port uint16, err error) {
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return h, uint16(p), nil
}

// TestStartDataServerThenAllocBlockRoundTrips spawns a real chfs-datad
// binary and drives it purely over the wire, the same path the teacher's
// own integration tests drive its spawned `distri export` subprocess
// through.
func TestStartDataServerThenAllocBlockRoundTrips(t *testing.T) {
	binPath := lookPathOrSkip(t, "chfs-datad")

	ctx, canc := context.WithCancel(context.Background())
	defer canc()

	dataPath := filepath.Join(t.TempDir(), "data.img")
	addr, cleanup, err := StartDataServer(ctx, binPath, dataPath)
	if err != nil {
		t.Fatalf("StartDataServer: %v", err)
	}
	defer cleanup()

	host, port, err := dialAddr(addr)
	if err != nil {
		t.Fatalf("parse address %q: %v", addr, err)
	}
	c, err := rpcutil.DialDataServer(host, port, true)
	if err != nil {
		t.Fatalf("DialDataServer: %v", err)
	}
	defer c.Close()

	id, ver, err := c.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock: %v", err)
	}
	if ok, err := c.WriteData(id, 0, []byte("hello")); err != nil || !ok {
		t.Fatalf("WriteData: ok=%v err=%v", ok, err)
	}
	got, err := c.ReadData(id, 0, len("hello"), ver)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("ReadData = %q, want %q", got, "hello")
	}
}

// TestStartMetaServerThenMknodeRoundTrips spawns a real chfs-metad binary
// and drives a mknode/lookup round trip through it over the wire.
func TestStartMetaServerThenMknodeRoundTrips(t *testing.T) {
	binPath := lookPathOrSkip(t, "chfs-metad")

	ctx, canc := context.WithCancel(context.Background())
	defer canc()

	dataPath := filepath.Join(t.TempDir(), "meta.img")
	addr, cleanup, err := StartMetaServer(ctx, binPath, dataPath)
	if err != nil {
		t.Fatalf("StartMetaServer: %v", err)
	}
	defer cleanup()

	host, port, err := dialAddr(addr)
	if err != nil {
		t.Fatalf("parse address %q: %v", addr, err)
	}
	c, err := rpcutil.DialMetaServer(host, port)
	if err != nil {
		t.Fatalf("DialMetaServer: %v", err)
	}
	defer c.Close()

	id, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "f")
	if err != nil {
		t.Fatalf("Mknode: %v", err)
	}
	if id == 0 {
		t.Fatalf("Mknode returned 0")
	}
	got, err := c.Lookup(inode.RootInodeID, "f")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != id {
		t.Errorf("Lookup = %d, want %d", got, id)
	}
}

func TestRemoveAllDeletesTheDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	RemoveAll(t, sub)
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Errorf("%s still exists after RemoveAll (stat err=%v)", sub, err)
	}
}
