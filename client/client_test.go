package client

import (
	"bytes"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/distr1/chfs-go/dataserver"
	"github.com/distr1/chfs-go/internal/inode"
	"github.com/distr1/chfs-go/internal/rpcutil"
	"github.com/distr1/chfs-go/metaserver"
)

// dataBlockSize is the data servers' block size, used both to open the
// test data store and as the blockSize argument to Read/Write. metaBlockSize
// is the metadata store's own (unrelated) block size, which must be large
// enough to hold sizeof(Inode) for metaserver.DistributedNBlocks (37-byte
// header + 16*8 slots = 165 bytes) plus some BlockInfo tail capacity.
const (
	dataBlockSize = 64
	metaBlockSize = 256
)

// newTestCluster spins up one real metadata server and one real data server,
// both bound to ephemeral localhost ports inside this test process (no
// built binaries required, unlike the distritest-based integration tests),
// and returns a Client already dialed against the metadata server.
func newTestCluster(t *testing.T) *Client {
	t.Helper()

	dataPath := filepath.Join(t.TempDir(), "data.img")
	dataSrv, err := dataserver.Open(dataPath, dataBlockSize, 256)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dataSrv.Close() })
	dataAddr, dataClose, err := rpcutil.Serve("localhost:0", "DataService", &rpcutil.DataService{S: dataSrv})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dataClose() })
	dataHost, dataPortStr, err := net.SplitHostPort(dataAddr)
	if err != nil {
		t.Fatal(err)
	}
	dataPort, err := strconv.ParseUint(dataPortStr, 10, 16)
	if err != nil {
		t.Fatal(err)
	}

	dial := func(address string, port uint16, reliable bool) (metaserver.DataClient, error) {
		return rpcutil.DialDataServerForMeta(dataHost, uint16(dataPort), reliable)
	}
	metaPath := filepath.Join(t.TempDir(), "meta.img")
	metaSrv, err := metaserver.Open(metaPath, metaBlockSize, 256, 64, dial)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { metaSrv.Close() })
	if ok, err := metaSrv.RegServer(dataHost, uint16(dataPort), true); err != nil || !ok {
		t.Fatalf("RegServer: ok=%v err=%v", ok, err)
	}
	metaSrv.Run()

	metaAddr, metaClose, err := rpcutil.Serve("localhost:0", "MetaService", &rpcutil.MetaService{S: metaSrv})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { metaClose() })
	metaHost, metaPortStr, err := net.SplitHostPort(metaAddr)
	if err != nil {
		t.Fatal(err)
	}
	metaPort, err := strconv.ParseUint(metaPortStr, 10, 16)
	if err != nil {
		t.Fatal(err)
	}

	resolve := func(machineID uint32) (string, uint16, error) {
		return dataHost, uint16(dataPort), nil
	}
	c, err := New(metaHost, uint16(metaPort), resolve)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMknodeLookupUnlinkOverTheWire(t *testing.T) {
	c := newTestCluster(t)
	id, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Lookup(inode.RootInodeID, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("Lookup = %d, want %d", got, id)
	}
	if err := c.Unlink(inode.RootInodeID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup(inode.RootInodeID, "a.txt"); err == nil {
		t.Errorf("Lookup after Unlink succeeded, want NotExist")
	}
}

func TestWriteThenReadSmallFile(t *testing.T) {
	c := newTestCluster(t)
	id, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "small.bin")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("the quick brown fox")
	if err := c.Write(id, want, dataBlockSize); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(id, dataBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Read = %q, want %q", got, want)
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	c := newTestCluster(t)
	id, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "big.bin")
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte{0xAB}, dataBlockSize*3+10)
	if err := c.Write(id, want, dataBlockSize); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(id, dataBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Read returned %d bytes, want %d matching the original content", len(got), len(want))
	}
}

func TestWriteThenRewriteSmallerFreesExcessBlocks(t *testing.T) {
	c := newTestCluster(t)
	id, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "shrink.bin")
	if err != nil {
		t.Fatal(err)
	}
	big := bytes.Repeat([]byte{0x1}, dataBlockSize*3)
	if err := c.Write(id, big, dataBlockSize); err != nil {
		t.Fatal(err)
	}
	small := []byte("tiny")
	if err := c.Write(id, small, dataBlockSize); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(id, dataBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, small) {
		t.Errorf("Read after shrink = %q, want %q", got, small)
	}
}

func TestGetAttrReportsType(t *testing.T) {
	c := newTestCluster(t)
	id, err := c.Mknode(uint8(inode.Directory), inode.RootInodeID, "sub")
	if err != nil {
		t.Fatal(err)
	}
	attr, err := c.GetAttr(id)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Type != uint8(inode.Directory) {
		t.Errorf("GetAttr type = %d, want Directory", attr.Type)
	}
}

func TestFreeInodeCountDecreasesOnMknode(t *testing.T) {
	c := newTestCluster(t)
	before, err := c.FreeInodeCount()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "counted.txt"); err != nil {
		t.Fatal(err)
	}
	after, err := c.FreeInodeCount()
	if err != nil {
		t.Fatal(err)
	}
	if after != before-1 {
		t.Errorf("FreeInodeCount after Mknode = %d, want %d", after, before-1)
	}
}

func TestReaddirListsEntries(t *testing.T) {
	c := newTestCluster(t)
	if _, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Mknode(uint8(inode.File), inode.RootInodeID, "two"); err != nil {
		t.Fatal(err)
	}
	entries, err := c.Readdir(inode.RootInodeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("Readdir returned %d entries, want 2", len(entries))
	}
}
