package inode

import "testing"

type memBlocks struct {
	blockSize int
	blocks    map[uint64][]byte
}

func newMemBlocks(blockSize int) *memBlocks {
	return &memBlocks{blockSize: blockSize, blocks: make(map[uint64][]byte)}
}

func (m *memBlocks) BlockSize() int { return m.blockSize }

func (m *memBlocks) ReadBlock(id uint64, buf []byte) error {
	b, ok := m.blocks[id]
	if !ok {
		b = make([]byte, m.blockSize)
	}
	copy(buf, b)
	return nil
}

func (m *memBlocks) WriteBlock(id uint64, buf []byte) error {
	cp := make([]byte, m.blockSize)
	copy(cp, buf)
	m.blocks[id] = cp
	return nil
}

func TestHeaderEncodeDecodeRoundTrips(t *testing.T) {
	attr := FileAttr{Size: 42, Atime: 1, Mtime: 2, Ctime: 3}
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, File, 7, attr)

	typ, nblocks, got := DecodeHeader(buf)
	if typ != File || nblocks != 7 || got != attr {
		t.Errorf("DecodeHeader = (%v, %d, %+v), want (File, 7, %+v)", typ, nblocks, got, attr)
	}
}

func newManager(t *testing.T, blockSize int, maxInodes uint64) (*Manager, *memBlocks) {
	t.Helper()
	bm := newMemBlocks(blockSize)
	m, err := New(bm, maxInodes, true)
	if err != nil {
		t.Fatal(err)
	}
	return m, bm
}

func TestAllocateInodeThenReadInodeRoundTrips(t *testing.T) {
	m, bm := newManager(t, 64, 16)
	carrier := m.DataBitmapStart() // first block past the inode manager's own region
	if err := bm.WriteBlock(carrier, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}

	id, err := m.AllocateInode(File, 3, carrier)
	if err != nil {
		t.Fatal(err)
	}
	if id != RootInodeID {
		t.Errorf("first AllocateInode = %d, want %d", id, RootInodeID)
	}

	buf := make([]byte, 64)
	gotBlockID, err := m.ReadInode(id, buf)
	if err != nil {
		t.Fatal(err)
	}
	if gotBlockID != carrier {
		t.Errorf("ReadInode returned carrier %d, want %d", gotBlockID, carrier)
	}
	typ, nblocks, _ := DecodeHeader(buf)
	if typ != File || nblocks != 3 {
		t.Errorf("decoded header = (%v, %d), want (File, 3)", typ, nblocks)
	}
}

func TestFreeInodeThenAllocateInodeReuses(t *testing.T) {
	m, bm := newManager(t, 64, 16)
	carrier := m.DataBitmapStart()
	id, err := m.AllocateInode(Directory, 0, carrier)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.FreeInode(id); err != nil {
		t.Fatal(err)
	}
	again, err := m.AllocateInode(Directory, 0, carrier+1)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("AllocateInode after FreeInode(%d) = %d, want %d (reused)", id, again, id)
	}
	_ = bm
}

func TestReadInodeOnFreedIDFails(t *testing.T) {
	m, _ := newManager(t, 64, 16)
	id, err := m.AllocateInode(File, 0, m.DataBitmapStart())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.FreeInode(id); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	if _, err := m.ReadInode(id, buf); err == nil {
		t.Errorf("ReadInode(%d) after FreeInode succeeded, want error", id)
	}
}

func TestGetTypeAttr(t *testing.T) {
	m, _ := newManager(t, 64, 16)
	id, err := m.AllocateInode(Directory, 0, m.DataBitmapStart())
	if err != nil {
		t.Fatal(err)
	}
	typ, attr, err := m.GetTypeAttr(id)
	if err != nil {
		t.Fatal(err)
	}
	if typ != Directory {
		t.Errorf("GetTypeAttr type = %v, want Directory", typ)
	}
	if attr.Size != 0 {
		t.Errorf("fresh inode Size = %d, want 0", attr.Size)
	}
}

func TestFreeCountDecreasesOnAllocate(t *testing.T) {
	m, _ := newManager(t, 64, 16)
	before, err := m.FreeCount()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateInode(File, 0, m.DataBitmapStart()); err != nil {
		t.Fatal(err)
	}
	after, err := m.FreeCount()
	if err != nil {
		t.Fatal(err)
	}
	if before-after != 1 {
		t.Errorf("FreeCount dropped by %d, want 1", before-after)
	}
}

func TestInvalidInodeIDsRejected(t *testing.T) {
	m, _ := newManager(t, 64, 16)
	buf := make([]byte, 64)
	if _, err := m.ReadInode(KInvalidInodeID, buf); err == nil {
		t.Errorf("ReadInode(KInvalidInodeID) succeeded, want error")
	}
	if _, err := m.ReadInode(m.MaxInodeSupported+100, buf); err == nil {
		t.Errorf("ReadInode(out of range) succeeded, want error")
	}
}
