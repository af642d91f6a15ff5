package bitmap

import "testing"

// memBlocks is a trivial in-memory BlockReadWriter standing in for
// block.Manager in tests, the same fake-over-interface pattern the core
// packages use to avoid needing a real backing file per test.
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

func TestBlockIteratorWalksRangeAndFlushes(t *testing.T) {
	bm := newMemBlocks(8)
	it, err := NewBlockIterator(bm, 2, 5)
	if err != nil {
		t.Fatal(err)
	}

	var seen []uint64
	for it.HasNext() {
		seen = append(seen, it.CurBlockID())
		it.Bitmap().Set(0)
		if err := it.FlushCurBlock(); err != nil {
			t.Fatal(err)
		}
		if err := it.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if want := []uint64{2, 3, 4}; !equalUint64(seen, want) {
		t.Errorf("iterated blocks = %v, want %v", seen, want)
	}
	for _, id := range seen {
		if bm.blocks[id][0] != 1 {
			t.Errorf("block %d not flushed", id)
		}
	}
}

func TestBlockIteratorEmptyRange(t *testing.T) {
	bm := newMemBlocks(8)
	it, err := NewBlockIterator(bm, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if it.HasNext() {
		t.Errorf("HasNext() on empty range = true")
	}
}

func TestBlockIteratorRejectsInvertedRange(t *testing.T) {
	bm := newMemBlocks(8)
	if _, err := NewBlockIterator(bm, 5, 3); err == nil {
		t.Errorf("NewBlockIterator(5, 3) succeeded, want error")
	}
}

func TestBlockIteratorNextWithoutFlushDiscardsChanges(t *testing.T) {
	bm := newMemBlocks(8)
	it, err := NewBlockIterator(bm, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	it.Bitmap().Set(0)
	if err := it.Next(); err != nil {
		t.Fatal(err)
	}
	if _, ok := bm.blocks[0]; ok {
		t.Errorf("unflushed mutation was persisted")
	}
}

func equalUint64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
