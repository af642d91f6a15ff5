package bitmap

import "github.com/distr1/chfs-go/internal/chfserr"

// BlockReadWriter is the slice of BlockManager's interface a BlockIterator
// needs. Declared here (rather than imported) so bitmap does not depend on
// package block — see spec §9 "Cyclic concerns": BlockManager is a shared,
// read-mostly dependency injected at construction, not a type either
// allocator needs to import the other's package for.
type BlockReadWriter interface {
	BlockSize() int
	ReadBlock(id uint64, buf []byte) error
	WriteBlock(id uint64, buf []byte) error
}

// BlockIterator yields the blocks [first, last) of bm one at a time,
// exposing each as a Bitmap view over a scratch buffer. Callers that
// mutate the current block MUST call FlushCurBlock before advancing;
// Next discards unflushed changes.
type BlockIterator struct {
	bm     BlockReadWriter
	cur    uint64
	last   uint64
	buf    []byte
	loaded bool
}

// NewBlockIterator creates an iterator over [first, last).
func NewBlockIterator(bm BlockReadWriter, first, last uint64) (*BlockIterator, error) {
	if first > last {
		return nil, chfserr.Wrap(chfserr.Invalid, "block iterator: first %d > last %d", first, last)
	}
	it := &BlockIterator{bm: bm, cur: first, last: last, buf: make([]byte, bm.BlockSize())}
	if it.HasNext() {
		if err := it.load(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *BlockIterator) load() error {
	if err := it.bm.ReadBlock(it.cur, it.buf); err != nil {
		return err
	}
	it.loaded = true
	return nil
}

// HasNext reports whether there is a current block to look at.
func (it *BlockIterator) HasNext() bool {
	return it.cur < it.last
}

// CurBlockID returns the block id the iterator currently points at.
func (it *BlockIterator) CurBlockID() uint64 {
	return it.cur
}

// Value returns the scratch buffer backing the current block.
func (it *BlockIterator) Value() []byte {
	return it.buf
}

// Bitmap returns a Bitmap view over the current block's scratch buffer.
func (it *BlockIterator) Bitmap() Bitmap {
	return New(it.buf, len(it.buf))
}

// FlushCurBlock writes the (possibly mutated) scratch buffer back to the
// current block. Must be called before Next if the caller mutated Value()
// or Bitmap().
func (it *BlockIterator) FlushCurBlock() error {
	return it.bm.WriteBlock(it.cur, it.buf)
}

// Next advances to the next block, re-reading its contents into the
// scratch buffer.
func (it *BlockIterator) Next() error {
	it.cur++
	it.loaded = false
	if !it.HasNext() {
		return nil
	}
	return it.load()
}
