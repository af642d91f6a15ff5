// Package alloc implements the Block Allocator (C3): allocate/free data
// block IDs using a bitmap region that sits immediately before the data
// region it governs.
package alloc

import (
	"github.com/distr1/chfs-go/internal/bitmap"
	"github.com/distr1/chfs-go/internal/chfserr"
)

// BitmapBlocksFor returns the smallest number of bitmap blocks n such that
// n blocks of bitsPerBlock bits each can address every block of the data
// region that remains once those n bitmap blocks themselves are carved out
// of remainingBlocks (i.e. n*bitsPerBlock >= remainingBlocks-n).
func BitmapBlocksFor(remainingBlocks, bitsPerBlock uint64) uint64 {
	n := remainingBlocks / (bitsPerBlock + 1)
	for n*bitsPerBlock < remainingBlocks-n {
		n++
	}
	return n
}

// BlockAllocator owns [bitmapOffset, bitmapOffset+nBitmapBlocks) as its
// bitmap region; the data region it allocates into starts immediately
// after.
type BlockAllocator struct {
	Bm bitmap.BlockReadWriter

	bitmapOffset  uint64
	nBitmapBlocks uint64
}

// New constructs a BlockAllocator over nBitmapBlocks blocks starting at
// bitmapOffset. When isNew is true the owned bitmap blocks are zeroed
// (first-time construction); otherwise the existing on-disk state is
// trusted.
func New(bm bitmap.BlockReadWriter, bitmapOffset, nBitmapBlocks uint64, isNew bool) (*BlockAllocator, error) {
	a := &BlockAllocator{Bm: bm, bitmapOffset: bitmapOffset, nBitmapBlocks: nBitmapBlocks}
	if isNew {
		zero := make([]byte, bm.BlockSize())
		for i := uint64(0); i < nBitmapBlocks; i++ {
			if err := bm.WriteBlock(bitmapOffset+i, zero); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// DataRegionStart returns the first block id of the data region this
// allocator hands out.
func (a *BlockAllocator) DataRegionStart() uint64 {
	return a.bitmapOffset + a.nBitmapBlocks
}

// Allocate scans the bitmap blocks in order, picks the first clear bit,
// sets it, and returns the absolute block id. Deterministic lowest-free-bit
// policy, no sparse strategy, by design (spec §4.3) — it keeps tests
// reproducible.
func (a *BlockAllocator) Allocate() (uint64, error) {
	it, err := bitmap.NewBlockIterator(a.Bm, a.bitmapOffset, a.bitmapOffset+a.nBitmapBlocks)
	if err != nil {
		return 0, err
	}
	var blockIdx uint64
	for it.HasNext() {
		bm := it.Bitmap()
		if idx, ok := bm.FindFirstFree(); ok {
			bm.Set(idx)
			if err := it.FlushCurBlock(); err != nil {
				return 0, err
			}
			linear := blockIdx*uint64(a.Bm.BlockSize())*bitmap.KBitsPerByte + idx
			return a.DataRegionStart() + linear, nil
		}
		if err := it.Next(); err != nil {
			return 0, err
		}
		blockIdx++
	}
	return 0, chfserr.New(chfserr.OutOfResource)
}

// Deallocate clears the bit belonging to id. It fails if the bit is
// already clear.
func (a *BlockAllocator) Deallocate(id uint64) error {
	start := a.DataRegionStart()
	if id < start {
		return chfserr.Wrap(chfserr.InvalidArg, "deallocate(%d): below data region start %d", id, start)
	}
	linear := id - start
	bitsPerBlock := uint64(a.Bm.BlockSize()) * bitmap.KBitsPerByte
	blockIdx := linear / bitsPerBlock
	bitIdx := linear % bitsPerBlock
	if blockIdx >= a.nBitmapBlocks {
		return chfserr.Wrap(chfserr.InvalidArg, "deallocate(%d): out of range", id)
	}

	buf := make([]byte, a.Bm.BlockSize())
	blockID := a.bitmapOffset + blockIdx
	if err := a.Bm.ReadBlock(blockID, buf); err != nil {
		return err
	}
	bm := bitmap.New(buf, len(buf))
	if !bm.Get(bitIdx) {
		return chfserr.Wrap(chfserr.InvalidArg, "deallocate(%d): already free", id)
	}
	bm.Clear(bitIdx)
	return a.Bm.WriteBlock(blockID, buf)
}
