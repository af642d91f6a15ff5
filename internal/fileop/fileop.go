// Package fileop implements the File Operation layer (C5): a two-level
// block index (direct pointers inside the inode record, plus one indirect
// block) mapping variable-length file content onto fixed-size blocks.
package fileop

import (
	"encoding/binary"
	"time"

	"github.com/distr1/chfs-go/internal/alloc"
	"github.com/distr1/chfs-go/internal/chfserr"
	"github.com/distr1/chfs-go/internal/inode"
)

// blockRW is the slice of block.Manager's interface File Operation needs.
// It includes WritePartialBlock, although FileOperation itself only issues
// whole-block reads and writes.
// Declared locally so this package does not import package block (same
// shared-dependency pattern as bitmap.BlockReadWriter).
type blockRW interface {
	BlockSize() int
	ReadBlock(id uint64, buf []byte) error
	WriteBlock(id uint64, buf []byte) error
	WritePartialBlock(id uint64, buf []byte, offset, length int) error
}

// NowFunc returns the current time as the unix-seconds timestamp stamped
// into inode attributes. Overridable so tests get deterministic times.
var NowFunc = func() uint64 { return uint64(time.Now().Unix()) }

// FileOperation combines a BlockAllocator and an Inode Manager to expose
// file-level primitives on top of the block-level ones.
type FileOperation struct {
	Bm      blockRW
	Im      *inode.Manager
	Alloc   *alloc.BlockAllocator
	NBlocks uint32 // slots per inode record: NBlocks-1 direct, last indirect.
}

// New constructs a FileOperation. nblocks is the store-wide slot count per
// inode record (spec example: 16, giving 15 direct slots + 1 indirect).
func New(bm blockRW, im *inode.Manager, al *alloc.BlockAllocator, nblocks uint32) *FileOperation {
	return &FileOperation{Bm: bm, Im: im, Alloc: al, NBlocks: nblocks}
}

// DirectCap returns the number of direct slots (NBlocks-1).
func (fo *FileOperation) DirectCap() uint64 { return uint64(fo.NBlocks) - 1 }

// IndirectFanout returns how many block ids fit in one indirect block.
func (fo *FileOperation) IndirectFanout() uint64 { return uint64(fo.Bm.BlockSize()) / 8 }

// MaxFileSize returns max_file_sz_supported for this store's block size
// and NBlocks.
func (fo *FileOperation) MaxFileSize() uint64 {
	return (fo.DirectCap() + fo.IndirectFanout()) * uint64(fo.Bm.BlockSize())
}

// RecordSize is sizeof(Inode): the header plus the NBlocks direct/indirect
// slots, all stored as 8-byte block ids (spec §6's Inode record layout).
func (fo *FileOperation) RecordSize() int {
	return inode.HeaderSize + int(fo.NBlocks)*8
}

func calcBlockCount(size uint64, blockSize int) uint64 {
	n := size / uint64(blockSize)
	if size%uint64(blockSize) != 0 {
		n++
	}
	return n
}

// AllocInode allocates a carrier block, then an inode id pointing at it,
// and returns the new inode id.
func (fo *FileOperation) AllocInode(typ inode.Type) (uint64, error) {
	blockID, err := fo.Alloc.Allocate()
	if err != nil {
		return 0, err
	}
	return fo.Im.AllocateInode(typ, fo.NBlocks, blockID)
}

// GetAttr, GetType, GetTypeAttr are convenience passthroughs to the Inode
// Manager.
func (fo *FileOperation) GetAttr(id uint64) (inode.FileAttr, error) { return fo.Im.GetAttr(id) }
func (fo *FileOperation) GetType(id uint64) (inode.Type, error)     { return fo.Im.GetType(id) }
func (fo *FileOperation) GetTypeAttr(id uint64) (inode.Type, inode.FileAttr, error) {
	return fo.Im.GetTypeAttr(id)
}

func directSlot(buf []byte, idx uint64) uint64 {
	off := inode.HeaderSize + int(idx)*8
	return binary.LittleEndian.Uint64(buf[off : off+8])
}

func setDirectSlot(buf []byte, idx uint64, blockID uint64) {
	off := inode.HeaderSize + int(idx)*8
	binary.LittleEndian.PutUint64(buf[off:off+8], blockID)
}

func (fo *FileOperation) indirectSlotIdx() uint64 { return uint64(fo.NBlocks) - 1 }

func indirectWord(buf []byte, idx uint64) uint64 {
	off := int(idx) * 8
	return binary.LittleEndian.Uint64(buf[off : off+8])
}

func setIndirectWord(buf []byte, idx uint64, blockID uint64) {
	off := int(idx) * 8
	binary.LittleEndian.PutUint64(buf[off:off+8], blockID)
}

// ReadFile reads inode id's full content.
func (fo *FileOperation) ReadFile(id uint64) ([]byte, error) {
	blockSize := fo.Bm.BlockSize()
	inodeBuf := make([]byte, blockSize)
	if _, err := fo.Im.ReadInode(id, inodeBuf); err != nil {
		return nil, err
	}
	_, _, attr := inode.DecodeHeader(inodeBuf)
	fileSize := attr.Size
	directCap := fo.DirectCap()
	blocksNeeded := calcBlockCount(fileSize, blockSize)

	var indirect []byte
	content := make([]byte, 0, fileSize)
	for idx := uint64(0); idx < blocksNeeded; idx++ {
		var blockID uint64
		if idx < directCap {
			blockID = directSlot(inodeBuf, idx)
		} else {
			if indirect == nil {
				indirect = make([]byte, blockSize)
				indirectID := directSlot(inodeBuf, fo.indirectSlotIdx())
				if err := fo.Bm.ReadBlock(indirectID, indirect); err != nil {
					return nil, err
				}
			}
			blockID = indirectWord(indirect, idx-directCap)
		}
		buf := make([]byte, blockSize)
		if err := fo.Bm.ReadBlock(blockID, buf); err != nil {
			return nil, err
		}
		remain := fileSize - uint64(len(content))
		n := uint64(blockSize)
		if remain < n {
			n = remain
		}
		content = append(content, buf[:n]...)
	}
	return content, nil
}

// WriteFile replaces inode id's full content with content, growing or
// shrinking the block index as needed. Not crash-atomic: a crash mid-call
// may leak allocated blocks, but never leaves the bitmap inconsistent
// (spec §4.5, §9 "goto-style error unwinding").
func (fo *FileOperation) WriteFile(id uint64, content []byte) error {
	blockSize := fo.Bm.BlockSize()
	inodeBuf := make([]byte, blockSize)
	carrierID, err := fo.Im.ReadInode(id, inodeBuf)
	if err != nil {
		return err
	}

	if uint64(len(content)) > fo.MaxFileSize() {
		return chfserr.New(chfserr.OutOfResource)
	}

	_, nblocks, attr := inode.DecodeHeader(inodeBuf)
	directCap := fo.DirectCap()
	oldBlocks := calcBlockCount(attr.Size, blockSize)
	newBlocks := calcBlockCount(uint64(len(content)), blockSize)

	var indirect []byte
	indirectDirty := false
	loadIndirect := func() error {
		if indirect != nil {
			return nil
		}
		indirect = make([]byte, blockSize)
		indirectID := directSlot(inodeBuf, fo.indirectSlotIdx())
		if indirectID == inode.KInvalidBlockID {
			return nil
		}
		return fo.Bm.ReadBlock(indirectID, indirect)
	}
	if oldBlocks > directCap {
		if err := loadIndirect(); err != nil {
			return err
		}
	}

	switch {
	case newBlocks > oldBlocks:
		for idx := oldBlocks; idx < newBlocks; idx++ {
			blockID, err := fo.Alloc.Allocate()
			if err != nil {
				return err
			}
			if idx < directCap {
				setDirectSlot(inodeBuf, idx, blockID)
				continue
			}
			if directSlot(inodeBuf, fo.indirectSlotIdx()) == inode.KInvalidBlockID {
				indirectID, err := fo.Alloc.Allocate()
				if err != nil {
					return err
				}
				setDirectSlot(inodeBuf, fo.indirectSlotIdx(), indirectID)
				if indirect == nil {
					indirect = make([]byte, blockSize)
				}
			}
			setIndirectWord(indirect, idx-directCap, blockID)
			indirectDirty = true
		}
		if err := fo.Bm.WriteBlock(carrierID, inodeBuf); err != nil {
			return err
		}
		if indirectDirty {
			indirectID := directSlot(inodeBuf, fo.indirectSlotIdx())
			if err := fo.Bm.WriteBlock(indirectID, indirect); err != nil {
				return err
			}
		}

	case newBlocks < oldBlocks:
		for idx := newBlocks; idx < oldBlocks; idx++ {
			var blockID uint64
			if idx < directCap {
				blockID = directSlot(inodeBuf, idx)
			} else {
				blockID = indirectWord(indirect, idx-directCap)
			}
			if err := fo.Alloc.Deallocate(blockID); err != nil {
				return err
			}
		}
		if oldBlocks > directCap && newBlocks <= directCap {
			indirectID := directSlot(inodeBuf, fo.indirectSlotIdx())
			if err := fo.Alloc.Deallocate(indirectID); err != nil {
				return err
			}
			setDirectSlot(inodeBuf, fo.indirectSlotIdx(), inode.KInvalidBlockID)
			indirect = nil
		}
	}

	now := NowFunc()
	attr.Size = uint64(len(content))
	attr.Mtime = now
	attr.SetAllTimes(now)
	inode.EncodeHeader(inodeBuf, inode.Type(inodeBuf[0]), nblocks, attr)

	written := uint64(0)
	blockIdx := uint64(0)
	for written < uint64(len(content)) {
		sz := uint64(blockSize)
		if remain := uint64(len(content)) - written; remain < sz {
			sz = remain
		}
		// buf is zero-filled by make, so short final blocks are
		// automatically padded with zero bytes past sz.
		buf := make([]byte, blockSize)
		copy(buf, content[written:written+sz])

		var blockID uint64
		if blockIdx < directCap {
			blockID = directSlot(inodeBuf, blockIdx)
		} else {
			blockID = indirectWord(indirect, blockIdx-directCap)
		}
		if err := fo.Bm.WriteBlock(blockID, buf); err != nil {
			return err
		}
		written += sz
		blockIdx++
	}

	if err := fo.Bm.WriteBlock(carrierID, inodeBuf); err != nil {
		return err
	}
	if indirect != nil {
		indirectID := directSlot(inodeBuf, fo.indirectSlotIdx())
		if indirectID != inode.KInvalidBlockID {
			if err := fo.Bm.WriteBlock(indirectID, indirect); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFileWOff reads sz bytes starting at offset.
func (fo *FileOperation) ReadFileWOff(id uint64, sz, offset uint64) ([]byte, error) {
	content, err := fo.ReadFile(id)
	if err != nil {
		return nil, err
	}
	if offset+sz > uint64(len(content)) {
		return nil, chfserr.New(chfserr.InvalidArg)
	}
	return content[offset : offset+sz], nil
}

// WriteFileWOff writes data at offset, growing the file if needed, and
// returns the number of bytes written.
func (fo *FileOperation) WriteFileWOff(id uint64, data []byte, offset uint64) (uint64, error) {
	content, err := fo.ReadFile(id)
	if err != nil {
		return 0, err
	}
	need := offset + uint64(len(data))
	if need > uint64(len(content)) {
		grown := make([]byte, need)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:], data)
	if err := fo.WriteFile(id, content); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// Resize truncates or zero-extends inode id's content to sz bytes,
// preserving the min(old, new) prefix (spec P3).
func (fo *FileOperation) Resize(id, sz uint64) (inode.FileAttr, error) {
	attr, err := fo.GetAttr(id)
	if err != nil {
		return inode.FileAttr{}, err
	}
	if attr.Size != sz {
		content, err := fo.ReadFile(id)
		if err != nil {
			return inode.FileAttr{}, err
		}
		resized := make([]byte, sz)
		copy(resized, content)
		if err := fo.WriteFile(id, resized); err != nil {
			return inode.FileAttr{}, err
		}
	}
	attr.Size = sz
	return attr, nil
}

// RemoveFile drains an inode's content (freeing all its data blocks) and
// then frees the inode itself.
func (fo *FileOperation) RemoveFile(id uint64) error {
	if err := fo.WriteFile(id, nil); err != nil {
		return err
	}
	return fo.Im.FreeInode(id)
}
