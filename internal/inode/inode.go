// Package inode implements the Inode Manager (C4): inode id allocation and
// the inode-id -> inode-block-id indirection table, plus the packed
// on-block Inode record header shared by the local and distributed File
// Operation layers.
package inode

import (
	"encoding/binary"

	"github.com/distr1/chfs-go/internal/bitmap"
	"github.com/distr1/chfs-go/internal/chfserr"
)

// Type is the inode type tag.
type Type uint8

const (
	Unknown Type = iota
	File
	Directory
)

// KInvalidBlockID is the reserved, never-allocated block id (mirrors
// block.KInvalidBlockID; duplicated here to avoid an import cycle between
// package block and package inode, neither of which needs the other).
const KInvalidBlockID uint64 = 0

// KInvalidInodeID is the reserved, never-allocated inode id.
const KInvalidInodeID uint64 = 0

// RootInodeID is the inode id guaranteed to exist (as a Directory) once a
// store has been formatted.
const RootInodeID uint64 = 1

// FileAttr is an inode's size/time attributes.
type FileAttr struct {
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
}

// SetAllTimes stamps atime/mtime/ctime with now, matching the original
// Inode::inner_attr.set_all_time behavior used at the end of write_file.
func (a *FileAttr) SetAllTimes(now uint64) {
	a.Atime, a.Mtime, a.Ctime = now, now, now
}

// HeaderSize is the number of bytes the packed header
// (type, nblocks, attr) occupies at offset 0 of an inode's carrier block.
const HeaderSize = 1 /* type */ + 4 /* nblocks */ + 8*4 /* attr */

// EncodeHeader writes the inode header into buf[:HeaderSize].
func EncodeHeader(buf []byte, typ Type, nblocks uint32, attr FileAttr) {
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint32(buf[1:5], nblocks)
	binary.LittleEndian.PutUint64(buf[5:13], attr.Size)
	binary.LittleEndian.PutUint64(buf[13:21], attr.Atime)
	binary.LittleEndian.PutUint64(buf[21:29], attr.Mtime)
	binary.LittleEndian.PutUint64(buf[29:37], attr.Ctime)
}

// DecodeHeader reads the inode header out of buf.
func DecodeHeader(buf []byte) (typ Type, nblocks uint32, attr FileAttr) {
	typ = Type(buf[0])
	nblocks = binary.LittleEndian.Uint32(buf[1:5])
	attr.Size = binary.LittleEndian.Uint64(buf[5:13])
	attr.Atime = binary.LittleEndian.Uint64(buf[13:21])
	attr.Mtime = binary.LittleEndian.Uint64(buf[21:29])
	attr.Ctime = binary.LittleEndian.Uint64(buf[29:37])
	return
}

// Manager is the Inode Manager (C4). It owns [1, 1+nTableBlocks) as the
// inode table and [1+nTableBlocks, 1+nTableBlocks+nBitmapBlocks) as the
// inode allocation bitmap, both addressed relative to the store's own
// block numbering (block 0 reserved for local/metadata stores).
type Manager struct {
	Bm bitmap.BlockReadWriter

	MaxInodeSupported uint64
	NTableBlocks      uint64
	NBitmapBlocks     uint64
}

// New constructs an inode Manager over bm, supporting at least
// maxInodeSupported inodes (rounded up to a whole number of bitmap
// blocks). When isNew is true, the owned table and bitmap blocks are
// zeroed; otherwise existing on-disk state is trusted.
func New(bm bitmap.BlockReadWriter, maxInodeSupported uint64, isNew bool) (*Manager, error) {
	blockSize := uint64(bm.BlockSize())
	bitsPerBlock := blockSize * bitmap.KBitsPerByte

	nBitmapBlocks := maxInodeSupported / bitsPerBlock
	if nBitmapBlocks*bitsPerBlock < maxInodeSupported {
		nBitmapBlocks++
	}
	maxInodeSupported = nBitmapBlocks * bitsPerBlock

	entriesPerBlock := blockSize / 8 // sizeof(block_id_t)
	nTableBlocks := maxInodeSupported / entriesPerBlock
	if nTableBlocks*entriesPerBlock < maxInodeSupported {
		nTableBlocks++
	}

	m := &Manager{
		Bm:                bm,
		MaxInodeSupported: maxInodeSupported,
		NTableBlocks:      nTableBlocks,
		NBitmapBlocks:     nBitmapBlocks,
	}

	if isNew {
		for i := uint64(0); i < nTableBlocks; i++ {
			if err := zeroBlock(bm, 1+i); err != nil {
				return nil, err
			}
		}
		for i := uint64(0); i < nBitmapBlocks; i++ {
			if err := zeroBlock(bm, 1+nTableBlocks+i); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func zeroBlock(bm bitmap.BlockReadWriter, id uint64) error {
	return bm.WriteBlock(id, make([]byte, bm.BlockSize()))
}

// BitmapStart returns the first block id of the inode allocation bitmap.
func (m *Manager) BitmapStart() uint64 { return 1 + m.NTableBlocks }

// DataBitmapStart returns the first block id past the inode manager's own
// region, where the caller's data allocation bitmap begins.
func (m *Manager) DataBitmapStart() uint64 { return 1 + m.NTableBlocks + m.NBitmapBlocks }

func (m *Manager) tableLocation(rawIndex uint64) (blockID uint64, offset int) {
	entriesPerBlock := uint64(m.Bm.BlockSize()) / 8
	return 1 + rawIndex/entriesPerBlock, int(rawIndex%entriesPerBlock) * 8
}

// SetTable writes blockID into the inode table entry at rawIndex.
func (m *Manager) SetTable(rawIndex, blockID uint64) error {
	if rawIndex >= m.MaxInodeSupported {
		return chfserr.New(chfserr.Invalid)
	}
	blkID, offset := m.tableLocation(rawIndex)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], blockID)
	return writePartial(m.Bm, blkID, buf[:], offset)
}

// writePartial writes data at offset within block id. When bm also has
// WritePartialBlock (as block.Manager does) that is called directly;
// otherwise the narrower BlockReadWriter interface (whole-block Read/Write
// only) is used for a read-modify-write of the block.
func writePartial(bm bitmap.BlockReadWriter, id uint64, data []byte, offset int) error {
	if pw, ok := bm.(interface {
		WritePartialBlock(id uint64, buf []byte, offset, length int) error
	}); ok {
		return pw.WritePartialBlock(id, data, offset, len(data))
	}
	buf := make([]byte, bm.BlockSize())
	if err := bm.ReadBlock(id, buf); err != nil {
		return err
	}
	copy(buf[offset:], data)
	return bm.WriteBlock(id, buf)
}

// Get returns the carrier block id of inode id, per the inode table.
func (m *Manager) Get(id uint64) (uint64, error) {
	raw := id - 1 // LOGIC_2_RAW
	blkID, offset := m.tableLocation(raw)
	buf := make([]byte, m.Bm.BlockSize())
	if err := m.Bm.ReadBlock(blkID, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), nil
}

// AllocateInode claims the first free bit in the inode bitmap, records
// carrierBlockID as that inode's carrier block in the table, initializes a
// fresh zero-size inode record of the given type at offset 0 of
// carrierBlockID (leaving the rest of the block zero, representing an
// empty block index), and returns the new logical inode id.
func (m *Manager) AllocateInode(typ Type, nblocks uint32, carrierBlockID uint64) (uint64, error) {
	it, err := bitmap.NewBlockIterator(m.Bm, m.BitmapStart(), m.DataBitmapStart())
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
			rawIndex := blockIdx*uint64(m.Bm.BlockSize())*bitmap.KBitsPerByte + idx

			if err := m.SetTable(rawIndex, carrierBlockID); err != nil {
				return 0, err
			}

			block := make([]byte, m.Bm.BlockSize())
			EncodeHeader(block, typ, nblocks, FileAttr{})
			if err := m.Bm.WriteBlock(carrierBlockID, block); err != nil {
				return 0, err
			}
			return rawIndex + 1, nil // RAW_2_LOGIC
		}
		if err := it.Next(); err != nil {
			return 0, err
		}
		blockIdx++
	}
	return 0, chfserr.New(chfserr.OutOfResource)
}

// ReadInode reads inode id's carrier block into buf, which must be at
// least one block long, and returns the carrier block id.
func (m *Manager) ReadInode(id uint64, buf []byte) (uint64, error) {
	if id == KInvalidInodeID || id-1 >= m.MaxInodeSupported {
		return 0, chfserr.New(chfserr.InvalidArg)
	}
	blockID, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	if blockID == KInvalidBlockID {
		return 0, chfserr.New(chfserr.InvalidArg)
	}
	if err := m.Bm.ReadBlock(blockID, buf); err != nil {
		return 0, err
	}
	return blockID, nil
}

// FreeInode clears the table entry and bitmap bit for id. It does not
// touch any data blocks the inode's content referenced — draining those is
// the File Operation layer's responsibility (spec §3 lifecycles).
func (m *Manager) FreeInode(id uint64) error {
	if id-1 >= m.MaxInodeSupported {
		return chfserr.New(chfserr.InvalidArg)
	}
	raw := id - 1
	if err := m.SetTable(raw, KInvalidBlockID); err != nil {
		return err
	}
	bitsPerBlock := uint64(m.Bm.BlockSize()) * bitmap.KBitsPerByte
	bitmapBlockID := m.BitmapStart() + raw/bitsPerBlock
	offset := raw % bitsPerBlock

	buf := make([]byte, m.Bm.BlockSize())
	if err := m.Bm.ReadBlock(bitmapBlockID, buf); err != nil {
		return err
	}
	bm := bitmap.New(buf, len(buf))
	bm.Clear(offset)
	return m.Bm.WriteBlock(bitmapBlockID, buf)
}

// GetAttr reads id's size/time attributes.
func (m *Manager) GetAttr(id uint64) (FileAttr, error) {
	_, attr, err := m.GetTypeAttr(id)
	return attr, err
}

// GetType reads id's type tag.
func (m *Manager) GetType(id uint64) (Type, error) {
	typ, _, err := m.GetTypeAttr(id)
	return typ, err
}

// GetTypeAttr reads both id's type tag and its attributes in one pass.
func (m *Manager) GetTypeAttr(id uint64) (Type, FileAttr, error) {
	buf := make([]byte, m.Bm.BlockSize())
	if _, err := m.ReadInode(id, buf); err != nil {
		return Unknown, FileAttr{}, err
	}
	typ, _, attr := DecodeHeader(buf)
	return typ, attr, nil
}

// FreeCount returns the number of unallocated inode ids (spec §4
// supplement, ported from the original InodeManager::free_inode_cnt).
func (m *Manager) FreeCount() (uint64, error) {
	it, err := bitmap.NewBlockIterator(m.Bm, m.BitmapStart(), m.DataBitmapStart())
	if err != nil {
		return 0, err
	}
	var count uint64
	for it.HasNext() {
		count += it.Bitmap().CountZeros()
		if err := it.Next(); err != nil {
			return 0, err
		}
	}
	return count, nil
}
