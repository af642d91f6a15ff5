// Package dataserver implements the Data Server (C7): a local block store
// that hands out versioned blocks and fences stale reads against blocks
// that have since been freed and reallocated.
package dataserver

import (
	"encoding/binary"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/internal/alloc"
	"github.com/distr1/chfs-go/internal/block"
)

// DefaultBlockCnt is the default backing-file size, in blocks, for a
// freshly formatted data store.
const DefaultBlockCnt = 1024 * 1024

// Version is the per-block monotonic counter (spec §3 "version table").
type Version = uint32

const versionSize = 4 // sizeof(version_t)

// Server is the Data Server. Its RPC surface (spec §4.7) is bound onto
// this type by package rpcutil's DataService wiring in
// cmd/chfs-datad; Server itself is transport-agnostic.
type Server struct {
	bm    *block.Manager
	alloc *alloc.BlockAllocator

	versionTableBlocks uint64

	commitLog *block.FileCommitLog
}

// Open attaches to (or formats) the backing file at dataPath, reserving
// enough leading blocks for a version table sized for blockCnt blocks,
// per spec §3/§6's data-store layout:
// [version table | data bitmap | data region], starting at block 0.
func Open(dataPath string, blockSize int, blockCnt uint64) (*Server, error) {
	isNew := !fileExists(dataPath)

	bm, err := block.Open(dataPath, blockSize, blockCnt)
	if err != nil {
		return nil, xerrors.Errorf("dataserver.Open: %w", err)
	}

	versionsPerBlock := uint64(blockSize) / versionSize
	versionTableBlocks := blockCnt / versionsPerBlock
	if versionTableBlocks*versionsPerBlock < blockCnt {
		versionTableBlocks++
	}

	remaining := blockCnt - versionTableBlocks
	bitsPerBlock := uint64(blockSize) * 8
	nBitmapBlocks := alloc.BitmapBlocksFor(remaining, bitsPerBlock)

	if isNew {
		for i := uint64(0); i < versionTableBlocks; i++ {
			if err := bm.ZeroBlock(i); err != nil {
				return nil, err
			}
		}
	}

	ba, err := alloc.New(bm, versionTableBlocks, nBitmapBlocks, isNew)
	if err != nil {
		return nil, xerrors.Errorf("dataserver.Open: %w", err)
	}

	if isNew {
		log.Printf("datad: formatted new store at %s (%d blocks, %d version-table blocks, %d bitmap blocks)",
			dataPath, blockCnt, versionTableBlocks, nBitmapBlocks)
	} else {
		log.Printf("datad: attached to existing store at %s", dataPath)
	}

	return &Server{bm: bm, alloc: ba, versionTableBlocks: versionTableBlocks}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Close closes the backing file and, if enabled, the commit log.
func (s *Server) Close() error {
	if s.commitLog != nil {
		s.commitLog.Close()
	}
	return s.bm.Close()
}

// SetMayFail arms/disarms fault injection on the underlying block manager.
func (s *Server) SetMayFail(mayFail bool) { s.bm.SetMayFail(mayFail) }

// EnableCommitLog routes every write through an append-only redo log at
// logPath, replaying any entries already there (from a prior crash) before
// returning. checkpointEnabled truncates the log once the backing file is
// known-consistent (spec §6's optional write-ahead facility).
func (s *Server) EnableCommitLog(logPath string, checkpointEnabled bool) error {
	l, err := block.OpenFileCommitLog(logPath, checkpointEnabled, s.bm)
	if err != nil {
		return err
	}
	s.commitLog = l
	s.bm.SetCommitLog(l)
	return nil
}

// CheckpointCommitLog truncates the commit log once the backing store is
// known-consistent (a no-op if no commit log was enabled via
// EnableCommitLog, or if it was enabled without checkpointing).
func (s *Server) CheckpointCommitLog() error {
	if s.commitLog == nil {
		return nil
	}
	return s.commitLog.Checkpoint()
}

func (s *Server) versionLocation(blockID uint64) (versionBlock uint64, offset int) {
	versionsPerBlock := uint64(s.bm.BlockSize()) / versionSize
	return blockID / versionsPerBlock, int(blockID%versionsPerBlock) * versionSize
}

func (s *Server) readVersion(blockID uint64) (Version, error) {
	vb, voff := s.versionLocation(blockID)
	buf := make([]byte, s.bm.BlockSize())
	if err := s.bm.ReadBlock(vb, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[voff : voff+versionSize]), nil
}

func (s *Server) bumpVersion(blockID uint64) (Version, error) {
	vb, voff := s.versionLocation(blockID)
	cur, err := s.readVersion(blockID)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	var buf [versionSize]byte
	binary.LittleEndian.PutUint32(buf[:], next)
	if err := s.bm.WritePartialBlock(vb, buf[:], voff, versionSize); err != nil {
		return 0, err
	}
	return next, nil
}

// AllocBlock allocates a fresh block and returns it with its bumped
// version (spec §4.7). The block's content is undefined until the caller
// writes to it (spec §5): allocation and content initialization are not
// atomic with each other.
func (s *Server) AllocBlock() (blockID uint64, version Version, err error) {
	blockID, err = s.alloc.Allocate()
	if err != nil {
		return 0, 0, err
	}
	version, err = s.bumpVersion(blockID)
	if err != nil {
		return 0, 0, err
	}
	return blockID, version, nil
}

// FreeBlock deallocates blockID and bumps its version, fencing any reader
// still holding the old version (spec P6, I5).
func (s *Server) FreeBlock(blockID uint64) error {
	if err := s.alloc.Deallocate(blockID); err != nil {
		return err
	}
	_, err := s.bumpVersion(blockID)
	return err
}

// ReadData returns bytes[offset:offset+len] of blockID if version matches
// the block's current version, or an empty slice otherwise (spec §4.7,
// P5: stale-read rejection). All error paths return an empty slice.
func (s *Server) ReadData(blockID uint64, offset, length int, version Version) []byte {
	local, err := s.readVersion(blockID)
	if err != nil || local != version {
		return nil
	}
	buf := make([]byte, s.bm.BlockSize())
	if err := s.bm.ReadBlock(blockID, buf); err != nil {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil
	}
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out
}

// WriteData writes buf into blockID at offset. No version check is
// performed (spec §4.7, §9 open question #2): a client holding a stale
// (block_id, version) pair can still write through it until the next
// free-time fence.
func (s *Server) WriteData(blockID uint64, offset int, buf []byte) bool {
	if err := s.bm.WritePartialBlock(blockID, buf, offset, len(buf)); err != nil {
		return false
	}
	return true
}

