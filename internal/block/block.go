// Package block implements the fixed-size block I/O layer (spec §4.1) that
// every other layer of the storage engine is built on: a backing file
// sliced into block_size-byte blocks, addressed by a zero-based block id.
package block

import (
	"os"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/internal/chfserr"
	"github.com/distr1/chfs-go/internal/trace"
)

// KInvalidBlockID is the reserved, never-allocated block id.
const KInvalidBlockID uint64 = 0

// CommitLogger is the optional write-ahead facility spec.md §6 allows a
// BlockManager to be configured with ("the storage engine MAY be
// configured to route writes through such a log; the log's internals are
// not specified here"). Implementations append the mutation before it is
// applied in place and may use Checkpoint to truncate the log once the
// backing file itself is known-consistent.
type CommitLogger interface {
	Append(blockID uint64, offset int, data []byte) error
	Checkpoint() error
}

// Manager is the Block Manager (C1): fixed-size block I/O over a backing
// file. All operations fail closed — either the whole call succeeds, or it
// fails and no partial write is observable to a later reader of the same
// block, because every write is serialized behind mu.
type Manager struct {
	f         *os.File
	blockSize int
	nBlocks   uint64

	mu      sync.Mutex
	mayFail bool
	log     CommitLogger
}

// Open opens (or creates) path as a backing file holding nBlocks blocks of
// blockSize bytes each, growing it to the full size if it is new or
// short.
func Open(path string, blockSize int, nBlocks uint64) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xerrors.Errorf("block.Open(%s): %w", path, err)
	}
	want := int64(blockSize) * int64(nBlocks)
	if err := f.Truncate(want); err != nil {
		f.Close()
		return nil, xerrors.Errorf("block.Open(%s): truncate: %w", path, err)
	}
	return &Manager{f: f, blockSize: blockSize, nBlocks: nBlocks}, nil
}

// Close closes the backing file.
func (m *Manager) Close() error {
	return m.f.Close()
}

// SetCommitLog installs (or removes, with nil) the write-ahead log every
// write is routed through before being applied in place.
func (m *Manager) SetCommitLog(log CommitLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
}

// SetMayFail arms (or disarms) fault injection on the write path, for
// exercising error handling in tests.
func (m *Manager) SetMayFail(mayFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mayFail = mayFail
}

// BlockSize returns the fixed block size in bytes.
func (m *Manager) BlockSize() int { return m.blockSize }

// TotalBlocks returns the number of blocks the backing file holds.
func (m *Manager) TotalBlocks() uint64 { return m.nBlocks }

func (m *Manager) checkRange(id uint64) error {
	if id >= m.nBlocks {
		return chfserr.Wrap(chfserr.Invalid, "block id %d out of range [0, %d)", id, m.nBlocks)
	}
	return nil
}

// ReadBlock reads the full block id into buf, which must be at least
// BlockSize() bytes.
func (m *Manager) ReadBlock(id uint64, buf []byte) error {
	defer trace.BlockEvent("read_block", id).Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRange(id); err != nil {
		return err
	}
	n, err := m.f.ReadAt(buf[:m.blockSize], int64(id)*int64(m.blockSize))
	if err != nil {
		return chfserr.Wrap(chfserr.IoError, "read_block(%d): %v", id, err)
	}
	if n != m.blockSize {
		return chfserr.Wrap(chfserr.IoError, "read_block(%d): short read %d/%d", id, n, m.blockSize)
	}
	return nil
}

// WriteBlock overwrites the full block id with buf, which must be exactly
// BlockSize() bytes.
func (m *Manager) WriteBlock(id uint64, buf []byte) error {
	return m.WritePartialBlock(id, buf, 0, len(buf))
}

// WritePartialBlock writes buf[:length] into block id starting at offset.
// The write is all-or-nothing: either it lands in full, or the call
// returns an error and the block is unchanged from the perspective of any
// reader serialized behind mu.
func (m *Manager) WritePartialBlock(id uint64, buf []byte, offset, length int) error {
	defer trace.BlockEvent("write_partial_block", id).Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRange(id); err != nil {
		return err
	}
	if offset < 0 || length < 0 || offset+length > m.blockSize {
		return chfserr.Wrap(chfserr.Invalid, "write_partial_block(%d): offset %d len %d exceeds block size %d", id, offset, length, m.blockSize)
	}
	if m.mayFail {
		return chfserr.Wrap(chfserr.IoError, "write_partial_block(%d): injected fault", id)
	}
	if m.log != nil {
		if err := m.log.Append(id, offset, buf[:length]); err != nil {
			return chfserr.Wrap(chfserr.IoError, "write_partial_block(%d): commit log: %v", id, err)
		}
	}
	n, err := m.f.WriteAt(buf[:length], int64(id)*int64(m.blockSize)+int64(offset))
	if err != nil {
		return chfserr.Wrap(chfserr.IoError, "write_partial_block(%d): %v", id, err)
	}
	if n != length {
		return chfserr.Wrap(chfserr.IoError, "write_partial_block(%d): short write %d/%d", id, n, length)
	}
	return nil
}

// ZeroBlock overwrites the full block id with zero bytes.
func (m *Manager) ZeroBlock(id uint64) error {
	zero := make([]byte, m.blockSize)
	return m.WriteBlock(id, zero)
}
