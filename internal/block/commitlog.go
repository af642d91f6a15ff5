package block

import (
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// FileCommitLog is a concrete CommitLogger: an append-only redo log of
// (block_id, offset, bytes) triples, grounded in the original metadata
// server's CommitLog (constructed from is_log_enabled/is_checkpoint_enabled
// flags, spec §6's "MAY be configured to route writes through such a
// log"). Off by default; a deployment opts in with -log on chfs-metad/
// chfs-datad.
type FileCommitLog struct {
	f                 *os.File
	checkpointEnabled bool
}

// OpenFileCommitLog opens (or creates) path as the backing log file and
// replays any entries already in it into bm, so a process restarting after
// a crash mid-write picks back up from the log rather than a possibly
// torn in-place write.
func OpenFileCommitLog(path string, checkpointEnabled bool, bm *Manager) (*FileCommitLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xerrors.Errorf("block.OpenFileCommitLog(%s): %w", path, err)
	}
	l := &FileCommitLog{f: f, checkpointEnabled: checkpointEnabled}
	if err := l.replay(bm); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// entry header: blockID(8) offset(4) length(4), followed by length data bytes.
const commitLogHeaderSize = 8 + 4 + 4

func (l *FileCommitLog) replay(bm *Manager) error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	hdr := make([]byte, commitLogHeaderSize)
	for {
		if _, err := io.ReadFull(l.f, hdr); err != nil {
			if err == io.EOF {
				break
			}
			// A truncated trailing record means the crash happened mid-append;
			// the unreplayed write never made it past the log either, so stop.
			break
		}
		blockID := binary.BigEndian.Uint64(hdr[0:8])
		offset := binary.BigEndian.Uint32(hdr[8:12])
		length := binary.BigEndian.Uint32(hdr[12:16])
		data := make([]byte, length)
		if _, err := io.ReadFull(l.f, data); err != nil {
			break
		}
		if bm != nil {
			if err := bm.WritePartialBlock(blockID, data, int(offset), int(length)); err != nil {
				return xerrors.Errorf("replay commit log: %w", err)
			}
		}
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Append records a pending write before it is applied in place.
func (l *FileCommitLog) Append(blockID uint64, offset int, data []byte) error {
	hdr := make([]byte, commitLogHeaderSize)
	binary.BigEndian.PutUint64(hdr[0:8], blockID)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(offset))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(data)))
	if _, err := l.f.Write(hdr); err != nil {
		return err
	}
	if _, err := l.f.Write(data); err != nil {
		return err
	}
	return nil
}

// Checkpoint truncates the log once the backing file is known-consistent,
// a no-op unless checkpointing was enabled at open time.
func (l *FileCommitLog) Checkpoint() error {
	if !l.checkpointEnabled {
		return nil
	}
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	_, err := l.f.Seek(0, io.SeekStart)
	return err
}

// Close closes the backing log file.
func (l *FileCommitLog) Close() error { return l.f.Close() }
