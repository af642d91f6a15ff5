package block

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/distr1/chfs-go/internal/chfserr"
	"golang.org/x/xerrors"
)

func open(t *testing.T, blockSize int, nBlocks uint64) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.img")
	m, err := Open(path, blockSize, nBlocks)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWriteBlockThenReadBlockRoundTrips(t *testing.T) {
	m := open(t, 16, 4)
	want := bytes.Repeat([]byte{0xAB}, 16)
	if err := m.WriteBlock(2, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 16)
	if err := m.ReadBlock(2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadBlock(2) = %x, want %x", got, want)
	}
}

func TestWritePartialBlockLeavesRestUntouched(t *testing.T) {
	m := open(t, 8, 1)
	if err := m.WriteBlock(0, bytes.Repeat([]byte{0xFF}, 8)); err != nil {
		t.Fatal(err)
	}
	if err := m.WritePartialBlock(0, []byte{0x01, 0x02}, 2, 2); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 8)
	if err := m.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xFF, 0xFF, 0x01, 0x02, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadBlock(0) = %x, want %x", got, want)
	}
}

func TestOutOfRangeBlockIDRejected(t *testing.T) {
	m := open(t, 8, 2)
	buf := make([]byte, 8)
	if err := m.ReadBlock(2, buf); xerrors.As(err, new(*chfserr.Error)) == false {
		t.Errorf("ReadBlock(2) on a 2-block store = %v, want a chfserr.Error", err)
	}
}

func TestWritePartialBlockRejectsOverflow(t *testing.T) {
	m := open(t, 8, 1)
	if err := m.WritePartialBlock(0, make([]byte, 8), 4, 8); err == nil {
		t.Errorf("WritePartialBlock with offset+length > block size succeeded")
	}
}

func TestMayFailInjectsWriteErrors(t *testing.T) {
	m := open(t, 8, 1)
	m.SetMayFail(true)
	if err := m.WriteBlock(0, make([]byte, 8)); err == nil {
		t.Errorf("WriteBlock with mayFail armed succeeded")
	}
	m.SetMayFail(false)
	if err := m.WriteBlock(0, make([]byte, 8)); err != nil {
		t.Errorf("WriteBlock after disarming mayFail failed: %v", err)
	}
}

func TestZeroBlock(t *testing.T) {
	m := open(t, 8, 1)
	if err := m.WriteBlock(0, bytes.Repeat([]byte{0x42}, 8)); err != nil {
		t.Fatal(err)
	}
	if err := m.ZeroBlock(0); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 8)
	if err := m.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, 8)) {
		t.Errorf("ZeroBlock did not zero the block: %x", got)
	}
}

type failingLog struct{ err error }

func (f failingLog) Append(uint64, int, []byte) error { return f.err }
func (f failingLog) Checkpoint() error                { return nil }

func TestCommitLogFailureAbortsWrite(t *testing.T) {
	m := open(t, 8, 1)
	m.SetCommitLog(failingLog{err: xerrors.New("log full")})
	if err := m.WriteBlock(0, bytes.Repeat([]byte{0x11}, 8)); err == nil {
		t.Errorf("WriteBlock with a failing commit log succeeded")
	}
	got := make([]byte, 8)
	if err := m.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, 8)) {
		t.Errorf("block mutated despite commit log rejecting the write: %x", got)
	}
}
