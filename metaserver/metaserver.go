// Package metaserver implements the Metadata Server (C8): it owns the
// namespace (via internal/fileop and internal/dirop) and composes it with
// RPCs to registered data servers to place and locate file content blocks.
package metaserver

import (
	"encoding/binary"
	"log"
	"math/rand"
	"os"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/internal/alloc"
	"github.com/distr1/chfs-go/internal/block"
	"github.com/distr1/chfs-go/internal/chfserr"
	"github.com/distr1/chfs-go/internal/dirop"
	"github.com/distr1/chfs-go/internal/fileop"
	"github.com/distr1/chfs-go/internal/inode"

	"github.com/google/uuid"
)

// DefaultBlockCnt is the default backing-file size, in blocks, for a
// freshly formatted metadata store.
const DefaultBlockCnt = 1024 * 1024

// DistributedNBlocks is the direct+indirect slot count every inode record
// is allocated with in this store. It governs both the namespace content
// each inode can hold locally (directory entry streams, mostly) and,
// indirectly, how much of the carrier block is left over at
// sizeof(Inode) for the distributed block-map (see RecordSize/BlockInfo
// capacity below). Matches the local-store default used in spec.md's S1-S6
// walkthroughs.
const DistributedNBlocks = 16

const blockInfoSize = 16 // block_id(8) + machine_id(4) + version(4)

// BlockInfo is the (block_id, machine_id, version) triple spec.md's
// GLOSSARY defines: it addresses one remote data block and fences stale
// reads of it.
type BlockInfo struct {
	BlockID   uint64
	MachineID uint32
	Version   uint32
}

// Invalid reports whether bi is the KInvalidBlockID sentinel triple.
func (bi BlockInfo) Invalid() bool { return bi.BlockID == inode.KInvalidBlockID }

func encodeBlockInfo(buf []byte, bi BlockInfo) {
	binary.LittleEndian.PutUint64(buf[0:8], bi.BlockID)
	binary.LittleEndian.PutUint32(buf[8:12], bi.MachineID)
	binary.LittleEndian.PutUint32(buf[12:16], bi.Version)
}

func decodeBlockInfo(buf []byte) BlockInfo {
	return BlockInfo{
		BlockID:   binary.LittleEndian.Uint64(buf[0:8]),
		MachineID: binary.LittleEndian.Uint32(buf[8:12]),
		Version:   binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// DataClient is the slice of a data server's RPC surface the metadata
// server calls. Declared here rather than imported from the transport
// package so this package stays swappable across RPC transports (spec §6:
// "the RPC transport is swappable"); package rpcutil supplies a concrete
// net/rpc-backed implementation.
type DataClient interface {
	AllocBlock() (blockID uint64, version uint32, err error)
	FreeBlock(blockID uint64) (bool, error)
	Close() error
}

// DialDataServer dials address:port and returns a DataClient talking to
// it. reliable is threaded through to the transport for fault-injection
// tests (spec §6, "a boolean reliable knob for fault injection").
type DialDataServer func(address string, port uint16, reliable bool) (DataClient, error)

// Server is the Metadata Server. Its RPC surface (spec §4.8) is bound onto
// this type by package rpcutil's server wiring in cmd/chfs-metad; Server
// itself is transport-agnostic and directly unit-testable.
type Server struct {
	bm   *block.Manager
	im   *inode.Manager
	fo   *fileop.FileOperation
	do   *dirop.Operations
	dial DialDataServer

	mu             sync.Mutex
	clients        map[uint32]DataClient
	clientLabels   map[uint32]uuid.UUID
	numDataServers uint32
	running        bool

	commitLog *block.FileCommitLog
}

// Open attaches to (or formats) the metadata store at dataPath, allocating
// the root directory inode (id 1) on first-time formatting, per spec §3
// I6 and §6's metadata-store layout:
// [inode table | inode bitmap | data bitmap | data region], block 0
// reserved.
func Open(dataPath string, blockSize int, blockCnt uint64, maxInodeSupported uint64, dial DialDataServer) (*Server, error) {
	isNew := !fileExists(dataPath)

	bm, err := block.Open(dataPath, blockSize, blockCnt)
	if err != nil {
		return nil, xerrors.Errorf("metaserver.Open: %w", err)
	}

	im, err := inode.New(bm, maxInodeSupported, isNew)
	if err != nil {
		return nil, xerrors.Errorf("metaserver.Open: %w", err)
	}

	remaining := blockCnt - im.DataBitmapStart()
	bitsPerBlock := uint64(blockSize) * 8
	nBitmapBlocks := alloc.BitmapBlocksFor(remaining, bitsPerBlock)

	ba, err := alloc.New(bm, im.DataBitmapStart(), nBitmapBlocks, isNew)
	if err != nil {
		return nil, xerrors.Errorf("metaserver.Open: %w", err)
	}

	fo := fileop.New(bm, im, ba, DistributedNBlocks)
	do := dirop.New(fo)

	s := &Server{
		bm:           bm,
		im:           im,
		fo:           fo,
		do:           do,
		dial:         dial,
		clients:      make(map[uint32]DataClient),
		clientLabels: make(map[uint32]uuid.UUID),
	}

	if isNew {
		rootID, err := fo.AllocInode(inode.Directory)
		if err != nil {
			return nil, xerrors.Errorf("metaserver.Open: allocate root directory: %w", err)
		}
		if rootID != inode.RootInodeID {
			return nil, xerrors.Errorf("metaserver.Open: bad initialization, root got id %d", rootID)
		}
		log.Printf("metad: formatted new namespace at %s", dataPath)
	} else {
		log.Printf("metad: restarting from existing namespace at %s", dataPath)
	}

	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SetMayFail arms/disarms fault injection on the underlying block manager.
func (s *Server) SetMayFail(mayFail bool) { s.bm.SetMayFail(mayFail) }

// Close closes the backing namespace store, the commit log if enabled,
// and every registered data server connection.
func (s *Server) Close() error {
	s.mu.Lock()
	clients := make([]DataClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	if s.commitLog != nil {
		s.commitLog.Close()
	}
	return s.bm.Close()
}

// EnableCommitLog routes every namespace-store write through an
// append-only redo log at logPath, replaying any entries already there
// (from a prior crash) before returning. checkpointEnabled truncates the
// log once the backing file is known-consistent (spec §6's optional
// write-ahead facility).
func (s *Server) EnableCommitLog(logPath string, checkpointEnabled bool) error {
	l, err := block.OpenFileCommitLog(logPath, checkpointEnabled, s.bm)
	if err != nil {
		return err
	}
	s.commitLog = l
	s.bm.SetCommitLog(l)
	return nil
}

// CheckpointCommitLog truncates the commit log once the namespace store is
// known-consistent (a no-op if no commit log was enabled via
// EnableCommitLog, or if it was enabled without checkpointing).
func (s *Server) CheckpointCommitLog() error {
	if s.commitLog == nil {
		return nil
	}
	return s.commitLog.Checkpoint()
}

// recordSize is sizeof(Inode): header + this store's NBlocks slots.
func (s *Server) recordSize() int { return s.fo.RecordSize() }

// maxBlockInfoEntries is the distributed block-map capacity per inode:
// floor((block_size - sizeof(Inode)) / sizeof(BlockInfo)), the same figure
// spec §4.8's allocate_block uses to reject a full block-map. get_block_map
// scans up to this many entries too (see DESIGN.md for why this
// implementation reads the two clauses of spec §4.8 as the same bound).
func (s *Server) maxBlockInfoEntries() int {
	return (s.bm.BlockSize() - s.recordSize()) / blockInfoSize
}

// Mknode creates an inode of type typ named name inside parent, returning
// 0 on any failure (spec §4.8 sentinel translation).
func (s *Server) Mknode(typ uint8, parent uint64, name string) uint64 {
	id, err := s.do.MkHelper(parent, name, inode.Type(typ))
	if err != nil {
		return 0
	}
	return id
}

// Unlink removes name from parent, returning false on any failure.
func (s *Server) Unlink(parent uint64, name string) bool {
	return s.do.Unlink(parent, name) == nil
}

// Lookup returns the inode id of name inside parent, or 0 on miss/failure.
func (s *Server) Lookup(parent uint64, name string) uint64 {
	id, err := s.do.Lookup(parent, name)
	if err != nil {
		return 0
	}
	return id
}

// Readdir returns id's directory entries, or nil on failure.
func (s *Server) Readdir(id uint64) []dirop.Entry {
	entries, err := s.do.ReadDirectory(id)
	if err != nil {
		return nil
	}
	return entries
}

// GetTypeAttr returns id's size/atime/mtime/ctime/type tag.
func (s *Server) GetTypeAttr(id uint64) (size, atime, mtime, ctime uint64, typ uint8) {
	t, attr, err := s.fo.GetTypeAttr(id)
	if err != nil {
		return 0, 0, 0, 0, 0
	}
	return attr.Size, attr.Atime, attr.Mtime, attr.Ctime, uint8(t)
}

// GetBlockMap returns every entry of id's distributed block-map, among its
// maxBlockInfoEntries slots, whose block_id != KInvalidBlockID; invalid
// slots left by FreeBlock are skipped, not treated as the end of the map.
func (s *Server) GetBlockMap(id uint64) ([]BlockInfo, error) {
	buf := make([]byte, s.bm.BlockSize())
	if _, err := s.im.ReadInode(id, buf); err != nil {
		return nil, err
	}
	region := buf[s.recordSize():]
	max := s.maxBlockInfoEntries()
	entries := make([]BlockInfo, 0, max)
	for i := 0; i < max; i++ {
		bi := decodeBlockInfo(region[i*blockInfoSize:])
		if bi.Invalid() {
			continue
		}
		entries = append(entries, bi)
	}
	return entries, nil
}

// AllocateBlock picks a data server uniformly at random, asks it to
// allocate a fresh block, and records the resulting BlockInfo triple in
// id's block-map (spec §4.8).
func (s *Server) AllocateBlock(id uint64) (BlockInfo, error) {
	s.mu.Lock()
	n := s.numDataServers
	s.mu.Unlock()
	if n == 0 {
		return BlockInfo{}, xerrors.New("allocate_block: no data servers registered")
	}
	macID := uint32(rand.Intn(int(n))) + 1

	s.mu.Lock()
	cli := s.clients[macID]
	s.mu.Unlock()
	if cli == nil {
		return BlockInfo{}, xerrors.Errorf("allocate_block: no client for machine %d", macID)
	}

	blockID, version, err := cli.AllocBlock()
	if err != nil {
		return BlockInfo{}, err
	}
	bi := BlockInfo{BlockID: blockID, MachineID: macID, Version: version}

	buf := make([]byte, s.bm.BlockSize())
	carrierID, err := s.im.ReadInode(id, buf)
	if err != nil {
		return BlockInfo{}, err
	}
	region := buf[s.recordSize():]
	max := s.maxBlockInfoEntries()

	existing := make([]BlockInfo, 0, max)
	for i := 0; i < max; i++ {
		cur := decodeBlockInfo(region[i*blockInfoSize:])
		if !cur.Invalid() {
			existing = append(existing, cur)
		}
	}
	if len(existing) >= max {
		return BlockInfo{}, chfserr.New(chfserr.OutOfResource)
	}
	existing = append(existing, bi)

	out := make([]byte, len(existing)*blockInfoSize)
	for i, e := range existing {
		encodeBlockInfo(out[i*blockInfoSize:], e)
	}
	if err := s.bm.WritePartialBlock(carrierID, out, s.recordSize(), len(out)); err != nil {
		return BlockInfo{}, err
	}
	return bi, nil
}

// FreeBlock locates the (blockID, machineID) entry in id's block-map,
// invalidates it, and RPCs the owning data server to actually free the
// block. Unlike the original chfs implementation this never calls a local
// block allocator on a remote block id (spec §9 open question #1).
func (s *Server) FreeBlock(id, blockID uint64, machineID uint32) (bool, error) {
	buf := make([]byte, s.bm.BlockSize())
	carrierID, err := s.im.ReadInode(id, buf)
	if err != nil {
		return false, err
	}
	region := buf[s.recordSize():]
	max := s.maxBlockInfoEntries()

	found := -1
	for i := 0; i < max; i++ {
		cur := decodeBlockInfo(region[i*blockInfoSize:])
		if !cur.Invalid() && cur.BlockID == blockID {
			found = i
			break
		}
	}
	if found < 0 {
		return false, chfserr.New(chfserr.NotExist)
	}

	invalid := make([]byte, blockInfoSize)
	off := s.recordSize() + found*blockInfoSize
	if err := s.bm.WritePartialBlock(carrierID, invalid, off, blockInfoSize); err != nil {
		return false, err
	}

	s.mu.Lock()
	cli := s.clients[machineID]
	s.mu.Unlock()
	if cli == nil {
		return false, xerrors.Errorf("free_block: no client for machine %d", machineID)
	}
	return cli.FreeBlock(blockID)
}

// RegServer registers a data server reachable at address:port, dialing it
// immediately so later AllocateBlock/FreeBlock calls have a live client.
func (s *Server) RegServer(address string, port uint16, reliable bool) (bool, error) {
	cli, err := s.dial(address, port, reliable)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.numDataServers++
	macID := s.numDataServers
	s.clients[macID] = cli
	s.clientLabels[macID] = uuid.New()
	s.mu.Unlock()
	log.Printf("metad: registered data server %d at %s:%d (%s)", macID, address, port, s.clientLabels[macID])
	return true, nil
}

// Run transitions the server to serving. Repeated calls return false
// (spec §4.8 startup protocol).
func (s *Server) Run() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// FreeInodeCount exposes the namespace store's free-inode counter (spec §4
// supplement), surfaced by chfsctl df.
func (s *Server) FreeInodeCount() (uint64, error) { return s.im.FreeCount() }
