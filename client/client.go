// Package client implements the POSIX-shaped client library (spec §5):
// it composes a metadata-server connection with parallel data-server block
// RPCs to present mknode/unlink/lookup/readdir/attr/read/write as single
// calls.
package client

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/internal/chfserr"
	"github.com/distr1/chfs-go/internal/rpcutil"
	"github.com/distr1/chfs-go/metaserver"
)

// Client is a connection to one metadata server. Data-server connections
// are opened lazily per machine id and cached, mirroring the teacher's
// dependency-injected RPC client-map pattern used in metaserver.Server.
type Client struct {
	meta *rpcutil.MetaClient

	dataDial func(address string, port uint16, reliable bool) (*rpcutil.DataClient, error)
	dataAddr func(machineID uint32) (address string, port uint16, err error)
	dataConn map[uint32]*rpcutil.DataClient
}

// New dials the metadata server at metaAddr:metaPort. dataAddr resolves a
// machine id (as returned in a BlockInfo) to a dialable data-server
// address; a deployment typically derives this from its own
// machine-id-to-endpoint config rather than from the metadata server,
// since the metadata server's RegServer call is itself the one who assigns
// machine ids.
func New(metaAddr string, metaPort uint16, dataAddr func(machineID uint32) (string, uint16, error)) (*Client, error) {
	meta, err := rpcutil.DialMetaServer(metaAddr, metaPort)
	if err != nil {
		return nil, err
	}
	return &Client{
		meta:     meta,
		dataDial: rpcutil.DialDataServer,
		dataAddr: dataAddr,
		dataConn: make(map[uint32]*rpcutil.DataClient),
	}, nil
}

func (c *Client) dataClient(machineID uint32) (*rpcutil.DataClient, error) {
	if cli, ok := c.dataConn[machineID]; ok {
		return cli, nil
	}
	addr, port, err := c.dataAddr(machineID)
	if err != nil {
		return nil, err
	}
	cli, err := c.dataDial(addr, port, true)
	if err != nil {
		return nil, err
	}
	c.dataConn[machineID] = cli
	return cli, nil
}

func (c *Client) Close() error {
	for _, cli := range c.dataConn {
		cli.Close()
	}
	return c.meta.Close()
}

// Mknode creates a File (typ=1) or Directory (typ=2) named name inside
// parent.
func (c *Client) Mknode(typ uint8, parent uint64, name string) (uint64, error) {
	id, err := c.meta.Mknode(typ, parent, name)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, chfserr.New(chfserr.AlreadyExist)
	}
	return id, nil
}

// Unlink removes name from parent.
func (c *Client) Unlink(parent uint64, name string) error {
	ok, err := c.meta.Unlink(parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return chfserr.New(chfserr.NotExist)
	}
	return nil
}

// Lookup resolves name inside parent to an inode id.
func (c *Client) Lookup(parent uint64, name string) (uint64, error) {
	id, err := c.meta.Lookup(parent, name)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, chfserr.New(chfserr.NotExist)
	}
	return id, nil
}

// Entry is one directory entry.
type Entry = rpcutil.DirEntry

// Readdir lists id's entries.
func (c *Client) Readdir(id uint64) ([]Entry, error) {
	return c.meta.Readdir(id)
}

// Attr is a file/directory's size and timestamps plus its type tag.
type Attr struct {
	Size                uint64
	Atime, Mtime, Ctime uint64
	Type                uint8
}

// GetAttr reads id's attributes.
func (c *Client) GetAttr(id uint64) (Attr, error) {
	size, atime, mtime, ctime, typ, err := c.meta.GetTypeAttr(id)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Size: size, Atime: atime, Mtime: mtime, Ctime: ctime, Type: typ}, nil
}

// FreeInodeCount reports how many inodes remain unallocated in the
// metadata server's namespace store.
func (c *Client) FreeInodeCount() (uint64, error) {
	return c.meta.FreeInodeCount()
}

// Read fetches id's full content by resolving its distributed block-map
// and fanning out one ReadData RPC per block in parallel (spec §5).
// blockSize must match the data servers' configured block size.
func (c *Client) Read(id uint64, blockSize int) ([]byte, error) {
	attr, err := c.GetAttr(id)
	if err != nil {
		return nil, err
	}
	blocks, err := c.meta.GetBlockMap(id)
	if err != nil {
		return nil, err
	}

	chunks := make([][]byte, len(blocks))
	var g errgroup.Group
	for i, bi := range blocks {
		i, bi := i, bi
		g.Go(func() error {
			cli, err := c.dataClient(bi.MachineID)
			if err != nil {
				return err
			}
			data, err := cli.ReadData(bi.BlockID, 0, blockSize, bi.Version)
			if err != nil {
				return err
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, xerrors.Errorf("client.Read(%d): %w", id, err)
	}

	out := make([]byte, 0, attr.Size)
	for _, ch := range chunks {
		out = append(out, ch...)
	}
	// attr.Size only reflects byte-accurate length for content written
	// through a local File Operation (e.g. directory entry streams on the
	// metadata server itself); nothing in the metadata server's RPC
	// surface feeds a byte-level size back for blocks placed via
	// AllocateBlock (ported limitation, see original allocate_block/
	// free_block: neither touches inner_attr.size). Only trim when the
	// metadata server actually has a nonzero size on record.
	if attr.Size > 0 && uint64(len(out)) > attr.Size {
		out = out[:attr.Size]
	}
	return out, nil
}

// Write replaces id's full content with data, allocating/freeing blocks
// against the metadata server's placement decisions and writing each
// block's bytes to its owning data server in parallel.
func (c *Client) Write(id uint64, data []byte, blockSize int) error {
	existing, err := c.meta.GetBlockMap(id)
	if err != nil {
		return err
	}

	blocksNeeded := (len(data) + blockSize - 1) / blockSize
	if blockSize == 0 {
		blocksNeeded = 0
	}

	for len(existing) < blocksNeeded {
		bi, err := c.meta.AllocateBlock(id)
		if err != nil {
			return xerrors.Errorf("client.Write(%d): allocate block: %w", id, err)
		}
		existing = append(existing, bi)
	}
	for len(existing) > blocksNeeded {
		last := existing[len(existing)-1]
		ok, err := c.meta.FreeBlock(id, last.BlockID, last.MachineID)
		if err != nil || !ok {
			return xerrors.Errorf("client.Write(%d): free block: %w", id, err)
		}
		existing = existing[:len(existing)-1]
	}

	var g errgroup.Group
	for i := 0; i < blocksNeeded; i++ {
		i := i
		bi := existing[i]
		start := i * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		g.Go(func() error {
			cli, err := c.dataClient(bi.MachineID)
			if err != nil {
				return err
			}
			ok, err := cli.WriteData(bi.BlockID, 0, chunk)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("write_data(%d) on machine %d failed", bi.BlockID, bi.MachineID)
			}
			return nil
		})
	}
	return g.Wait()
}

// ensure metaserver.BlockInfo stays in scope for callers that want the
// richer type from GetBlockMap without importing metaserver directly.
type BlockInfo = metaserver.BlockInfo
