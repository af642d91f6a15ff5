package rpcutil

import (
	"fmt"
	"net/rpc"

	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/metaserver"
)

// MetaClient is the client package's handle onto a running metadata
// server.
type MetaClient struct {
	rc *rpc.Client
}

// DialMetaServer dials the metadata server at address:port.
func DialMetaServer(address string, port uint16) (*MetaClient, error) {
	rc, err := rpc.Dial("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, xerrors.Errorf("dial metadata server %s:%d: %w", address, port, err)
	}
	return &MetaClient{rc: rc}, nil
}

func (c *MetaClient) Close() error { return c.rc.Close() }

func (c *MetaClient) Mknode(typ uint8, parent uint64, name string) (uint64, error) {
	var reply MknodeReply
	if err := c.rc.Call("MetaService.Mknode", MknodeArgs{Type: typ, Parent: parent, Name: name}, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

func (c *MetaClient) Unlink(parent uint64, name string) (bool, error) {
	var reply UnlinkReply
	if err := c.rc.Call("MetaService.Unlink", UnlinkArgs{Parent: parent, Name: name}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *MetaClient) Lookup(parent uint64, name string) (uint64, error) {
	var reply LookupReply
	if err := c.rc.Call("MetaService.Lookup", LookupArgs{Parent: parent, Name: name}, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

// DirEntry is one name->inode pair returned by Readdir.
type DirEntry struct {
	Name string
	ID   uint64
}

func (c *MetaClient) Readdir(id uint64) ([]DirEntry, error) {
	var reply ReaddirReply
	if err := c.rc.Call("MetaService.Readdir", ReaddirArgs{ID: id}, &reply); err != nil {
		return nil, err
	}
	entries := make([]DirEntry, len(reply.Names))
	for i := range reply.Names {
		entries[i] = DirEntry{Name: reply.Names[i], ID: reply.IDs[i]}
	}
	return entries, nil
}

func (c *MetaClient) GetTypeAttr(id uint64) (size, atime, mtime, ctime uint64, typ uint8, err error) {
	var reply GetTypeAttrReply
	if err := c.rc.Call("MetaService.GetTypeAttr", GetTypeAttrArgs{ID: id}, &reply); err != nil {
		return 0, 0, 0, 0, 0, err
	}
	return reply.Size, reply.Atime, reply.Mtime, reply.Ctime, reply.Type, nil
}

func (c *MetaClient) GetBlockMap(id uint64) ([]metaserver.BlockInfo, error) {
	var reply GetBlockMapReply
	if err := c.rc.Call("MetaService.GetBlockMap", GetBlockMapArgs{ID: id}, &reply); err != nil {
		return nil, err
	}
	entries := make([]metaserver.BlockInfo, len(reply.BlockIDs))
	for i := range reply.BlockIDs {
		entries[i] = metaserver.BlockInfo{BlockID: reply.BlockIDs[i], MachineID: reply.MachineIDs[i], Version: reply.Versions[i]}
	}
	return entries, nil
}

func (c *MetaClient) AllocateBlock(id uint64) (metaserver.BlockInfo, error) {
	var reply AllocateBlockReply
	if err := c.rc.Call("MetaService.AllocateBlock", AllocateBlockArgs{ID: id}, &reply); err != nil {
		return metaserver.BlockInfo{}, err
	}
	return metaserver.BlockInfo{BlockID: reply.BlockID, MachineID: reply.MachineID, Version: reply.Version}, nil
}

func (c *MetaClient) FreeBlock(id, blockID uint64, machineID uint32) (bool, error) {
	var reply FreeMetaBlockReply
	if err := c.rc.Call("MetaService.FreeBlock", FreeMetaBlockArgs{ID: id, BlockID: blockID, MachineID: machineID}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *MetaClient) RegServer(address string, port uint16, reliable bool) (bool, error) {
	var reply RegServerReply
	if err := c.rc.Call("MetaService.RegServer", RegServerArgs{Address: address, Port: port, Reliable: reliable}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *MetaClient) Run() (bool, error) {
	var reply RunReply
	if err := c.rc.Call("MetaService.Run", RunArgs{}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *MetaClient) FreeInodeCount() (uint64, error) {
	var reply FreeInodeCountReply
	if err := c.rc.Call("MetaService.FreeInodeCount", FreeInodeCountArgs{}, &reply); err != nil {
		return 0, err
	}
	return reply.Count, nil
}
