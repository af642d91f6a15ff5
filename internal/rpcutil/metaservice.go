package rpcutil

import (
	"github.com/distr1/chfs-go/internal/trace"
	"github.com/distr1/chfs-go/metaserver"
)

// MetaService adapts a metaserver.Server's Go API to net/rpc's
// func(Args, *Reply) error method shape.
type MetaService struct {
	S *metaserver.Server
}

func (m *MetaService) Mknode(args MknodeArgs, reply *MknodeReply) error {
	defer trace.RPCEvent("MetaService.Mknode").Done()
	reply.ID = m.S.Mknode(args.Type, args.Parent, args.Name)
	return nil
}

func (m *MetaService) Unlink(args UnlinkArgs, reply *UnlinkReply) error {
	defer trace.RPCEvent("MetaService.Unlink").Done()
	reply.OK = m.S.Unlink(args.Parent, args.Name)
	return nil
}

func (m *MetaService) Lookup(args LookupArgs, reply *LookupReply) error {
	defer trace.RPCEvent("MetaService.Lookup").Done()
	reply.ID = m.S.Lookup(args.Parent, args.Name)
	return nil
}

func (m *MetaService) Readdir(args ReaddirArgs, reply *ReaddirReply) error {
	defer trace.RPCEvent("MetaService.Readdir").Done()
	entries := m.S.Readdir(args.ID)
	reply.Names = make([]string, len(entries))
	reply.IDs = make([]uint64, len(entries))
	for i, e := range entries {
		reply.Names[i], reply.IDs[i] = e.Name, e.ID
	}
	return nil
}

func (m *MetaService) GetTypeAttr(args GetTypeAttrArgs, reply *GetTypeAttrReply) error {
	defer trace.RPCEvent("MetaService.GetTypeAttr").Done()
	size, atime, mtime, ctime, typ := m.S.GetTypeAttr(args.ID)
	reply.Size, reply.Atime, reply.Mtime, reply.Ctime, reply.Type = size, atime, mtime, ctime, typ
	return nil
}

func (m *MetaService) GetBlockMap(args GetBlockMapArgs, reply *GetBlockMapReply) error {
	defer trace.RPCEvent("MetaService.GetBlockMap").Done()
	entries, err := m.S.GetBlockMap(args.ID)
	if err != nil {
		*reply = GetBlockMapReply{}
		return nil
	}
	*reply = blockMapToReply(entries)
	return nil
}

func (m *MetaService) AllocateBlock(args AllocateBlockArgs, reply *AllocateBlockReply) error {
	defer trace.RPCEvent("MetaService.AllocateBlock").Done()
	bi, err := m.S.AllocateBlock(args.ID)
	if err != nil {
		*reply = AllocateBlockReply{}
		return nil
	}
	reply.BlockID, reply.MachineID, reply.Version = bi.BlockID, bi.MachineID, bi.Version
	return nil
}

func (m *MetaService) FreeBlock(args FreeMetaBlockArgs, reply *FreeMetaBlockReply) error {
	defer trace.RPCEvent("MetaService.FreeBlock").Done()
	ok, err := m.S.FreeBlock(args.ID, args.BlockID, args.MachineID)
	if err != nil {
		reply.OK = false
		return nil
	}
	reply.OK = ok
	return nil
}

func (m *MetaService) RegServer(args RegServerArgs, reply *RegServerReply) error {
	defer trace.RPCEvent("MetaService.RegServer").Done()
	ok, err := m.S.RegServer(args.Address, args.Port, args.Reliable)
	if err != nil {
		reply.OK = false
		return nil
	}
	reply.OK = ok
	return nil
}

func (m *MetaService) Run(args RunArgs, reply *RunReply) error {
	defer trace.RPCEvent("MetaService.Run").Done()
	reply.OK = m.S.Run()
	return nil
}

func (m *MetaService) FreeInodeCount(args FreeInodeCountArgs, reply *FreeInodeCountReply) error {
	defer trace.RPCEvent("MetaService.FreeInodeCount").Done()
	n, err := m.S.FreeInodeCount()
	if err != nil {
		reply.Count = 0
		return nil
	}
	reply.Count = n
	return nil
}
