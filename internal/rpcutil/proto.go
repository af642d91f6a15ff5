// Package rpcutil binds the Data Server and Metadata Server onto Go's
// stdlib net/rpc transport (spec §6: "the RPC transport is swappable";
// net/rpc is the one picked here because the corpus's gRPC/protobuf
// generated code was not available to hand-author against, see DESIGN.md).
//
// Every RPC method takes a single Args struct and a single *Reply struct,
// per net/rpc's calling convention. Sentinel values (spec §7: 0/""/false on
// failure) come from two places: metaserver.Server and dataserver.Server
// already return them from Mknode, Unlink, Lookup, Readdir, GetTypeAttr,
// ReadData and WriteData, and the *Service wrappers in this package flatten
// the errors of AllocateBlock, FreeBlock, RegServer, GetBlockMap,
// FreeInodeCount and DataService.FreeBlock. DataService.AllocBlock returns
// its error as is. internal/fileop and internal/dirop return typed errors.
package rpcutil

import "github.com/distr1/chfs-go/metaserver"

// --- Data Server wire types (spec §4.7) ---

type AllocBlockArgs struct{}

type AllocBlockReply struct {
	BlockID uint64
	Version uint32
}

type FreeBlockArgs struct {
	BlockID uint64
}

type FreeBlockReply struct {
	OK bool
}

type ReadDataArgs struct {
	BlockID uint64
	Offset  int
	Len     int
	Version uint32
}

type ReadDataReply struct {
	Bytes []byte
}

type WriteDataArgs struct {
	BlockID uint64
	Offset  int
	Bytes   []byte
}

type WriteDataReply struct {
	OK bool
}

// --- Metadata Server wire types (spec §4.8) ---

type MknodeArgs struct {
	Type   uint8
	Parent uint64
	Name   string
}

type MknodeReply struct {
	ID uint64
}

type UnlinkArgs struct {
	Parent uint64
	Name   string
}

type UnlinkReply struct {
	OK bool
}

type LookupArgs struct {
	Parent uint64
	Name   string
}

type LookupReply struct {
	ID uint64
}

type ReaddirArgs struct {
	ID uint64
}

type ReaddirReply struct {
	Names []string
	IDs   []uint64
}

type GetTypeAttrArgs struct {
	ID uint64
}

type GetTypeAttrReply struct {
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
	Type  uint8
}

type GetBlockMapArgs struct {
	ID uint64
}

type GetBlockMapReply struct {
	BlockIDs   []uint64
	MachineIDs []uint32
	Versions   []uint32
}

type AllocateBlockArgs struct {
	ID uint64
}

type AllocateBlockReply struct {
	BlockID   uint64
	MachineID uint32
	Version   uint32
}

type FreeMetaBlockArgs struct {
	ID        uint64
	BlockID   uint64
	MachineID uint32
}

type FreeMetaBlockReply struct {
	OK bool
}

type RegServerArgs struct {
	Address  string
	Port     uint16
	Reliable bool
}

type RegServerReply struct {
	OK bool
}

type RunArgs struct{}

type RunReply struct {
	OK bool
}

type FreeInodeCountArgs struct{}

type FreeInodeCountReply struct {
	Count uint64
}

func blockMapToReply(entries []metaserver.BlockInfo) GetBlockMapReply {
	r := GetBlockMapReply{
		BlockIDs:   make([]uint64, len(entries)),
		MachineIDs: make([]uint32, len(entries)),
		Versions:   make([]uint32, len(entries)),
	}
	for i, e := range entries {
		r.BlockIDs[i] = e.BlockID
		r.MachineIDs[i] = e.MachineID
		r.Versions[i] = e.Version
	}
	return r
}
