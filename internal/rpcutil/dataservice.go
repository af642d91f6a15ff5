package rpcutil

import (
	"github.com/distr1/chfs-go/dataserver"
	"github.com/distr1/chfs-go/internal/trace"
)

// DataService adapts a dataserver.Server's Go API to net/rpc's
// func(Args, *Reply) error method shape.
type DataService struct {
	S *dataserver.Server
}

func (d *DataService) AllocBlock(args AllocBlockArgs, reply *AllocBlockReply) error {
	defer trace.RPCEvent("DataService.AllocBlock").Done()
	blockID, version, err := d.S.AllocBlock()
	if err != nil {
		return err
	}
	reply.BlockID, reply.Version = blockID, version
	return nil
}

func (d *DataService) FreeBlock(args FreeBlockArgs, reply *FreeBlockReply) error {
	defer trace.RPCEvent("DataService.FreeBlock").Done()
	if err := d.S.FreeBlock(args.BlockID); err != nil {
		reply.OK = false
		return nil
	}
	reply.OK = true
	return nil
}

func (d *DataService) ReadData(args ReadDataArgs, reply *ReadDataReply) error {
	defer trace.RPCEvent("DataService.ReadData").Done()
	reply.Bytes = d.S.ReadData(args.BlockID, args.Offset, args.Len, args.Version)
	return nil
}

func (d *DataService) WriteData(args WriteDataArgs, reply *WriteDataReply) error {
	defer trace.RPCEvent("DataService.WriteData").Done()
	reply.OK = d.S.WriteData(args.BlockID, args.Offset, args.Bytes)
	return nil
}
