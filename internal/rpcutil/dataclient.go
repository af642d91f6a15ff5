package rpcutil

import (
	"fmt"
	"net/rpc"

	"golang.org/x/xerrors"

	"github.com/distr1/chfs-go/metaserver"
)

// DataClient is a net/rpc-backed implementation of metaserver.DataClient.
// It is handed to metaserver.Server via a metaserver.DialDataServer closure
// so the metadata server package itself never imports net/rpc.
type DataClient struct {
	rc       *rpc.Client
	reliable bool
}

// DialDataServer dials a data server at address:port. reliable is carried
// through for fault-injection scenarios that retry unreliable connections
// (spec §6 "reliable knob"); this stdlib transport has no retry logic of
// its own to gate on it yet, so it's currently just recorded.
func DialDataServer(address string, port uint16, reliable bool) (*DataClient, error) {
	rc, err := rpc.Dial("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, xerrors.Errorf("dial data server %s:%d: %w", address, port, err)
	}
	return &DataClient{rc: rc, reliable: reliable}, nil
}

func (c *DataClient) AllocBlock() (blockID uint64, version uint32, err error) {
	var reply AllocBlockReply
	if err := c.rc.Call("DataService.AllocBlock", AllocBlockArgs{}, &reply); err != nil {
		return 0, 0, err
	}
	return reply.BlockID, reply.Version, nil
}

func (c *DataClient) FreeBlock(blockID uint64) (bool, error) {
	var reply FreeBlockReply
	if err := c.rc.Call("DataService.FreeBlock", FreeBlockArgs{BlockID: blockID}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *DataClient) ReadData(blockID uint64, offset, length int, version uint32) ([]byte, error) {
	var reply ReadDataReply
	if err := c.rc.Call("DataService.ReadData", ReadDataArgs{BlockID: blockID, Offset: offset, Len: length, Version: version}, &reply); err != nil {
		return nil, err
	}
	return reply.Bytes, nil
}

func (c *DataClient) WriteData(blockID uint64, offset int, buf []byte) (bool, error) {
	var reply WriteDataReply
	if err := c.rc.Call("DataService.WriteData", WriteDataArgs{BlockID: blockID, Offset: offset, Bytes: buf}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (c *DataClient) Close() error { return c.rc.Close() }

// DialDataServerForMeta adapts DialDataServer to metaserver.DialDataServer's
// function type (which returns the metaserver.DataClient interface rather
// than *DataClient, so metaserver never imports this package).
func DialDataServerForMeta(address string, port uint16, reliable bool) (metaserver.DataClient, error) {
	return DialDataServer(address, port, reliable)
}
