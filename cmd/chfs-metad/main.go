// Command chfs-metad runs the Metadata Server (spec §4.8): the namespace
// store, reachable over RPC, that places file content on registered Data
// Servers.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/distr1/chfs-go/internal/addrfd"
	"github.com/distr1/chfs-go/internal/env"
	"github.com/distr1/chfs-go/internal/rpcutil"
	"github.com/distr1/chfs-go/internal/runctl"
	internaltrace "github.com/distr1/chfs-go/internal/trace"
	"github.com/distr1/chfs-go/metaserver"
)

type datadList []string

func (d *datadList) String() string     { return strings.Join(*d, ",") }
func (d *datadList) Set(v string) error { *d = append(*d, v); return nil }

var (
	listen            = flag.String("listen", "localhost:0", "host:port to accept Metadata Server RPCs on")
	dataPath          = flag.String("data", env.ChfsHome+"/metad.img", "path to the backing namespace store file")
	blockSize         = flag.Int("block-size", 4096, "block size in bytes")
	blockCnt          = flag.Uint64("block-cnt", metaserver.DefaultBlockCnt, "number of blocks in the backing store")
	maxInodeSupported = flag.Uint64("max-inodes", 1<<16, "maximum number of inodes the namespace store supports")
	injectFault       = flag.Bool("inject-faults", false, "arm write-path fault injection (spec §4.1 may_fail)")
	ctracefile        = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
	cpuprofile        = flag.String("cpuprofile", "", "path to store a CPU profile at")
	logPath           = flag.String("log", "", "if set, path to an append-only write-ahead log every write is routed through")
	checkpoint        = flag.Bool("checkpoint", false, "truncate -log once the backing store is known-consistent")
	datads            datadList
)

func init() {
	flag.Var(&datads, "datad", "address:port of a data server to register at startup (repeatable)")
}

func funcmain() error {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		internaltrace.Sink(f)
	}

	if err := os.MkdirAll(env.ChfsHome, 0755); err != nil {
		return err
	}

	srv, err := metaserver.Open(*dataPath, *blockSize, *blockCnt, *maxInodeSupported, rpcutil.DialDataServerForMeta)
	if err != nil {
		return err
	}
	srv.SetMayFail(*injectFault)
	if *logPath != "" {
		if err := srv.EnableCommitLog(*logPath, *checkpoint); err != nil {
			return err
		}
		if *checkpoint {
			runctl.RegisterAtExit(srv.CheckpointCommitLog)
		}
	}
	runctl.RegisterAtExit(srv.Close)

	for _, hostport := range datads {
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return fmt.Errorf("-datad=%s: %v", hostport, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("-datad=%s: %v", hostport, err)
		}
		if ok, err := srv.RegServer(host, uint16(port), true); err != nil || !ok {
			return fmt.Errorf("reg_server(%s): ok=%v err=%v", hostport, ok, err)
		}
	}
	srv.Run()

	boundAddr, closeListener, err := rpcutil.Serve(*listen, "MetaService", &rpcutil.MetaService{S: srv})
	if err != nil {
		return err
	}
	runctl.RegisterAtExit(closeListener)

	addrfd.MustWrite(boundAddr)
	log.Printf("metad: serving on %s, data=%s, %d data server(s) registered", boundAddr, *dataPath, len(datads))

	ctx, canc := runctl.InterruptibleContext()
	defer canc()

	if *ctracefile != "" {
		go internaltrace.CPUEvents(ctx, 1*time.Second)
	}

	if *logPath != "" && *checkpoint {
		go func() {
			tick := time.NewTicker(30 * time.Second)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					if err := srv.CheckpointCommitLog(); err != nil {
						log.Printf("metad: checkpoint: %v", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	log.Printf("metad: shutting down")
	return runctl.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
