// Command chfs-datad runs a Data Server (spec §4.7): a versioned block
// store reachable over RPC, registered with a metadata server via the
// metadata server's own -datad flags.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distr1/chfs-go/dataserver"
	"github.com/distr1/chfs-go/internal/addrfd"
	"github.com/distr1/chfs-go/internal/env"
	"github.com/distr1/chfs-go/internal/rpcutil"
	"github.com/distr1/chfs-go/internal/runctl"
	internaltrace "github.com/distr1/chfs-go/internal/trace"
)

var (
	listen      = flag.String("listen", "localhost:0", "host:port to accept Data Server RPCs on")
	dataPath    = flag.String("data", env.ChfsHome+"/datad.img", "path to the backing store file")
	blockSize   = flag.Int("block-size", 4096, "block size in bytes")
	blockCnt    = flag.Uint64("block-cnt", dataserver.DefaultBlockCnt, "number of blocks in the backing store")
	injectFault = flag.Bool("inject-faults", false, "arm write-path fault injection (spec §4.1 may_fail)")
	ctracefile  = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
	cpuprofile  = flag.String("cpuprofile", "", "path to store a CPU profile at")
	logPath     = flag.String("log", "", "if set, path to an append-only write-ahead log every write is routed through")
	checkpoint  = flag.Bool("checkpoint", false, "truncate -log once the backing store is known-consistent")
)

func bumpRlimitNOFILE() error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return err
	}
	rlim.Cur = rlim.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
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
	if err := bumpRlimitNOFILE(); err != nil {
		log.Printf("datad: warning: bumping RLIMIT_NOFILE failed: %v", err)
	}

	srv, err := dataserver.Open(*dataPath, *blockSize, *blockCnt)
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

	boundAddr, closeListener, err := rpcutil.Serve(*listen, "DataService", &rpcutil.DataService{S: srv})
	if err != nil {
		return err
	}
	runctl.RegisterAtExit(closeListener)

	addrfd.MustWrite(boundAddr)
	log.Printf("datad: serving on %s, data=%s", boundAddr, *dataPath)

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
						log.Printf("datad: checkpoint: %v", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	log.Printf("datad: shutting down")
	return runctl.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
