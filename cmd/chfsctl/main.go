// Command chfsctl is the client CLI: mknode/ls/cat/put/rm/df over the two
// RPC tiers, plus a zstd-compressed snapshot export of a server's backing
// store file (ambient operational tooling, not part of spec.md's core).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/distr1/chfs-go/client"
	"github.com/distr1/chfs-go/internal/inode"
	"github.com/distr1/chfs-go/internal/runctl"
)

var (
	metaAddr = flag.String("meta", "localhost:9000", "host:port of the metadata server")
	blockSz  = flag.Int("block-size", 4096, "block size used by the target data servers, for write fan-out")
)

// dataServerMap maps a machine id (as assigned by reg_server, in
// registration order starting at 1) to its dialable address. In the
// absence of a metadata-server-side directory of this mapping (spec.md's
// RPC surface does not expose one), chfsctl takes it on the command line.
type dataServerMap map[uint32]string

func (m dataServerMap) resolve(machineID uint32) (string, uint16, error) {
	hostport, ok := m[machineID]
	if !ok {
		return "", 0, fmt.Errorf("no -datad mapping for machine id %d", machineID)
	}
	host, portStr, found := strings.Cut(hostport, ":")
	if !found {
		return "", 0, fmt.Errorf("malformed -datad mapping %q, want host:port", hostport)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}

type datadFlag dataServerMap

func (d *datadFlag) String() string { return "" }
func (d *datadFlag) Set(v string) error {
	idStr, hostport, found := strings.Cut(v, "=")
	if !found {
		return fmt.Errorf("want -datad=<machine_id>=<host:port>, got %q", v)
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return err
	}
	if *d == nil {
		*d = make(datadFlag)
	}
	(*d)[uint32(id)] = hostport
	return nil
}

var datads datadFlag

func init() {
	flag.Var(&datads, "datad", "<machine_id>=<host:port> mapping used to dial data servers directly (repeatable)")
}

func newClient() (*client.Client, error) {
	host, portStr, err := net.SplitHostPort(*metaAddr)
	if err != nil {
		return nil, fmt.Errorf("-meta=%s: %v", *metaAddr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("-meta=%s: %v", *metaAddr, err)
	}
	return client.New(host, uint16(port), dataServerMap(datads).resolve)
}

// resolvePath walks path, split on '/', from the root directory (inode 1)
// and returns the final inode id.
func resolvePath(ctx context.Context, c *client.Client, path string) (uint64, error) {
	id := uint64(inode.RootInodeID)
	path = strings.Trim(path, "/")
	if path == "" {
		return id, nil
	}
	for _, part := range strings.Split(path, "/") {
		next, err := c.Lookup(id, part)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", part, err)
		}
		id = next
	}
	return id, nil
}

func cmdMknode(typ uint8) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("usage: chfsctl mkdir|touch <path>")
		}
		parentPath, name := splitParent(args[0])
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		parent, err := resolvePath(ctx, c, parentPath)
		if err != nil {
			return err
		}
		id, err := c.Mknode(typ, parent, name)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}
}

func splitParent(path string) (parentPath, name string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func cmdLs(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chfsctl ls <path>")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	id, err := resolvePath(ctx, c, args[0])
	if err != nil {
		return err
	}
	entries, err := c.Readdir(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s\n", e.ID, e.Name)
	}
	return nil
}

func cmdCat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chfsctl cat <path>")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	id, err := resolvePath(ctx, c, args[0])
	if err != nil {
		return err
	}
	content, err := c.Read(id, *blockSz)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

func cmdPut(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chfsctl put <local-file> <path>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	parentPath, name := splitParent(args[1])
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	parent, err := resolvePath(ctx, c, parentPath)
	if err != nil {
		return err
	}
	id, err := c.Lookup(parent, name)
	if err != nil {
		id, err = c.Mknode(1, parent, name)
		if err != nil {
			return err
		}
	}
	return c.Write(id, data, *blockSz)
}

func cmdRm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chfsctl rm <path>")
	}
	parentPath, name := splitParent(args[0])
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	parent, err := resolvePath(ctx, c, parentPath)
	if err != nil {
		return err
	}
	return c.Unlink(parent, name)
}

// cmdDf reports the metadata server's free-inode count: an operator-facing
// capacity check supplementing spec.md's core, which tracks free inodes
// internally but never surfaces the count over the wire on its own.
func cmdDf(ctx context.Context, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := c.FreeInodeCount()
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

// cmdSnapshot writes a zstd-compressed copy of a backing store file: an
// operator-facing backup mechanism supplementing spec.md's storage core,
// which only specifies live on-disk layout, not archival.
func cmdSnapshot(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: chfsctl snapshot <backing-file> <out.zst>")
	}
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func funcmain() error {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("syntax: chfsctl [-flags] <command> [args]\ncommands: mkdir, touch, ls, cat, put, rm, df, snapshot")
	}
	verb, rest := args[0], args[1:]

	verbs := map[string]func(ctx context.Context, args []string) error{
		"mkdir":    cmdMknode(uint8(inode.Directory)),
		"touch":    cmdMknode(uint8(inode.File)),
		"ls":       cmdLs,
		"cat":      cmdCat,
		"put":      cmdPut,
		"rm":       cmdRm,
		"df":       cmdDf,
		"snapshot": cmdSnapshot,
	}
	fn, ok := verbs[verb]
	if !ok {
		return fmt.Errorf("unknown command %q", verb)
	}

	ctx, canc := runctl.InterruptibleContext()
	defer canc()
	return fn(ctx, rest)
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
