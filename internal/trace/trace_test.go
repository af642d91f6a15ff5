package trace

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// withSink points the package-level sink at buf for the duration of the
// test and restores the previous sink afterwards (sink is a shared
// package-level singleton, like runctl's atExit registry).
func withSink(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	sinkMu.Lock()
	prev := sink
	sinkMu.Unlock()
	Sink(buf)
	t.Cleanup(func() {
		sinkMu.Lock()
		sink = prev
		sinkMu.Unlock()
	})
}

func TestSinkStartsJSONArray(t *testing.T) {
	var buf bytes.Buffer
	withSink(t, &buf)
	if got, want := buf.String(), "["; got != want {
		t.Errorf("Sink wrote %q, want %q", got, want)
	}
}

func TestEventDoneAppendsCommaSeparatedObject(t *testing.T) {
	var buf bytes.Buffer
	withSink(t, &buf)

	ev := Event("write_file", 7)
	ev.Args = map[string]uint64{"bytes": 42}
	ev.Done()

	body := bytes.TrimPrefix(buf.Bytes(), []byte{'['})
	if !bytes.HasSuffix(body, []byte{','}) {
		t.Fatalf("Done() output %q does not end in a comma", body)
	}
	body = bytes.TrimSuffix(body, []byte{','})

	var got PendingEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal emitted event: %v", err)
	}
	if got.Name != "write_file" {
		t.Errorf("Name = %q, want write_file", got.Name)
	}
	if got.Type != "X" {
		t.Errorf("Type = %q, want X", got.Type)
	}
	if got.Tid != 7 {
		t.Errorf("Tid = %d, want 7", got.Tid)
	}
}

func TestMultipleEventsAccumulateInOrder(t *testing.T) {
	var buf bytes.Buffer
	withSink(t, &buf)

	Event("a", 0).Done()
	Event("b", 0).Done()

	// The sink leaves the JSON array open with a trailing comma; close it.
	body := append(bytes.TrimSuffix(buf.Bytes(), []byte{','}), ']')
	var events []PendingEvent
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	var names []string
	for _, pe := range events {
		names = append(names, pe.Name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("events = %v, want [a b]", names)
	}
}

func TestEnableCreatesFileUnderTempDirPrefix(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	sinkMu.Lock()
	prev := sink
	sinkMu.Unlock()
	t.Cleanup(func() {
		sinkMu.Lock()
		sink = prev
		sinkMu.Unlock()
	})

	if err := Enable("chfs-datad"); err != nil {
		t.Fatal(err)
	}
	Event("probe", 0).Done()

	wantDir := filepath.Join(dir, "chfs.traces")
	entries, err := os.ReadDir(wantDir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", wantDir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files under %s, want 1", len(entries), wantDir)
	}
	if got := entries[0].Name(); filepath.Ext(got) == "" {
		t.Errorf("trace file %q has no .$PID suffix", got)
	}
}

func TestBlockEventTagsBlockIDAndCategory(t *testing.T) {
	var buf bytes.Buffer
	withSink(t, &buf)

	BlockEvent("read_block", 42).Done()

	body := bytes.TrimSuffix(bytes.TrimPrefix(buf.Bytes(), []byte{'['}), []byte{','})
	var got PendingEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal emitted event: %v", err)
	}
	if got.Name != "read_block" {
		t.Errorf("Name = %q, want read_block", got.Name)
	}
	if got.Categories != "block" {
		t.Errorf("Categories = %q, want block", got.Categories)
	}
	if got.Tid != 42%blockEventThreads {
		t.Errorf("Tid = %d, want %d", got.Tid, 42%blockEventThreads)
	}
}

func TestRPCEventTagsMethodAndCategory(t *testing.T) {
	var buf bytes.Buffer
	withSink(t, &buf)

	RPCEvent("MetaService.Mknode").Done()

	body := bytes.TrimSuffix(bytes.TrimPrefix(buf.Bytes(), []byte{'['}), []byte{','})
	var got PendingEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal emitted event: %v", err)
	}
	if got.Name != "MetaService.Mknode" {
		t.Errorf("Name = %q, want MetaService.Mknode", got.Name)
	}
	if got.Categories != "rpc" {
		t.Errorf("Categories = %q, want rpc", got.Categories)
	}
	if got.Tid >= rpcEventThreads {
		t.Errorf("Tid = %d, want < %d", got.Tid, rpcEventThreads)
	}
}

func TestParseIntOr0(t *testing.T) {
	cases := map[string]uint64{
		"42":      42,
		"0":       0,
		"":        0,
		"not-int": 0,
	}
	for in, want := range cases {
		if got := parseIntOr0(in); got != want {
			t.Errorf("parseIntOr0(%q) = %d, want %d", in, got, want)
		}
	}
}
