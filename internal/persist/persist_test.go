package persist

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invisible-tech/aion/internal/organism"
)

func randomTopology(rng *rand.Rand) *organism.Topology {
	t := organism.DefaultTopology(1.0)
	for _, k := range organism.OrganKinds {
		t.SetHealth(k, rng.Float64())
	}
	return t
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		src := randomTopology(rng)
		records, err := Decode(Encode(src))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		dst := organism.DefaultTopology(1.0)
		if err := Apply(records, dst); err != nil {
			t.Fatalf("apply: %v", err)
		}
		for _, k := range organism.OrganKinds {
			if src.Health(k) != dst.Health(k) {
				t.Fatalf("%s: %v != %v", k, dst.Health(k), src.Health(k))
			}
		}
	}
}

func TestEncode_StableOrder(t *testing.T) {
	topo := organism.DefaultTopology(0.5)
	want := "format=1\ncortex=0.5\nmemory=0.5\niobridge=0.5\n"
	if got := string(Encode(topo)); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestDecode_Lenient(t *testing.T) {
	data := "# saved by aiond\n\nformat=1\nCortex = 0.7\nio=1.5\n"
	records, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[organism.Cortex] != 0.7 || records[organism.IoBridge] != 1.5 {
		t.Errorf("records = %v", records)
	}

	topo := organism.DefaultTopology(0.4)
	if err := Apply(records, topo); err != nil {
		t.Fatal(err)
	}
	if topo.Health(organism.IoBridge) != 1.0 {
		t.Errorf("io should clamp to 1.0, got %v", topo.Health(organism.IoBridge))
	}
	if topo.Health(organism.Memory) != 0.4 {
		t.Errorf("absent organ should be untouched, got %v", topo.Health(organism.Memory))
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		line int
	}{
		{"missing equals", "cortex 0.5\n", 1},
		{"unknown organ", "cortex=0.5\nspleen=0.5\n", 2},
		{"not a number", "memory=high\n", 1},
		{"nan", "memory=NaN\n", 1},
		{"inf", "memory=+Inf\n", 1},
		{"duplicate", "memory=0.5\nmemory=0.6\n", 2},
		{"format", "format=2\ncortex=0.5\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("want *ParseError, got %v", err)
			}
			if pe.Line != tt.line {
				t.Errorf("line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestLoad_MalformedLeavesTopologyUnchanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.txt")
	if err := os.WriteFile(path, []byte("cortex=0.1\nmemory=0.2\niobridge=oops\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	topo := organism.DefaultTopology(1.0)
	topo.SetHealth(organism.Cortex, 0.77)
	before := Encode(topo)

	ok, err := Load(ctx, NewFileStore(path), topo)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want *ParseError, got %v", err)
	}
	if ok {
		t.Error("ok should be false on error")
	}
	if string(Encode(topo)) != string(before) {
		t.Errorf("topology changed:\n%s\nwant\n%s", Encode(topo), before)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state.txt"))
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}

	topo := organism.DefaultTopology(1.0)
	ok, err := Load(ctx, store, topo)
	if err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v, want false, nil", ok, err)
	}

	topo.SetHealth(organism.Memory, 0.625)
	if _, err := Save(ctx, store, topo); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := organism.DefaultTopology(0.1)
	ok, err = Load(ctx, store, restored)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if restored.Health(organism.Memory) != 0.625 || restored.Health(organism.Cortex) != 1.0 {
		t.Errorf("restored = %s", Encode(restored))
	}
}

func TestSave_WriteError(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "dir", "state.txt"))
	_, err := Save(context.Background(), store, organism.DefaultTopology(1.0))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("want *WriteError, got %v", err)
	}
	if !strings.Contains(we.Target, "state.txt") {
		t.Errorf("target = %q", we.Target)
	}
}

func TestNewStore(t *testing.T) {
	if _, err := NewStore("etcd", "x"); err == nil {
		t.Error("expected error for unknown backend")
	}
	s, err := NewStore("", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.Location() != DefaultPath {
		t.Errorf("location = %q", s.Location())
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("default backend = %T, want *FileStore", s)
	}
}

func TestSQLiteStore_History(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "aion.db"))
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	topo := organism.DefaultTopology(1.0)
	if ok, err := Load(ctx, store, topo); err != nil || ok {
		t.Fatalf("empty db: ok=%v err=%v", ok, err)
	}

	for _, h := range []float64{0.9, 0.6} {
		topo.SetHealth(organism.Cortex, h)
		if _, err := Save(ctx, store, topo); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	restored := organism.DefaultTopology(1.0)
	if ok, err := Load(ctx, store, restored); err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if restored.Health(organism.Cortex) != 0.6 {
		t.Errorf("cortex = %v, want latest save 0.6", restored.Health(organism.Cortex))
	}

	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if !strings.Contains(history[0].Payload, "cortex=0.6") {
		t.Errorf("newest payload = %q", history[0].Payload)
	}
}

func TestSQLiteStore_NotInitialized(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "aion.db"))
	if err := store.Write(context.Background(), []byte("x")); err == nil {
		t.Error("write before init should fail")
	}
}
