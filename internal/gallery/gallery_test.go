package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/faceclari/internal/codec"
	"github.com/andresmejia3/faceclari/internal/extract"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/andresmejia3/faceclari/internal/vision"
	"go.uber.org/zap"
)

var faceBox = types.Box{Top: 2, Right: 10, Bottom: 10, Left: 2}

func writeSample(t *testing.T, path string, key uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := codec.Encode(vision.StubImage(key, 16, 16), path); err != nil {
		t.Fatal(err)
	}
}

func newBuilder(stub *vision.Stub) *Builder {
	return New(extract.New(stub, nil, zap.NewNop()), zap.NewNop())
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice", "alice"},
		{"Zoë_Kravitz", "zoe kravitz"},
		{"jean-luc  picard", "jean luc picard"},
		{"Jiří", "jiri"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuild(t *testing.T) {
	known := t.TempDir()
	stub := vision.NewStub()
	stub.Add(1, vision.StubFace{Box: faceBox, Embedding: types.Embedding{0.1, 0.2}})
	stub.Add(2,
		vision.StubFace{Box: faceBox, Embedding: types.Embedding{0.5, 0.5}},
		vision.StubFace{Box: types.Box{Top: 11, Right: 15, Bottom: 15, Left: 11}, Embedding: types.Embedding{9, 9}},
	)

	writeSample(t, filepath.Join(known, "bob", "b1.png"), 2)
	writeSample(t, filepath.Join(known, "alice", "a2.png"), 2)
	writeSample(t, filepath.Join(known, "alice", "a1.png"), 1)
	writeSample(t, filepath.Join(known, "alice", "empty.png"), 200)
	writeSample(t, filepath.Join(known, "carol", "wall.png"), 200)
	writeSample(t, filepath.Join(known, "stray.png"), 1)
	os.WriteFile(filepath.Join(known, "alice", "notes.txt"), []byte("x"), 0644)

	g, err := newBuilder(stub).Build(context.Background(), known)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if want := []string{"alice", "bob", "carol"}; !reflect.DeepEqual(g.Names(), want) {
		t.Fatalf("Expected identities %v, got %v", want, g.Names())
	}

	alice := g[0]
	if len(alice.ReferenceEmbeddings) != 2 {
		t.Fatalf("Expected 2 references for alice, got %d", len(alice.ReferenceEmbeddings))
	}
	// Samples are read in sorted order: a1 before a2.
	if alice.ReferenceEmbeddings[0][0] != 0.1 || alice.ReferenceEmbeddings[1][0] != 0.5 {
		t.Errorf("Unexpected reference order: %v", alice.ReferenceEmbeddings)
	}
	if alice.Dir != filepath.Join(known, "alice") {
		t.Errorf("Unexpected dir %q", alice.Dir)
	}

	// Only the first face of a multi-face sample is kept.
	if len(g[1].ReferenceEmbeddings) != 1 || g[1].ReferenceLocations[0] != faceBox {
		t.Errorf("Expected bob to keep only the first face, got %+v", g[1])
	}

	if g[2].Matchable() {
		t.Error("carol has no usable sample and must not be matchable")
	}
}

func TestBuildMergesCollidingNames(t *testing.T) {
	known := t.TempDir()
	stub := vision.NewStub()
	stub.Add(1, vision.StubFace{Box: faceBox, Embedding: types.Embedding{1}})
	stub.Add(2, vision.StubFace{Box: faceBox, Embedding: types.Embedding{2}})

	writeSample(t, filepath.Join(known, "Zoe_Smith", "1.png"), 1)
	writeSample(t, filepath.Join(known, "zoë smith", "2.png"), 2)

	g, err := newBuilder(stub).Build(context.Background(), known)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 1 {
		t.Fatalf("Expected colliding dirs to merge into one identity, got %v", g.Names())
	}
	if g[0].Name != "Zoe_Smith" {
		t.Errorf("Expected the first dir in sorted order to win, got %q", g[0].Name)
	}
	if len(g[0].ReferenceEmbeddings) != 2 {
		t.Errorf("Expected merged references, got %d", len(g[0].ReferenceEmbeddings))
	}
}

func TestBuildMissingDir(t *testing.T) {
	_, err := newBuilder(vision.NewStub()).Build(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}

func TestBuildCancelled(t *testing.T) {
	known := t.TempDir()
	writeSample(t, filepath.Join(known, "alice", "a.png"), 1)

	stub := vision.NewStub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newBuilder(stub).Build(ctx, known); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stub.DetectCalls() != 0 {
		t.Error("No sample should be processed after cancellation")
	}
}
