package ingest

import (
	"bytes"
	"image"
	"image/png"
	"math/rand"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/index"
	"github.com/andresmejia3/pixelvault/internal/storage"
	"github.com/andresmejia3/pixelvault/internal/types"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

const width, height = 8, 6

func newPipeline(t *testing.T, dir string) *Pipeline {
	t.Helper()
	engine, err := fingerprint.NewEngine("md5")
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.New(dir, storage.NameBySequence, canon.StdCodec{})
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		Canon:  canon.New(canon.StdCodec{}, canon.ModeColor),
		Expect: canon.Expect{Width: width, Height: height, Channels: 3},
		Engine: engine,
		Index:  index.New(0),
		Store:  store,
	}
}

func pngBytes(t *testing.T, w, h int, seed int64, level png.CompressionLevel) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: level}).Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestIngestIdempotence(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(t, dir)
	data := pngBytes(t, width, height, 1, png.DefaultCompression)

	const n = 5
	counts := map[wire.Status]int{}
	for i := 0; i < n; i++ {
		out := p.Ingest(data)
		counts[out.Status]++
		if out.Size != len(data) {
			t.Errorf("Outcome size %d, want %d", out.Size, len(data))
		}
	}

	if counts[wire.StatusOK] != 1 || counts[wire.StatusDuplicate] != n-1 {
		t.Fatalf("Expected 1 OK and %d DUPLICATE, got %v", n-1, counts)
	}
	if got := countFiles(t, dir); got != 1 {
		t.Errorf("Expected exactly one stored file, found %d", got)
	}
}

func TestIngestReencodedDuplicates(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(t, dir)

	first := p.Ingest(pngBytes(t, width, height, 2, png.NoCompression))
	second := p.Ingest(pngBytes(t, width, height, 2, png.BestCompression))

	if first.Status != wire.StatusOK {
		t.Fatalf("First encoding: expected OK, got %v (%v)", first.Status, first.Err)
	}
	if second.Status != wire.StatusDuplicate {
		t.Fatalf("Second encoding: expected DUPLICATE, got %v", second.Status)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("Re-encodings should share a fingerprint")
	}
	if second.Handle != first.Handle {
		t.Errorf("Duplicate should report the original handle %d, got %d", first.Handle, second.Handle)
	}
}

func TestIngestRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		err     error
	}{
		{name: "Zero-length frame", payload: func(*testing.T) []byte { return []byte{} }, err: canon.ErrDecode},
		{name: "Wrong dimensions", payload: func(t *testing.T) []byte {
			return pngBytes(t, width+1, height, 3, png.DefaultCompression)
		}, err: canon.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := newPipeline(t, dir)

			out := p.Ingest(tt.payload(t))
			if out.Status != wire.StatusError || out.Stage != types.StageCanonicalize {
				t.Fatalf("Expected ERROR at canonicalize, got %v at %s", out.Status, out.Stage)
			}
			if !errors.Is(out.Err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, out.Err)
			}
			if p.Index.Len() != 0 {
				t.Error("Rejected images must not enter the index")
			}
			if countFiles(t, dir) != 0 {
				t.Error("Rejected images must not be stored")
			}
		})
	}
}

func TestIngestStorageFailure(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(t, dir)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	out := p.Ingest(pngBytes(t, width, height, 4, png.DefaultCompression))
	if out.Status != wire.StatusError || out.Stage != types.StagePersist {
		t.Fatalf("Expected ERROR at persist, got %v at %s", out.Status, out.Stage)
	}
	if !errors.Is(out.Err, storage.ErrStorageWrite) {
		t.Errorf("Expected ErrStorageWrite, got %v", out.Err)
	}
}
