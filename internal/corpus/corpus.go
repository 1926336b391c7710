// Package corpus writes folders of random test images with known duplicate
// counts for exercising a collector end to end.
package corpus

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// Options describes one corpus.
type Options struct {
	Dir        string
	Width      int
	Height     int
	Unique     int
	Duplicates int // byte-identical copies of random uniques
	Reencoded  int // pixel-identical copies with different file bytes
	Seed       int64
	Progress   io.Writer // nil hides the progress bar
}

// Report lists what was written.
type Report struct {
	Unique     []string
	Duplicates []string
	Reencoded  []string
	Elapsed    time.Duration
}

// Total is the number of files written.
func (r *Report) Total() int { return len(r.Unique) + len(r.Duplicates) + len(r.Reencoded) }

const (
	uniqueLevel   = png.DefaultCompression
	reencodeLevel = png.BestSpeed
)

// Generate writes the corpus into opts.Dir, creating it if needed. Every
// file gets a random name so originals and copies are interleaved.
func Generate(opts Options) (*Report, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("invalid geometry %dx%d", opts.Width, opts.Height)
	}
	if opts.Unique <= 0 && (opts.Duplicates > 0 || opts.Reencoded > 0) {
		return nil, errors.New("copies need at least one unique image")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", opts.Dir)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	w := opts.Progress
	if w == nil {
		w = io.Discard
	}
	bar := progressbar.NewOptions(opts.Unique+opts.Duplicates+opts.Reencoded,
		progressbar.OptionSetDescription("🎲 Generating images"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	start := time.Now()
	rep := &Report{}
	for i := 0; i < opts.Unique; i++ {
		data, err := encode(randomImage(rng, opts.Width, opts.Height), uniqueLevel)
		if err != nil {
			return rep, err
		}
		path, err := write(opts.Dir, data)
		if err != nil {
			return rep, err
		}
		rep.Unique = append(rep.Unique, path)
		bar.Add(1)
	}

	for i := 0; i < opts.Duplicates; i++ {
		data, err := os.ReadFile(rep.Unique[rng.Intn(len(rep.Unique))])
		if err != nil {
			return rep, errors.Wrap(err, "read original")
		}
		path, err := write(opts.Dir, data)
		if err != nil {
			return rep, err
		}
		rep.Duplicates = append(rep.Duplicates, path)
		bar.Add(1)
	}

	for i := 0; i < opts.Reencoded; i++ {
		data, err := reencode(rep.Unique[rng.Intn(len(rep.Unique))])
		if err != nil {
			return rep, err
		}
		path, err := write(opts.Dir, data)
		if err != nil {
			return rep, err
		}
		rep.Reencoded = append(rep.Reencoded, path)
		bar.Add(1)
	}

	rep.Elapsed = time.Since(start)
	return rep, nil
}

// randomImage fills an opaque image so it encodes as 3-channel RGB.
func randomImage(rng *rand.Rand, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func encode(img image.Image, level png.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: level}).Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

func reencode(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open original")
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return encode(img, reencodeLevel)
}

func write(dir string, data []byte) (string, error) {
	name := strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}
