// Package storage persists canonical images under the storage folder.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/index"
)

// ErrStorageWrite is matched by every failed Put.
var ErrStorageWrite = errors.New("storage: write failed")

// SequencePrefix starts every sequence-named file.
const SequencePrefix = "unique_image_"

var sequencePattern = regexp.MustCompile(`^` + SequencePrefix + `(\d+)\.[A-Za-z0-9]+$`)

// Naming decides how a stored file is named.
type Naming int

const (
	// NameByFingerprint names files after the hex fingerprint.
	NameByFingerprint Naming = iota
	// NameBySequence names files unique_image_<handle>.
	NameBySequence
)

// ParseNaming maps a NAMING value onto a Naming.
func ParseNaming(name string) (Naming, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fingerprint":
		return NameByFingerprint, nil
	case "sequence":
		return NameBySequence, nil
	}
	return 0, errors.Errorf("unknown naming %q (want fingerprint or sequence)", name)
}

func (n Naming) String() string {
	if n == NameBySequence {
		return "sequence"
	}
	return "fingerprint"
}

// Store writes images atomically into one flat folder.
type Store struct {
	dir    string
	naming Naming
	codec  canon.Codec
}

// New creates dir if needed and returns a Store writing into it.
func New(dir string, naming Naming, codec canon.Codec) (*Store, error) {
	if dir == "" {
		return nil, errors.New("storage: folder is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage folder %s", dir)
	}
	return &Store{dir: dir, naming: naming, codec: codec}, nil
}

// Dir returns the storage folder.
func (s *Store) Dir() string { return s.dir }

// Naming returns the configured naming policy.
func (s *Store) Naming() Naming { return s.naming }

// PathFor returns where an image with handle h and fingerprint fp lives.
func (s *Store) PathFor(h index.Handle, fp fingerprint.Fingerprint) string {
	var name string
	switch s.naming {
	case NameBySequence:
		name = fmt.Sprintf("%s%d%s", SequencePrefix, h, s.codec.Ext())
	default:
		name = fp.Hex() + s.codec.Ext()
	}
	return filepath.Join(s.dir, name)
}

// Put encodes img and atomically moves it into place. A partially written
// file is never visible under the final name.
func (s *Store) Put(h index.Handle, fp fingerprint.Fingerprint, img *canon.Image) (string, error) {
	path := s.PathFor(h, fp)

	t, err := renameio.TempFile(s.dir, path)
	if err != nil {
		return "", errors.Wrapf(ErrStorageWrite, "create temp file for %s: %v", path, err)
	}
	defer t.Cleanup()

	if err := s.codec.Encode(t, img.Image()); err != nil {
		return "", errors.Wrapf(ErrStorageWrite, "encode %s: %v", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return "", errors.Wrapf(ErrStorageWrite, "commit %s: %v", path, err)
	}
	return path, nil
}

// NextSequence returns one past the highest unique_image_<n> handle already
// in dir, so sequence naming resumes instead of overwriting after a restart.
// A missing folder yields 0.
func NextSequence(dir string) (index.Handle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "scan storage folder %s", dir)
	}

	var next index.Handle
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := sequencePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		if index.Handle(n) >= next {
			next = index.Handle(n) + 1
		}
	}
	return next, nil
}
