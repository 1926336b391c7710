// Package fingerprint computes the dedup key of a canonical image: a
// multihash digest over its pixel bytes only.
package fingerprint

import (
	"encoding/hex"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/canon"
)

// DefaultAlgorithm is used when HASH_ALGO is not configured.
const DefaultAlgorithm = "sha2-256"

// Fingerprint is a comparable digest value, usable as a map key.
type Fingerprint struct {
	code   uint64
	digest string
}

// IsZero reports whether fp was never computed.
func (fp Fingerprint) IsZero() bool { return fp.digest == "" }

// Algorithm returns the multihash name of the digest function.
func (fp Fingerprint) Algorithm() string { return multihash.Codes[fp.code] }

// Digest returns the raw digest bytes.
func (fp Fingerprint) Digest() []byte { return []byte(fp.digest) }

// Hex returns the lowercase hexadecimal digest.
func (fp Fingerprint) Hex() string { return hex.EncodeToString([]byte(fp.digest)) }

func (fp Fingerprint) String() string { return fp.Hex() }

// Multihash returns the self-describing multihash encoding of the digest.
func (fp Fingerprint) Multihash() multihash.Multihash {
	mh, err := multihash.Encode([]byte(fp.digest), fp.code)
	if err != nil {
		return nil
	}
	return mh
}

// CID returns a CIDv1 with the raw codec wrapping the digest.
func (fp Fingerprint) CID() cid.Cid {
	mh := fp.Multihash()
	if mh == nil {
		return cid.Undef
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// Engine computes fingerprints with one fixed digest function.
type Engine struct {
	code uint64
	name string
}

// NewEngine returns an Engine for the named multihash function (md5,
// sha2-256, sha2-512, blake3, ...). An empty name selects DefaultAlgorithm.
func NewEngine(algo string) (*Engine, error) {
	name := strings.ToLower(strings.TrimSpace(algo))
	if name == "" {
		name = DefaultAlgorithm
	}
	code, ok := multihash.Names[name]
	if !ok {
		return nil, errors.Errorf("unknown hash algorithm %q", algo)
	}
	// Hash once so an unregistered implementation fails at startup.
	if _, err := multihash.Sum(nil, code, -1); err != nil {
		return nil, errors.Wrapf(err, "hash algorithm %q unavailable", name)
	}
	return &Engine{code: code, name: name}, nil
}

// Algorithm returns the engine's digest function name.
func (e *Engine) Algorithm() string { return e.name }

// Sum fingerprints arbitrary bytes.
func (e *Engine) Sum(b []byte) Fingerprint {
	mh, err := multihash.Sum(b, e.code, -1)
	if err != nil {
		// NewEngine already proved the function works.
		panic(errors.Wrap(err, "multihash sum"))
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		panic(errors.Wrap(err, "multihash decode"))
	}
	return Fingerprint{code: e.code, digest: string(dec.Digest)}
}

// Fingerprint digests the canonical pixel bytes of img. Geometry is not
// part of the key.
func (e *Engine) Fingerprint(img *canon.Image) Fingerprint {
	return e.Sum(img.Pix)
}
