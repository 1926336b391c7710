package types

import (
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/index"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// Stage names where in the ingestion pipeline a frame stopped.
type Stage string

const (
	StageCanonicalize Stage = "canonicalize"
	StageDedup        Stage = "dedup"
	StagePersist      Stage = "persist"
)

// Outcome is the result of ingesting one frame.
type Outcome struct {
	Status      wire.Status
	Stage       Stage
	Size        int // Payload bytes received
	Fingerprint fingerprint.Fingerprint
	Handle      index.Handle
	Path        string // Set only when a new file was written
	Err         error
}
