// Package ingest drives one received payload through canonicalization,
// fingerprinting, the dedup index and storage.
package ingest

import (
	log "github.com/sirupsen/logrus"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/index"
	"github.com/andresmejia3/pixelvault/internal/storage"
	"github.com/andresmejia3/pixelvault/internal/types"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// Pipeline is safe for concurrent use; the index is its only shared state.
type Pipeline struct {
	Canon  *canon.Canonicalizer
	Expect canon.Expect
	Engine *fingerprint.Engine
	Index  *index.Index
	Store  *storage.Store
	Log    *log.Entry
}

// Ingest processes one payload. Failures are reported in the Outcome and
// never returned as errors, since none of them should end the connection.
func (p *Pipeline) Ingest(payload []byte) types.Outcome {
	out := types.Outcome{Size: len(payload)}
	logger := p.logger()

	img, err := p.Canon.Canonicalize(payload, p.Expect)
	if err != nil {
		logger.WithError(err).WithField("bytes", len(payload)).Debug("Rejected image")
		out.Status, out.Stage, out.Err = wire.StatusError, types.StageCanonicalize, err
		return out
	}

	out.Fingerprint = p.Engine.Fingerprint(img)
	logger = logger.WithField("fingerprint", out.Fingerprint.Hex())

	present, h := p.Index.CheckAndInsert(out.Fingerprint)
	out.Handle = h
	if present {
		logger.WithField("handle", h).Debug("Duplicate image discarded")
		out.Status, out.Stage = wire.StatusDuplicate, types.StageDedup
		return out
	}

	path, err := p.Store.Put(h, out.Fingerprint, img)
	if err != nil {
		// The index keeps the entry; there is no remove operation.
		logger.WithError(err).WithField("handle", h).Debug("Failed to store image")
		out.Status, out.Stage, out.Err = wire.StatusError, types.StagePersist, err
		return out
	}

	logger.WithFields(log.Fields{"handle": h, "file": path}).Debug("Stored new image")
	out.Status, out.Stage, out.Path = wire.StatusOK, types.StagePersist, path
	return out
}

func (p *Pipeline) logger() *log.Entry {
	if p.Log != nil {
		return p.Log
	}
	return log.NewEntry(log.StandardLogger())
}
