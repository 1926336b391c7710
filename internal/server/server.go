// Package server accepts sender connections and runs every received frame
// through the ingestion pipeline, one goroutine per connection.
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/andresmejia3/pixelvault/internal/types"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// journalTimeout bounds one journal write so a slow database cannot stall
// a connection.
const journalTimeout = 5 * time.Second

// Ingester processes one frame payload.
type Ingester interface {
	Ingest(payload []byte) types.Outcome
}

// Journal receives every outcome. Errors are logged and never change the
// acknowledgment.
type Journal interface {
	Record(ctx context.Context, connID, remote string, out types.Outcome) error
}

// Config holds the listener and per-connection settings.
type Config struct {
	Addr         string
	MaxFrameSize uint32        // 0 disables the bound
	FrameTimeout time.Duration // 0 disables deadlines
	Ack          wire.AckCodec
}

// Stats counts frames by verdict.
type Stats struct {
	Frames     int64
	Stored     int64
	Duplicates int64
	Errors     int64
}

func (s Stats) fields() log.Fields {
	return log.Fields{
		"frames":     s.Frames,
		"stored":     s.Stored,
		"duplicates": s.Duplicates,
		"errors":     s.Errors,
	}
}

// Server is the ingestion endpoint. The ingester is its only shared state.
type Server struct {
	cfg      Config
	ingester Ingester
	journal  Journal
	log      *log.Entry

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	frames, stored, duplicates, errs atomic.Int64
}

// Option customizes a Server.
type Option func(*Server)

// WithJournal attaches an ingestion journal.
func WithJournal(j Journal) Option { return func(s *Server) { s.journal = j } }

// WithLogger replaces the default logger.
func WithLogger(l *log.Entry) Option { return func(s *Server) { s.log = l } }

// New returns a Server. A nil cfg.Ack selects the binary codec.
func New(cfg Config, ingester Ingester, opts ...Option) *Server {
	if cfg.Ack == nil {
		cfg.Ack = wire.BinaryAck{}
	}
	s := &Server{
		cfg:      cfg,
		ingester: ingester,
		log:      log.NewEntry(log.StandardLogger()),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Totals returns counters across every connection served so far.
func (s *Server) Totals() Stats {
	return Stats{
		Frames:     s.frames.Load(),
		Stored:     s.stored.Load(),
		Duplicates: s.duplicates.Load(),
		Errors:     s.errs.Load(),
	}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
// On return the listener and every open connection are closed and all
// handlers have finished. Cancellation is not an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeAll()
	}()

	s.log.WithFields(log.Fields{
		"addr":    ln.Addr().String(),
		"ack":     s.cfg.Ack.Name(),
		"timeout": s.cfg.FrameTimeout,
	}).Info("Server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.WithFields(s.Totals().fields()).Info("Server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.WithError(err).Warnf("Accept failed, retrying in %v", backoff)
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		backoff = 0

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// handle serves one connection: read a frame, ingest it, acknowledge, repeat.
// Per-image failures are acknowledged with ERROR; only end of stream,
// protocol violations, timeouts and transport failures end the loop.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.New().String()
	remote := conn.RemoteAddr().String()
	logger := s.log.WithFields(log.Fields{"conn": id[:8], "remote": remote})
	logger.Info("Client connected")

	var st Stats
	defer func() { logger.WithFields(st.fields()).Info("Connection closed") }()

	r := bufio.NewReader(conn)
	for {
		if err := s.deadline(conn.SetReadDeadline); err != nil {
			logger.WithError(err).Warn("Failed to set read deadline")
			return
		}
		payload, err := wire.ReadFrame(r, s.cfg.MaxFrameSize)
		if err != nil {
			s.logReadError(ctx, logger, err)
			return
		}

		out := s.ingester.Ingest(payload)
		st.Frames++
		s.frames.Add(1)
		switch out.Status {
		case wire.StatusOK:
			st.Stored++
			s.stored.Add(1)
		case wire.StatusDuplicate:
			st.Duplicates++
			s.duplicates.Add(1)
		default:
			st.Errors++
			s.errs.Add(1)
		}
		logOutcome(logger, out)
		s.record(ctx, id, remote, out)

		if err := s.deadline(conn.SetWriteDeadline); err != nil {
			logger.WithError(err).Warn("Failed to set write deadline")
			return
		}
		if err := s.cfg.Ack.WriteAck(conn, out.Status); err != nil {
			logger.WithError(err).Warn("Failed to send acknowledgment")
			return
		}
	}
}

func (s *Server) deadline(set func(time.Time) error) error {
	if s.cfg.FrameTimeout <= 0 {
		return set(time.Time{})
	}
	return set(time.Now().Add(s.cfg.FrameTimeout))
}

func (s *Server) logReadError(ctx context.Context, logger *log.Entry, err error) {
	switch {
	case ctx.Err() != nil:
		logger.Info("Closing connection for shutdown")
	case err == io.EOF:
		logger.Info("Client finished sending")
	case errors.Is(err, wire.ErrTimeout):
		logger.WithError(err).Warn("Connection timed out")
	case wire.IsProtocolError(err):
		logger.WithError(err).Warn("Protocol violation")
	default:
		logger.WithError(err).Warn("Transport failure")
	}
}

func logOutcome(logger *log.Entry, out types.Outcome) {
	entry := logger.WithField("bytes", out.Size)
	if !out.Fingerprint.IsZero() {
		entry = entry.WithField("fingerprint", out.Fingerprint.Hex())
	}
	switch out.Status {
	case wire.StatusOK:
		entry.WithFields(log.Fields{"handle": out.Handle, "file": out.Path}).Info("Stored new image")
	case wire.StatusDuplicate:
		entry.WithField("handle", out.Handle).Info("Duplicate image discarded")
	default:
		entry.WithError(out.Err).WithField("stage", out.Stage).Warn("Image rejected")
	}
}

func (s *Server) record(ctx context.Context, id, remote string, out types.Outcome) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, id, remote, out); err != nil {
		s.log.WithError(err).WithField("conn", id[:8]).Warn("Failed to journal outcome")
	}
}

// track registers c for shutdown. A connection accepted after closeAll ran
// is closed immediately.
func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
}
