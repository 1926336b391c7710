package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/andresmejia3/pixelvault/internal/utils"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// DefaultSettle is how long a watched file must stay unchanged before it
// is submitted.
const DefaultSettle = 500 * time.Millisecond

// Submitter is satisfied by *Client.
type Submitter interface {
	Submit(payload []byte) (wire.Status, error)
}

// Session tallies one run.
type Session struct {
	ID         string
	Attempted  int
	Stored     int
	Duplicates int
	Rejected   int
	Unknown    int
	Skipped    int // unreadable or oversize files, never sent
	Started    time.Time
	Elapsed    time.Duration
}

func newSession() *Session {
	return &Session{ID: uuid.New().String(), Started: time.Now()}
}

func (s *Session) finish() { s.Elapsed = time.Since(s.Started) }

// Fields renders the counters for structured logging.
func (s *Session) Fields() log.Fields {
	return log.Fields{
		"session":    s.ID[:8],
		"attempted":  s.Attempted,
		"stored":     s.Stored,
		"duplicates": s.Duplicates,
		"rejected":   s.Rejected,
		"unknown":    s.Unknown,
		"skipped":    s.Skipped,
		"elapsed":    s.Elapsed.Round(time.Millisecond),
	}
}

// SubmitCloser is a Submitter that owns a connection.
type SubmitCloser interface {
	Submitter
	Close() error
}

// Runner feeds files to a Submitter.
type Runner struct {
	Submitter Submitter
	// Dial, when set, opens a connection per watch batch in place of
	// Submitter. A watcher then holds no connection while the folder is
	// quiet, so the server's frame timeout cannot drop it.
	Dial         func(ctx context.Context) (SubmitCloser, error)
	MaxFrameSize uint32        // files above this are skipped; 0 disables
	Progress     io.Writer     // progress bar destination; nil hides it
	Settle       time.Duration // watch debounce; 0 means DefaultSettle
	Log          *log.Entry
}

// SendFiles submits every path in order. Only a transport failure or
// cancellation stops it early; the partial session is returned either way.
func (r *Runner) SendFiles(ctx context.Context, paths []string) (*Session, error) {
	s := newSession()
	defer s.finish()

	bar := r.bar(len(paths))
	defer bar.Finish()

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		if err := r.submitFile(r.Submitter, s, path); err != nil {
			return s, err
		}
		bar.Add(1)
	}
	return s, nil
}

// Watch sends the images already in dir, then keeps submitting new or
// changed ones until ctx is cancelled. Cancellation is not an error.
func (r *Runner) Watch(ctx context.Context, dir string, exts []string) (*Session, error) {
	s := newSession()
	defer s.finish()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return s, errors.Wrap(err, "create watcher")
	}
	defer w.Close()
	// Watch first so nothing written during the initial batch is missed.
	if err := w.Add(dir); err != nil {
		return s, errors.Wrapf(err, "watch %s", dir)
	}

	paths, err := utils.ListImages(dir, exts)
	if err != nil {
		return s, err
	}
	if err := r.batch(ctx, s, paths); err != nil {
		return s, err
	}
	r.logger().WithFields(s.Fields()).Infof("Initial batch sent, watching %s", dir)

	settle := r.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	tick := time.NewTicker(settle / 2)
	defer tick.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return s, nil

		case ev, ok := <-w.Events:
			if !ok {
				return s, nil
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				if utils.HasExtension(ev.Name, exts) {
					pending[ev.Name] = time.Now()
				}
			}

		case err, ok := <-w.Errors:
			if !ok {
				return s, nil
			}
			r.logger().WithError(err).Warn("Watcher error")

		case now := <-tick.C:
			var ready []string
			for path, last := range pending {
				if now.Sub(last) >= settle {
					ready = append(ready, path)
					delete(pending, path)
				}
			}
			sort.Strings(ready)
			if err := r.batch(ctx, s, ready); err != nil {
				return s, err
			}
		}
	}
}

// batch submits paths in order over one connection: a fresh one from Dial
// when set, closed once the batch ends, otherwise Submitter.
func (r *Runner) batch(ctx context.Context, s *Session, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	sub := r.Submitter
	if r.Dial != nil {
		c, err := r.Dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		sub = c
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.submitFile(sub, s, path); err != nil {
			return err
		}
	}
	return nil
}

// submitFile returns an error only when the run must stop.
func (r *Runner) submitFile(sub Submitter, s *Session, path string) error {
	logger := r.logger().WithField("file", filepath.Base(path))

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Warn("Skipping unreadable file")
		s.Skipped++
		return nil
	}
	if r.MaxFrameSize > 0 && uint64(len(data)) > uint64(r.MaxFrameSize) {
		logger.WithField("bytes", len(data)).Warn("Skipping file above the frame limit")
		s.Skipped++
		return nil
	}

	s.Attempted++
	st, err := sub.Submit(data)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownAck) {
			logger.WithError(err).Warn("Unrecognized acknowledgment")
			s.Unknown++
			return nil
		}
		return errors.Wrapf(err, "submit %s", path)
	}

	switch st {
	case wire.StatusOK:
		s.Stored++
	case wire.StatusDuplicate:
		s.Duplicates++
	case wire.StatusError:
		s.Rejected++
	}
	logger.WithFields(log.Fields{"bytes": len(data), "ack": st}).Debug("Image acknowledged")
	return nil
}

func (r *Runner) bar(total int) *progressbar.ProgressBar {
	w := r.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("📤 Sending images"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *Runner) logger() *log.Entry {
	if r.Log != nil {
		return r.Log
	}
	return log.NewEntry(log.StandardLogger())
}

// Summary is the human-readable end-of-run line.
func (s *Session) Summary() string {
	line := fmt.Sprintf("sent %d images: %d stored, %d duplicates, %d rejected",
		s.Attempted, s.Stored, s.Duplicates, s.Rejected)
	if s.Unknown > 0 {
		line += fmt.Sprintf(", %d unknown", s.Unknown)
	}
	if s.Skipped > 0 {
		line += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	return line + " in " + s.Elapsed.Round(time.Millisecond).String()
}
