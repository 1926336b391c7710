// Package config loads the KEY=value configuration file shared by the
// server and the submission client.
package config

import (
	"image/png"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/storage"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "config.txt"

const (
	DefaultFrameTimeout = 30 * time.Second
	DefaultExtensions   = ".png"
)

var (
	ErrMissingKey   = errors.New("missing configuration key")
	ErrInvalidValue = errors.New("invalid configuration value")
)

// File is the raw key/value content of a configuration file.
type File map[string]string

// Load reads path. The process environment is neither read nor modified.
func Load(path string) (File, error) {
	m, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return File(m), nil
}

// Server is the validated server view of a File.
type Server struct {
	Port          int
	StorageFolder string
	Expect        canon.Expect
	MaxFrameBytes uint32
	FrameTimeout  time.Duration
	Ack           wire.AckCodec
	HashAlgo      string
	Naming        storage.Naming
	DecodeMode    canon.Mode
	Compression   png.CompressionLevel
	JournalURL    string
}

// Addr is the listen address; the server binds every interface.
func (s Server) Addr() string { return net.JoinHostPort("", strconv.Itoa(s.Port)) }

// Client is the validated client view of a File.
type Client struct {
	ServerIP      string
	Port          int
	ImagesFolder  string
	Extensions    []string
	MaxFrameBytes uint32
	FrameTimeout  time.Duration
	Ack           wire.AckCodec
}

// Addr is the server address to dial.
func (c Client) Addr() string { return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.Port)) }

// Server builds the server view, failing on the first missing or bad key.
func (f File) Server() (Server, error) {
	var (
		s   Server
		err error
	)
	if s.Port, err = f.port(); err != nil {
		return s, err
	}
	if s.StorageFolder, err = f.require("STORAGE_FOLDER"); err != nil {
		return s, err
	}
	if s.Expect.Width, err = f.positive("IMAGE_WIDTH"); err != nil {
		return s, err
	}
	if s.Expect.Height, err = f.positive("IMAGE_HEIGHT"); err != nil {
		return s, err
	}
	if s.Expect.Channels, err = f.positive("CHANNELS"); err != nil {
		return s, err
	}
	switch s.Expect.Channels {
	case 1, 3, 4:
	default:
		return s, invalid("CHANNELS", f["CHANNELS"], errors.New("must be 1, 3 or 4"))
	}
	if s.MaxFrameBytes, s.FrameTimeout, s.Ack, err = f.transport(); err != nil {
		return s, err
	}

	s.HashAlgo = f.get("HASH_ALGO", fingerprint.DefaultAlgorithm)
	if _, err := fingerprint.NewEngine(s.HashAlgo); err != nil {
		return s, invalid("HASH_ALGO", s.HashAlgo, err)
	}
	if s.Naming, err = storage.ParseNaming(f.get("NAMING", storage.NameByFingerprint.String())); err != nil {
		return s, invalid("NAMING", f["NAMING"], err)
	}
	if s.DecodeMode, err = canon.ParseMode(f.get("DECODE_MODE", canon.ModeColor.String())); err != nil {
		return s, invalid("DECODE_MODE", f["DECODE_MODE"], err)
	}
	if s.DecodeMode == canon.ModeColor && s.Expect.Channels != 3 {
		return s, invalid("CHANNELS", f["CHANNELS"], errors.New("color decode mode always yields 3 channels"))
	}
	if s.Compression, err = canon.ParseCompression(f.get("PNG_COMPRESSION", "default")); err != nil {
		return s, invalid("PNG_COMPRESSION", f["PNG_COMPRESSION"], err)
	}
	s.JournalURL = f["JOURNAL_URL"]
	return s, nil
}

// Client builds the client view, failing on the first missing or bad key.
func (f File) Client() (Client, error) {
	var (
		c   Client
		err error
	)
	if c.ServerIP, err = f.require("SERVER_IP"); err != nil {
		return c, err
	}
	if c.Port, err = f.port(); err != nil {
		return c, err
	}
	if c.ImagesFolder, err = f.require("IMAGES_FOLDER"); err != nil {
		return c, err
	}
	c.Extensions = splitExtensions(f.get("IMAGE_EXTENSIONS", DefaultExtensions))
	if len(c.Extensions) == 0 {
		return c, invalid("IMAGE_EXTENSIONS", f["IMAGE_EXTENSIONS"], errors.New("no extensions listed"))
	}
	if c.MaxFrameBytes, c.FrameTimeout, c.Ack, err = f.transport(); err != nil {
		return c, err
	}
	return c, nil
}

func (f File) transport() (uint32, time.Duration, wire.AckCodec, error) {
	max := uint64(wire.DefaultMaxFrameSize)
	if v, ok := f.lookup("MAX_FRAME_BYTES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, 0, nil, invalid("MAX_FRAME_BYTES", v, err)
		}
		max = n
	}

	timeout := DefaultFrameTimeout
	if v, ok := f.lookup("FRAME_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			if err == nil {
				err = errors.New("negative duration")
			}
			return 0, 0, nil, invalid("FRAME_TIMEOUT", v, err)
		}
		timeout = d
	}

	ack, err := wire.ParseAckMode(f.get("ACK_MODE", wire.BinaryAck{}.Name()))
	if err != nil {
		return 0, 0, nil, invalid("ACK_MODE", f["ACK_MODE"], err)
	}
	return uint32(max), timeout, ack, nil
}

func (f File) port() (int, error) {
	v, err := f.require("SERVER_PORT")
	if err != nil {
		return 0, err
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid("SERVER_PORT", v, err)
	}
	if p < 1 || p > 65535 {
		return 0, invalid("SERVER_PORT", v, errors.New("out of range"))
	}
	return p, nil
}

func (f File) positive(key string) (int, error) {
	v, err := f.require(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid(key, v, err)
	}
	if n <= 0 {
		return 0, invalid(key, v, errors.New("must be positive"))
	}
	return n, nil
}

func (f File) lookup(key string) (string, bool) {
	v, ok := f[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (f File) get(key, def string) string {
	if v, ok := f.lookup(key); ok {
		return v
	}
	return def
}

func (f File) require(key string) (string, error) {
	v, ok := f.lookup(key)
	if !ok {
		return "", errors.Wrap(ErrMissingKey, key)
	}
	return v, nil
}

func invalid(key, value string, cause error) error {
	return errors.Wrapf(ErrInvalidValue, "%s=%q: %v", key, value, cause)
}

// splitExtensions turns ".png, jpg" into [".png" ".jpg"].
func splitExtensions(v string) []string {
	var exts []string
	for _, e := range strings.Split(v, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}
