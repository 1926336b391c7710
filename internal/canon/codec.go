package canon

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Codec turns compressed image bytes into pixels and back. Decoding must be
// deterministic for identical input.
type Codec interface {
	DecodeConfig(data []byte) (image.Config, string, error)
	Decode(data []byte) (image.Image, string, error)
	Encode(w io.Writer, img image.Image) error
	Ext() string
}

// StdCodec decodes every format registered with the image package (png,
// jpeg, gif, bmp, tiff, webp) and always encodes PNG.
type StdCodec struct {
	Compression png.CompressionLevel
}

func (StdCodec) DecodeConfig(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}

func (StdCodec) Decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

func (c StdCodec) Encode(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: c.Compression}
	return enc.Encode(w, img)
}

func (StdCodec) Ext() string { return ".png" }

// ParseCompression maps a PNG_COMPRESSION value onto a png level.
func ParseCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	}
	return 0, errors.Errorf("unknown png compression %q (want default, none, fast or best)", name)
}
