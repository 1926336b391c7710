// Package canon decodes compressed images into a canonical pixel buffer so
// that identical visual content compares byte-for-byte, regardless of which
// encoder or compression settings produced it.
package canon

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how many channels a decoded image is normalized to.
type Mode int

const (
	// ModeColor always yields 3-channel BGR, dropping alpha and expanding gray.
	ModeColor Mode = iota
	// ModeUnchanged keeps gray as 1 channel, opaque color as BGR and
	// translucent color as BGRA.
	ModeUnchanged
)

// ParseMode maps a DECODE_MODE value onto a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "color":
		return ModeColor, nil
	case "unchanged":
		return ModeUnchanged, nil
	}
	return 0, errors.Errorf("unknown decode mode %q (want color or unchanged)", name)
}

func (m Mode) String() string {
	if m == ModeUnchanged {
		return "unchanged"
	}
	return "color"
}

// Expect is the geometry every accepted image must have. Zero fields are
// not checked.
type Expect struct {
	Width    int
	Height   int
	Channels int
}

func (e Expect) String() string {
	return fmt.Sprintf("%dx%dx%d", e.Width, e.Height, e.Channels)
}

func (e Expect) matches(got Expect) bool {
	return (e.Width == 0 || e.Width == got.Width) &&
		(e.Height == 0 || e.Height == got.Height) &&
		(e.Channels == 0 || e.Channels == got.Channels)
}

// Image is a decoded, validated picture. Pix holds Height rows of
// Width*Channels bytes with no padding, channels ordered Gray, BGR or BGRA.
type Image struct {
	Width           int
	Height          int
	Channels        int
	BytesPerChannel int
	Pix             []byte
}

// Stride is the number of bytes in one row.
func (img *Image) Stride() int { return img.Width * img.Channels * img.BytesPerChannel }

// Geometry returns the image dimensions as an Expect value.
func (img *Image) Geometry() Expect {
	return Expect{Width: img.Width, Height: img.Height, Channels: img.Channels}
}

// Image converts the canonical buffer back into an image.Image for encoding.
func (img *Image) Image() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	if img.Channels == 1 {
		out := image.NewGray(rect)
		copy(out.Pix, img.Pix)
		return out
	}

	out := image.NewNRGBA(rect)
	for i, j := 0, 0; i < len(img.Pix); i, j = i+img.Channels, j+4 {
		out.Pix[j+0] = img.Pix[i+2]
		out.Pix[j+1] = img.Pix[i+1]
		out.Pix[j+2] = img.Pix[i+0]
		if img.Channels == 4 {
			out.Pix[j+3] = img.Pix[i+3]
		} else {
			out.Pix[j+3] = 0xff
		}
	}
	return out
}

// Canonicalizer validates and normalizes incoming images.
type Canonicalizer struct {
	codec Codec
	mode  Mode
}

// New returns a Canonicalizer that decodes with codec.
func New(codec Codec, mode Mode) *Canonicalizer {
	return &Canonicalizer{codec: codec, mode: mode}
}

// Codec returns the codec used for decoding.
func (c *Canonicalizer) Codec() Codec { return c.codec }

// Canonicalize decodes data and checks it against want. Width and height are
// read from the header first so oversized images are rejected before their
// pixels are allocated.
func (c *Canonicalizer) Canonicalize(data []byte, want Expect) (*Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}

	cfg, _, err := c.codec.DecodeConfig(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	header := Expect{Width: cfg.Width, Height: cfg.Height}
	if !(Expect{Width: want.Width, Height: want.Height}).matches(header) {
		header.Channels = want.Channels
		return nil, &DimensionMismatchError{Got: header, Want: want}
	}

	decoded, _, err := c.codec.Decode(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	img := normalize(decoded, c.mode)
	if !want.matches(img.Geometry()) {
		return nil, &DimensionMismatchError{Got: img.Geometry(), Want: want}
	}
	return img, nil
}

// channelsFor decides the canonical channel count for a decoded image.
func channelsFor(src image.Image, mode Mode) int {
	if mode == ModeColor {
		return 3
	}
	switch src.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return 1
	}
	if opaque(src) {
		return 3
	}
	return 4
}

func opaque(src image.Image) bool {
	if o, ok := src.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := src.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// normalize copies src into a contiguous canonical buffer.
func normalize(src image.Image, mode Mode) *Image {
	b := src.Bounds()
	ch := channelsFor(src, mode)
	img := &Image{
		Width:           b.Dx(),
		Height:          b.Dy(),
		Channels:        ch,
		BytesPerChannel: 1,
	}
	img.Pix = make([]byte, img.Width*img.Height*ch)

	i := 0
	switch s := src.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, y) : s.PixOffset(b.Min.X, y)+img.Width]
			for _, v := range row {
				for k := 0; k < ch; k++ {
					img.Pix[i+k] = v
				}
				i += ch
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, y) : s.PixOffset(b.Min.X, y)+4*img.Width]
			for j := 0; j < len(row); j += 4 {
				put(img.Pix[i:i+ch], row[j], row[j+1], row[j+2], row[j+3])
				i += ch
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.At(x, y)
				if ch == 1 {
					img.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
				} else {
					n := color.NRGBAModel.Convert(c).(color.NRGBA)
					put(img.Pix[i:i+ch], n.R, n.G, n.B, n.A)
				}
				i += ch
			}
		}
	}
	return img
}

// put writes one pixel in canonical channel order.
func put(dst []byte, r, g, b, a uint8) {
	switch len(dst) {
	case 1:
		dst[0] = color.GrayModel.Convert(color.NRGBA{R: r, G: g, B: b, A: 0xff}).(color.Gray).Y
	case 3:
		dst[0], dst[1], dst[2] = b, g, r
	case 4:
		dst[0], dst[1], dst[2], dst[3] = b, g, r, a
	}
}
