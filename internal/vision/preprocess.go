// Package vision turns uploaded image bytes into normalized model input.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Size is the square input resolution of the classifier.
const Size = 224

// Channel statistics the pretrained backbone was trained with.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// DefaultMaxPixels bounds the decoded canvas. A small compressed file can
// declare a huge canvas, so the header is checked before decoding.
const DefaultMaxPixels = 64_000_000

var (
	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("image decode failed")
	// ErrTooManyPixels is wrapped by a DecodeError for oversized canvases.
	ErrTooManyPixels = errors.New("image dimensions exceed limit")
)

// DecodeError reports bytes that are not a decodable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Tensor is a dense float32 NCHW tensor.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// Channel returns the plane of channel c for batch index 0.
func (t *Tensor) Channel(c int) []float32 {
	plane := t.Shape[2] * t.Shape[3]
	return t.Data[c*plane : (c+1)*plane]
}

// Preprocessor converts raw image bytes to a [1,3,Size,Size] tensor.
type Preprocessor struct {
	size               int
	maxPixels          int
	correctOrientation bool
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithOrientation enables rotating images according to their EXIF
// orientation tag before resizing.
func WithOrientation(enabled bool) Option {
	return func(p *Preprocessor) {
		p.correctOrientation = enabled
	}
}

// WithSize overrides the output resolution.
func WithSize(size int) Option {
	return func(p *Preprocessor) {
		p.size = size
	}
}

// WithMaxPixels overrides the largest accepted width*height.
func WithMaxPixels(n int) Option {
	return func(p *Preprocessor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// NewPreprocessor creates a Preprocessor with the classifier defaults.
func NewPreprocessor(opts ...Option) *Preprocessor {
	p := &Preprocessor{size: Size, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preprocess decodes raw, forces RGB, resizes and standardizes it.
// Identical input always produces an identical tensor.
func (p *Preprocessor) Preprocess(raw []byte) (*Tensor, error) {
	img, format, err := Decode(raw, p.maxPixels)
	if err != nil {
		return nil, err
	}

	if p.correctOrientation {
		if o := ImageOrientation(raw); o != 1 {
			img = CorrectImageOrientation(img, o)
			log.Debug().Int("orientation", o).Msg("applied orientation correction")
		}
	}

	b := img.Bounds()
	log.Debug().
		Str("format", format).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("preprocessing image")

	resized := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.BiLinear.Scale(resized, resized.Bounds(), dropAlpha(img), b, draw.Src, nil)

	return normalize(resized, p.size), nil
}

// Decode decodes raw with every registered image format. Images whose
// header declares more than maxPixels pixels are rejected without decoding
// the pixel data.
func Decode(raw []byte, maxPixels int) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", &DecodeError{Err: errors.New("empty input")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", &DecodeError{Err: fmt.Errorf("%w: %dx%d is more than %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)}
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", &DecodeError{Err: errors.New("image has no pixels")}
	}
	return img, format, nil
}

// dropAlpha returns an opaque copy of img keeping the straight color
// channels. Opaque images are returned unchanged.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func normalize(img *image.RGBA, size int) *Tensor {
	plane := size * size
	t := &Tensor{
		Shape: [4]int{1, 3, size, size},
		Data:  make([]float32, 3*plane),
	}

	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				t.Data[c*plane+i] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return t
}
