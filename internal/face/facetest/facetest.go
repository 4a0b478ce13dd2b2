// Package facetest provides a deterministic face.Engine and photo fixtures
// for tests outside the face package.
package facetest

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/kozaktomas/facelookup/internal/face"
)

// Engine treats a saturated rectangle on a neutral background as a face.
// The descriptor depends only on the rectangle's colour, so two photos
// painted in the same colour describe the same person and different
// primary colours are far apart.
type Engine struct {
	mu      sync.Mutex
	detects int
	embeds  int
	closed  bool
}

// Detect reports the bounding box of all saturated pixels.
func (e *Engine) Detect(frame *image.RGBA, minScore float32) ([]face.Detection, error) {
	e.mu.Lock()
	e.detects++
	e.mu.Unlock()

	box, ok := saturatedBox(frame)
	if !ok || minScore > 0.95 {
		return nil, nil
	}
	return []face.Detection{{Box: box, Score: 0.95}}, nil
}

// Embed derives a descriptor from the mean colour inside the detection box.
func (e *Engine) Embed(frame *image.RGBA, d face.Detection) (face.Descriptor, error) {
	e.mu.Lock()
	e.embeds++
	e.mu.Unlock()

	var r, g, b, n float64
	for y := d.Box.Min.Y; y < d.Box.Max.Y; y++ {
		for x := d.Box.Min.X; x < d.Box.Max.X; x++ {
			c := frame.RGBAAt(x, y)
			r += float64(c.R)
			g += float64(c.G)
			b += float64(c.B)
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	r, g, b = r/n/255, g/n/255, b/n/255

	desc := make(face.Descriptor, face.Dim)
	for i := range desc {
		fi := float64(i)
		desc[i] = float32(r*math.Cos(fi) + g*math.Sin(fi) + b*math.Cos(2*fi) + 0.001)
	}
	return desc, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Embeds returns how many descriptors were computed.
func (e *Engine) Embeds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embeds
}

// NewExtractor returns an extractor over a fresh Engine. The models are
// closed when the test ends.
func NewExtractor(t *testing.T, opts ...face.Option) (*face.Extractor, *Engine) {
	t.Helper()
	eng := &Engine{}
	models := face.NewModels(func() (face.Engine, error) { return eng, nil }, testr.New(t))
	t.Cleanup(func() { models.Close() })
	return face.NewExtractor(models, append([]face.Option{face.WithLogger(testr.New(t))}, opts...)...), eng
}

// Photo returns a PNG of a gray canvas with a c-coloured square in the middle.
func Photo(c color.RGBA) []byte {
	const w, h = 96, 96
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	for y := h / 4; y < h*3/4; y++ {
		for x := w / 4; x < w*3/4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return encode(img)
}

// Blank returns a PNG with no saturated pixels.
func Blank() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return encode(img)
}

// DataURI wraps PNG bytes in a data URI.
func DataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// Common face colours.
var (
	Red   = color.RGBA{R: 230, G: 20, B: 20, A: 255}
	Green = color.RGBA{R: 20, G: 230, B: 20, A: 255}
	Blue  = color.RGBA{R: 20, G: 20, B: 230, A: 255}
)

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func saturatedBox(frame *image.RGBA) (image.Rectangle, bool) {
	var box image.Rectangle
	found := false
	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := frame.RGBAAt(x, y)
			hi := max(c.R, c.G, c.B)
			lo := min(c.R, c.G, c.B)
			if hi-lo < 100 {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				box, found = px, true
			} else {
				box = box.Union(px)
			}
		}
	}
	return box, found
}
