package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

// detectCall records the frame a fake detection pass ran on.
type detectCall struct {
	width, height int
	gray          bool
}

// fakeEngine finds "faces" as blocks of saturated red pixels and derives a
// descriptor from the detection box relative to the frame.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []detectCall
	detect func(frame *image.RGBA, minScore float32) ([]Detection, error)
	embed  func(frame *image.RGBA, d Detection) (Descriptor, error)
	embeds []Detection
	closed bool
}

func (f *fakeEngine) Detect(frame *image.RGBA, minScore float32) ([]Detection, error) {
	f.mu.Lock()
	b := frame.Bounds()
	f.calls = append(f.calls, detectCall{width: b.Dx(), height: b.Dy(), gray: isGray(frame)})
	f.mu.Unlock()

	if f.detect != nil {
		return f.detect(frame, minScore)
	}
	if box, ok := redBox(frame); ok {
		return []Detection{{Box: box, Score: 0.9}}, nil
	}
	return nil, nil
}

func (f *fakeEngine) Embed(frame *image.RGBA, d Detection) (Descriptor, error) {
	f.mu.Lock()
	f.embeds = append(f.embeds, d)
	f.mu.Unlock()

	if f.embed != nil {
		return f.embed(frame, d)
	}
	b := frame.Bounds()
	cx := float32(d.Box.Min.X+d.Box.Dx()/2) / float32(b.Dx())
	cy := float32(d.Box.Min.Y+d.Box.Dy()/2) / float32(b.Dy())
	desc := make(Descriptor, Dim)
	for i := range desc {
		desc[i] = float32(i%7)*cx + float32(i%5)*cy + 0.01
	}
	return desc, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func (f *fakeEngine) detectCalls() []detectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]detectCall(nil), f.calls...)
}

func isGray(frame *image.RGBA) bool {
	for i := 0; i+2 < len(frame.Pix); i += 4 {
		if frame.Pix[i] != frame.Pix[i+1] || frame.Pix[i+1] != frame.Pix[i+2] {
			return false
		}
	}
	return true
}

func redBox(frame *image.RGBA) (image.Rectangle, bool) {
	var box image.Rectangle
	found := false
	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := frame.RGBAAt(x, y)
			if c.R > 200 && c.G < 60 && c.B < 60 {
				px := image.Rect(x, y, x+1, y+1)
				if !found {
					box = px
					found = true
				} else {
					box = box.Union(px)
				}
			}
		}
	}
	return box, found
}

// faceImage draws a gray canvas with a red square covering the middle quarter.
func faceImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	for y := h * 3 / 8; y < h*5/8; y++ {
		for x := w * 3 / 8; x < w*5/8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 230, G: 20, B: 20, A: 255})
		}
	}
	return img
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func newTestExtractor(t *testing.T, eng Engine, opts ...Option) *Extractor {
	t.Helper()
	models := NewModels(func() (Engine, error) { return eng, nil }, testr.New(t))
	t.Cleanup(func() { models.Close() })
	return NewExtractor(models, append([]Option{WithLogger(testr.New(t))}, opts...)...)
}

func TestExtract_SingleFace(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{})

	desc := ext.Extract(context.Background(), RawBytes(encodePNG(t, faceImage(200, 160))))

	if len(desc) != Dim {
		t.Fatalf("expected %d values, got %d", Dim, len(desc))
	}
	if !desc.Finite() {
		t.Error("expected finite descriptor values")
	}
}

func TestExtract_NoFace(t *testing.T) {
	eng := &fakeEngine{}
	ext := newTestExtractor(t, eng)
	img := RawBytes(encodePNG(t, solidImage(120, 90, color.RGBA{R: 10, G: 120, B: 200, A: 255})))

	if desc := ext.Extract(context.Background(), img); desc != nil {
		t.Errorf("expected no descriptor, got %d values", len(desc))
	}

	_, err := ext.Describe(context.Background(), img)
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{})
	data := encodePNG(t, faceImage(300, 200))

	first := ext.Extract(context.Background(), RawBytes(data))
	second := ext.Extract(context.Background(), RawBytes(data))

	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("expected equal-length descriptors, got %d and %d", len(first), len(second))
	}
	for i := range first {
		diff := first[i] - second[i]
		if diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("descriptor differs at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestDescribe_DownscaleRetry(t *testing.T) {
	eng := &fakeEngine{
		detect: func(frame *image.RGBA, minScore float32) ([]Detection, error) {
			// Only small frames yield a face
			if longerSide(frame) > 640 {
				return nil, nil
			}
			box, _ := redBox(frame)
			return []Detection{{Box: box, Score: 0.8}}, nil
		},
	}
	ext := newTestExtractor(t, eng)

	desc, err := ext.Describe(context.Background(), Decoded{faceImage(1280, 960)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(desc) != Dim {
		t.Errorf("expected %d values, got %d", Dim, len(desc))
	}

	calls := eng.detectCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 detection passes, got %d", len(calls))
	}
	if calls[0].width != 1280 || calls[0].height != 960 {
		t.Errorf("first pass should run at native size, got %dx%d", calls[0].width, calls[0].height)
	}
	if calls[1].width != 640 || calls[1].height != 480 {
		t.Errorf("second pass should run at 640x480, got %dx%d", calls[1].width, calls[1].height)
	}
}

func TestDescribe_SmallImageSkipsDownscale(t *testing.T) {
	eng := &fakeEngine{detect: func(*image.RGBA, float32) ([]Detection, error) { return nil, nil }}
	ext := newTestExtractor(t, eng)

	_, err := ext.Describe(context.Background(), Decoded{faceImage(640, 320)})
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}

	calls := eng.detectCalls()
	if len(calls) != 2 {
		t.Fatalf("expected native and grayscale passes, got %d", len(calls))
	}
	if calls[0].gray || !calls[1].gray {
		t.Errorf("expected color pass then grayscale pass, got %+v", calls)
	}
	if calls[1].width != 640 {
		t.Errorf("grayscale pass should keep native size, got %d", calls[1].width)
	}
}

func TestDescribe_GrayscaleRetry(t *testing.T) {
	eng := &fakeEngine{
		detect: func(frame *image.RGBA, minScore float32) ([]Detection, error) {
			if !isGray(frame) {
				return nil, nil
			}
			return []Detection{{Box: image.Rect(10, 10, 50, 50), Score: 0.7}}, nil
		},
	}
	ext := newTestExtractor(t, eng)

	desc, err := ext.Describe(context.Background(), Decoded{faceImage(1000, 500)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(desc) != Dim {
		t.Errorf("expected %d values, got %d", Dim, len(desc))
	}

	calls := eng.detectCalls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 detection passes, got %d", len(calls))
	}
	last := calls[2]
	if !last.gray || last.width != 640 || last.height != 320 {
		t.Errorf("expected grayscale pass on the downscaled frame, got %+v", last)
	}
}

func TestDescribe_GrayscaleRetryDisabled(t *testing.T) {
	eng := &fakeEngine{detect: func(*image.RGBA, float32) ([]Detection, error) { return nil, nil }}
	ext := newTestExtractor(t, eng, WithGrayscaleRetry(false))

	_, err := ext.Describe(context.Background(), Decoded{faceImage(100, 100)})
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
	if n := len(eng.detectCalls()); n != 1 {
		t.Errorf("expected a single detection pass, got %d", n)
	}
}

func TestDescribe_PicksHighestScore(t *testing.T) {
	eng := &fakeEngine{
		detect: func(*image.RGBA, float32) ([]Detection, error) {
			return []Detection{
				{Box: image.Rect(0, 0, 10, 10), Score: 0.5},
				{Box: image.Rect(20, 20, 30, 30), Score: 0.95},
				{Box: image.Rect(40, 40, 50, 50), Score: 0.95},
			}, nil
		},
	}
	ext := newTestExtractor(t, eng)

	if _, err := ext.Describe(context.Background(), Decoded{faceImage(64, 64)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.embeds) != 1 {
		t.Fatalf("expected one embed call, got %d", len(eng.embeds))
	}
	if got := eng.embeds[0].Box; got != image.Rect(20, 20, 30, 30) {
		t.Errorf("expected first highest-scoring box, got %v", got)
	}
}

func TestDescribe_EnforcesDetectionThreshold(t *testing.T) {
	eng := &fakeEngine{
		detect: func(*image.RGBA, float32) ([]Detection, error) {
			return []Detection{{Box: image.Rect(0, 0, 10, 10), Score: 0.2}}, nil
		},
	}
	ext := newTestExtractor(t, eng, WithDetectionThreshold(0.4))

	_, err := ext.Describe(context.Background(), Decoded{faceImage(64, 64)})
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace for low-scoring detection, got %v", err)
	}

	ext = newTestExtractor(t, eng, WithDetectionThreshold(0.15))
	if _, err := ext.Describe(context.Background(), Decoded{faceImage(64, 64)}); err != nil {
		t.Errorf("expected detection at a looser threshold, got %v", err)
	}
}

func TestDescribe_EmptyInputs(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{})

	tests := []struct {
		name string
		img  Image
	}{
		{"nil image", nil},
		{"empty path", FilePath("")},
		{"blank path", FilePath("   ")},
		{"empty bytes", RawBytes(nil)},
		{"empty data URI", DataURI("")},
		{"data URI without payload", DataURI("data:image/png;base64,")},
		{"nil decoded", Decoded{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ext.Describe(context.Background(), tc.img)
			if !errors.Is(err, ErrEmptyImage) {
				t.Errorf("expected ErrEmptyImage, got %v", err)
			}
			if desc := ext.Extract(context.Background(), tc.img); desc != nil {
				t.Error("expected nil descriptor")
			}
		})
	}
}

func TestDescribe_DecodeFailures(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{}, WithUploadDir(t.TempDir()))

	tests := []struct {
		name string
		img  Image
	}{
		{"garbage bytes", RawBytes("definitely not an image")},
		{"missing file", FilePath("no-such-student.jpg")},
		{"bad base64", DataURI("data:image/png;base64,!!!not-base64!!!")},
		{"not base64 encoded", DataURI("data:image/png,rawpayload")},
		{"no separator", DataURI("data:image/png;base64")},
		{"valid base64 but not an image", DataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello")))},
		{"zero-sized decoded", Decoded{image.NewRGBA(image.Rect(0, 0, 0, 0))}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ext.Describe(context.Background(), tc.img)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
			if desc := ext.Extract(context.Background(), tc.img); desc != nil {
				t.Error("expected nil descriptor")
			}
		})
	}
}

func TestDescribe_DataURI(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{})
	payload := base64.StdEncoding.EncodeToString(encodePNG(t, faceImage(80, 80)))

	for _, uri := range []string{
		"data:image/png;base64," + payload,
		"data:image/jpeg;base64," + payload, // mime type is advisory
	} {
		desc, err := ext.Describe(context.Background(), DataURI(uri))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(desc) != Dim {
			t.Errorf("expected %d values, got %d", Dim, len(desc))
		}
	}
}

func TestDescribe_UploadDirResolution(t *testing.T) {
	uploadDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(uploadDir, "student_42.png"), encodePNG(t, faceImage(80, 80)), 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	ext := newTestExtractor(t, &fakeEngine{}, WithUploadDir(uploadDir))

	tests := []struct {
		name string
		path FilePath
	}{
		{"bare file name", "student_42.png"},
		{"stale directory", "/old/server/uploads/student_42.png"},
		{"absolute path", FilePath(filepath.Join(uploadDir, "student_42.png"))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ext.Describe(context.Background(), tc.path); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDescribe_RecognitionFailures(t *testing.T) {
	tests := []struct {
		name  string
		embed func(*image.RGBA, Detection) (Descriptor, error)
	}{
		{"embed error", func(*image.RGBA, Detection) (Descriptor, error) { return nil, errors.New("net forward failed") }},
		{"empty descriptor", func(*image.RGBA, Detection) (Descriptor, error) { return Descriptor{}, nil }},
		{"panic", func(*image.RGBA, Detection) (Descriptor, error) { panic("cv::Exception") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ext := newTestExtractor(t, &fakeEngine{embed: tc.embed})

			_, err := ext.Describe(context.Background(), Decoded{faceImage(64, 64)})
			if !errors.Is(err, ErrRecognition) {
				t.Errorf("expected ErrRecognition, got %v", err)
			}
			if desc := ext.Extract(context.Background(), Decoded{faceImage(64, 64)}); desc != nil {
				t.Error("expected nil descriptor")
			}
		})
	}
}

func TestDescribe_ContextCancelled(t *testing.T) {
	ext := newTestExtractor(t, &fakeEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ext.Describe(ctx, Decoded{faceImage(64, 64)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestModels_LoadFailureIsSticky(t *testing.T) {
	var loads atomic.Int32
	models := NewModels(func() (Engine, error) {
		loads.Add(1)
		return nil, errors.New("face_detection_yunet_2023mar.onnx: no such file")
	}, testr.New(t))
	ext := NewExtractor(models)

	for range 3 {
		if desc := ext.Extract(context.Background(), Decoded{faceImage(64, 64)}); desc != nil {
			t.Fatal("expected nil descriptor without models")
		}
		_, err := ext.Describe(context.Background(), Decoded{faceImage(64, 64)})
		if !errors.Is(err, ErrModelsUnavailable) {
			t.Fatalf("expected ErrModelsUnavailable, got %v", err)
		}
	}

	if n := loads.Load(); n != 1 {
		t.Errorf("expected loader to run once, ran %d times", n)
	}
	if err := models.Warm(); !errors.Is(err, ErrModelsUnavailable) {
		t.Errorf("expected Warm to report ErrModelsUnavailable, got %v", err)
	}
}

func TestModels_ConcurrentFirstUse(t *testing.T) {
	var loads atomic.Int32
	eng := &fakeEngine{}
	models := NewModels(func() (Engine, error) {
		loads.Add(1)
		return eng, nil
	}, logr.Discard())
	ext := NewExtractor(models)
	data := encodePNG(t, faceImage(96, 96))

	var wg sync.WaitGroup
	results := make([]Descriptor, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = ext.Extract(context.Background(), RawBytes(data))
		}()
	}
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("expected loader to run once, ran %d times", n)
	}
	for i, desc := range results {
		if len(desc) != Dim {
			t.Errorf("goroutine %d: expected %d values, got %d", i, Dim, len(desc))
		}
	}
}

func TestModels_Close(t *testing.T) {
	eng := &fakeEngine{}
	models := NewModels(func() (Engine, error) { return eng, nil }, logr.Discard())
	if err := models.Warm(); err != nil {
		t.Fatalf("unexpected warm error: %v", err)
	}

	if err := models.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !eng.closed {
		t.Error("expected engine to be closed")
	}

	err := models.Do(func(Engine) error { return nil })
	if !errors.Is(err, ErrModelsUnavailable) {
		t.Errorf("expected ErrModelsUnavailable after close, got %v", err)
	}
}

func TestModels_CloseBeforeUse(t *testing.T) {
	var loads atomic.Int32
	models := NewModels(func() (Engine, error) {
		loads.Add(1)
		return &fakeEngine{}, nil
	}, logr.Discard())

	if err := models.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := models.Do(func(Engine) error { return nil }); !errors.Is(err, ErrModelsUnavailable) {
		t.Errorf("expected ErrModelsUnavailable, got %v", err)
	}
	if loads.Load() != 0 {
		t.Error("closed models must not load an engine")
	}
}
