// Package opencv implements face.Engine with the OpenCV YuNet detector and
// SFace recognizer ONNX models.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/facelookup/internal/config"
	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/face"
)

// YuNet output row layout: x, y, w, h, five landmark (x, y) pairs, score.
const (
	yunetCols     = 15
	yunetScoreCol = 14
)

// Engine holds the loaded detector and recognizer networks.
type Engine struct {
	detector   gocv.FaceDetectorYN
	recognizer gocv.FaceRecognizerSF
}

// NewLoader returns a face.Loader reading the model files named in cfg.
func NewLoader(cfg config.FaceConfig) face.Loader {
	detectorPath := cfg.DetectorPath()
	recognizerPath := cfg.RecognizerPath()
	return func() (face.Engine, error) {
		return Load(detectorPath, recognizerPath)
	}
}

// Load reads both ONNX models. Files are checked up front because OpenCV
// aborts the process instead of returning an error for a missing model.
func Load(detectorPath, recognizerPath string) (*Engine, error) {
	for _, p := range []string{detectorPath, recognizerPath} {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("model file %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("model file %s is a directory", p)
		}
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		detectorPath, "",
		image.Pt(320, 320),
		float32(constants.DefaultDetectionThreshold),
		float32(constants.DefaultNMSThreshold),
		constants.DefaultDetectorTopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	recognizer := gocv.NewFaceRecognizerSF(recognizerPath, "")

	return &Engine{detector: detector, recognizer: recognizer}, nil
}

// Detect runs YuNet at the frame's own size.
func (e *Engine) Detect(frame *image.RGBA, minScore float32) ([]face.Detection, error) {
	bgr, err := toBGR(frame)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	b := frame.Bounds()
	e.detector.SetInputSize(image.Pt(b.Dx(), b.Dy()))
	e.detector.SetScoreThreshold(minScore)

	faces := gocv.NewMat()
	defer faces.Close()
	e.detector.Detect(bgr, &faces)

	if faces.Empty() || faces.Cols() < yunetCols {
		return nil, nil
	}

	dets := make([]face.Detection, 0, faces.Rows())
	for r := range faces.Rows() {
		raw := make([]float32, faces.Cols())
		for c := range raw {
			raw[c] = faces.GetFloatAt(r, c)
		}
		dets = append(dets, detectionFromRow(raw))
	}
	return dets, nil
}

// Embed aligns the detected face to the SFace input pose and returns its feature vector.
func (e *Engine) Embed(frame *image.RGBA, d face.Detection) (face.Descriptor, error) {
	if len(d.Raw) < yunetCols {
		return nil, errors.New("detection has no YuNet row to align with")
	}

	bgr, err := toBGR(frame)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	box := gocv.NewMatWithSize(1, len(d.Raw), gocv.MatTypeCV32F)
	defer box.Close()
	for i, v := range d.Raw {
		box.SetFloatAt(0, i, v)
	}

	aligned := gocv.NewMat()
	defer aligned.Close()
	e.recognizer.AlignCrop(bgr, box, &aligned)
	if aligned.Empty() {
		return nil, errors.New("face alignment produced an empty crop")
	}

	feature := gocv.NewMat()
	defer feature.Close()
	e.recognizer.Feature(aligned, &feature)

	values, err := feature.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading SFace feature: %w", err)
	}
	desc := make(face.Descriptor, len(values))
	copy(desc, values)
	return desc, nil
}

// Close releases both networks.
func (e *Engine) Close() error {
	e.detector.Close()
	e.recognizer.Close()
	return nil
}

func detectionFromRow(raw []float32) face.Detection {
	d := face.Detection{
		Box: image.Rect(
			int(raw[0]), int(raw[1]),
			int(raw[0]+raw[2]), int(raw[1]+raw[3]),
		),
		Score: raw[yunetScoreCol],
		Raw:   raw,
	}
	for i := range d.Landmarks {
		d.Landmarks[i] = image.Pt(int(raw[4+2*i]), int(raw[5+2*i]))
	}
	return d
}

// toBGR converts an RGBA frame into the 3-channel BGR Mat the networks expect.
func toBGR(frame *image.RGBA) (gocv.Mat, error) {
	b := frame.Bounds()
	if b.Min == (image.Point{}) && frame.Stride == 4*b.Dx() {
		rgba, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, frame.Pix[:4*b.Dx()*b.Dy()])
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("wrapping frame: %w", err)
		}
		defer rgba.Close()
		bgr := gocv.NewMat()
		gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
		return bgr, nil
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("converting frame: %w", err)
	}
	return mat, nil
}
