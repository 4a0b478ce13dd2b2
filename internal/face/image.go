package face

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Image is an extraction input. It is one of FilePath, DataURI, RawBytes or
// Decoded; each variant carries its own decode path.
type Image interface {
	decode(uploadDir string) (image.Image, error)
	// Kind names the variant for logs.
	Kind() string
}

// FilePath is an image on disk. A path that does not exist is retried as a
// bare file name under the extractor's upload directory.
type FilePath string

// DataURI is an inline image of the form data:<mime>;base64,<payload>.
type DataURI string

// RawBytes is an encoded raster image (JPEG, PNG, GIF, BMP or WebP).
type RawBytes []byte

// Decoded wraps pixels that are already in memory.
type Decoded struct {
	image.Image
}

func (FilePath) Kind() string { return "path" }
func (DataURI) Kind() string  { return "data_uri" }
func (RawBytes) Kind() string { return "bytes" }
func (Decoded) Kind() string  { return "decoded" }

// ParseSource maps a free-form stored string to an Image: strings starting
// with "data:" are data URIs, anything else is a path. Use it only at
// boundaries where the variant is not known, such as the photo_file column.
func ParseSource(s string) Image {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		return DataURI(s)
	}
	return FilePath(s)
}

func (p FilePath) decode(uploadDir string) (image.Image, error) {
	if strings.TrimSpace(string(p)) == "" {
		return nil, ErrEmptyImage
	}
	path, err := resolvePath(string(p), uploadDir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path resolved from caller input on purpose
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrDecode, path, err)
	}
	return RawBytes(data).decode(uploadDir)
}

// resolvePath returns p if it names an existing regular file, otherwise the
// same base name under uploadDir.
func resolvePath(p, uploadDir string) (string, error) {
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p, nil
	}
	if uploadDir != "" {
		candidate := filepath.Join(uploadDir, filepath.Base(p))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: file not found: %s", ErrDecode, p)
}

func (u DataURI) decode(uploadDir string) (image.Image, error) {
	data, err := u.Bytes()
	if err != nil {
		return nil, err
	}
	return RawBytes(data).decode(uploadDir)
}

// Bytes returns the decoded payload of the data URI.
func (u DataURI) Bytes() ([]byte, error) {
	s := strings.TrimSpace(string(u))
	if s == "" {
		return nil, ErrEmptyImage
	}
	if !strings.HasPrefix(s, "data:") {
		return nil, fmt.Errorf("%w: not a data URI", ErrDecode)
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: data URI has no payload separator", ErrDecode)
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: data URI is not base64 encoded", ErrDecode)
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some browsers strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrDecode, err)
		}
	}
	return data, nil
}

func (b RawBytes) decode(string) (image.Image, error) {
	if len(b) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func (d Decoded) decode(string) (image.Image, error) {
	if d.Image == nil {
		return nil, ErrEmptyImage
	}
	if b := d.Bounds(); b.Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	return d.Image, nil
}

// ReadBytes returns the encoded bytes behind img, resolving bare file names
// under uploadDir. Decoded images are re-encoded as PNG.
func ReadBytes(img Image, uploadDir string) ([]byte, error) {
	switch v := img.(type) {
	case nil:
		return nil, ErrEmptyImage
	case RawBytes:
		if len(v) == 0 {
			return nil, ErrEmptyImage
		}
		return v, nil
	case DataURI:
		return v.Bytes()
	case FilePath:
		if strings.TrimSpace(string(v)) == "" {
			return nil, ErrEmptyImage
		}
		path, err := resolvePath(string(v), uploadDir)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path) //nolint:gosec // path resolved from caller input on purpose
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrDecode, path, err)
		}
		return data, nil
	case Decoded:
		src, err := v.decode(uploadDir)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, src); err != nil {
			return nil, fmt.Errorf("%w: encoding png: %v", ErrDecode, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported image source %s", ErrDecode, img.Kind())
	}
}

// decodeFrame decodes img and returns it as an 8-bit RGBA frame with its
// origin at (0, 0).
func decodeFrame(img Image, uploadDir string) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	src, err := img.decode(uploadDir)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba, nil
	}
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(frame, frame.Bounds(), src, b.Min, draw.Src)
	return frame, nil
}

// isDecodeError reports whether err belongs to the input-side failures.
func isDecodeError(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrEmptyImage)
}
