package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    uint64
		hash2    uint64
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"four bits different", 0xF, 0x0, 4},
		{"half different", 0xFFFFFFFF00000000, 0x0, 32},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := HammingDistance(tc.hash1, tc.hash2)
			if result != tc.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d",
					tc.hash1, tc.hash2, result, tc.expected)
			}
		})
	}
}

func TestHash_StringRoundTrip(t *testing.T) {
	h := Hash{0x0123456789abcdef, 0, 0xffffffffffffffff}

	s := h.String()
	if len(s) != 48 {
		t.Fatalf("expected 48 hex characters, got %d: %s", len(s), s)
	}
	if s[:16] != "0123456789abcdef" {
		t.Errorf("expected red channel first, got %s", s)
	}

	parsed, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash failed: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip mismatch: %v vs %v", parsed, h)
	}
}

func TestParseHash_Invalid(t *testing.T) {
	for _, s := range []string{"", "00ff00ff00ff00ff", "zz" + Hash{}.String()[2:], Hash{}.String() + "00"} {
		if _, err := ParseHash(s); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("ParseHash(%q) error = %v, want ErrInvalidHash", s, err)
		}
	}
}

func TestCompute_Consistent(t *testing.T) {
	data := encodePNG(squareImage(color.RGBA{R: 200, G: 40, B: 40, A: 255}))

	h1, err := Compute(data)
	if err != nil {
		t.Fatalf("first Compute failed: %v", err)
	}
	h2, err := Compute(data)
	if err != nil {
		t.Fatalf("second Compute failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash should be deterministic: %s vs %s", h1, h2)
	}
}

func TestCompute_MatchesDecodedPixels(t *testing.T) {
	img := gradientImage(120, 90)

	fromBytes, err := Compute(encodePNG(img))
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if fromPixels := ComputeImage(img); fromPixels != fromBytes {
		t.Errorf("lossless encoding changed the hash: %s vs %s", fromPixels, fromBytes)
	}
	if fromBytes == (Hash{}) {
		t.Error("gradient image should produce a non-zero hash")
	}
}

func TestCompute_SeparatesRecolouredPhotos(t *testing.T) {
	red, err := Compute(encodePNG(squareImage(color.RGBA{R: 230, G: 20, B: 20, A: 255})))
	if err != nil {
		t.Fatal(err)
	}
	blue, err := Compute(encodePNG(squareImage(color.RGBA{R: 20, G: 20, B: 230, A: 255})))
	if err != nil {
		t.Fatal(err)
	}
	// Both squares are darker than the canvas in luma, so only per-channel
	// hashing tells them apart.
	if Same(red.String(), blue.String(), 4) {
		t.Errorf("recoloured photo should not count as the same: distance %d", Distance(red, blue))
	}
	if !Same(red.String(), red.String(), 0) {
		t.Error("identical hashes should be the same")
	}
}

func TestSame_UnparseableNeverMatches(t *testing.T) {
	h := Hash{1, 2, 3}.String()
	if Same("", h, 64) || Same(h, "legacy", 64) {
		t.Error("unparseable hashes must not match")
	}
}

func TestCompute_InvalidImage(t *testing.T) {
	if _, err := Compute([]byte("not an image")); err == nil {
		t.Error("Compute should fail for invalid image data")
	}
}

func TestComputeMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"odd count", []float64{1, 2, 3, 4, 5}, 3},
		{"even count", []float64{1, 2, 3, 4}, 2.5},
		{"single value", []float64{42}, 42},
		{"unsorted", []float64{5, 1, 3, 2, 4}, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := computeMedian(tc.values)
			if result != tc.expected {
				t.Errorf("computeMedian(%v) = %f; want %f", tc.values, result, tc.expected)
			}
		})
	}
}

// Helper functions

func squareImage(c color.RGBA) *image.RGBA {
	const size = 96
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := range size {
		for y := range size {
			px := color.RGBA{R: 128, G: 128, B: 128, A: 255}
			if x >= size/4 && x < size*3/4 && y >= size/4 && y < size*3/4 {
				px = c
			}
			img.SetRGBA(x, y, px)
		}
	}
	return img
}

func gradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) * 255 / (width + height)),
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
