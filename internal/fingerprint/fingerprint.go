// Package fingerprint computes perceptual hashes of student photos so an
// unchanged photo can keep its stored face descriptor.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	dctSize  = 32
	lowFreqN = 8
)

// Hash is a 64-bit DCT perceptual hash per colour channel (R, G, B). A single
// luma hash cannot tell a recoloured photo from the original.
type Hash [3]uint64

// ErrInvalidHash is returned by ParseHash for text that is not a Hash.
var ErrInvalidHash = errors.New("invalid photo hash")

// String returns the 48-character hex form stored in photo_hash.
func (h Hash) String() string {
	var buf [24]byte
	for c, v := range h {
		for i := range 8 {
			buf[c*8+i] = byte(v >> (56 - 8*i))
		}
	}
	return hex.EncodeToString(buf[:])
}

// ParseHash parses the output of Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 24 {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	for c := range h {
		for i := range 8 {
			h[c] = h[c]<<8 | uint64(raw[c*8+i])
		}
	}
	return h, nil
}

// Compute decodes an encoded image and hashes it.
func Compute(data []byte) (Hash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return ComputeImage(img), nil
}

// ComputeImage hashes decoded pixels.
func ComputeImage(img image.Image) Hash {
	small := image.NewRGBA(image.Rect(0, 0, dctSize, dctSize))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var h Hash
	for c := range h {
		h[c] = channelHash(channelPlane(small, c))
	}
	return h
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Distance is the total Hamming distance over all channels.
func Distance(a, b Hash) int {
	d := 0
	for c := range a {
		d += HammingDistance(a[c], b[c])
	}
	return d
}

// Same reports whether two stored hashes describe the same photo within
// maxDistance bits. Unparseable hashes never match.
func Same(a, b string, maxDistance int) bool {
	ha, err := ParseHash(a)
	if err != nil {
		return false
	}
	hb, err := ParseHash(b)
	if err != nil {
		return false
	}
	return Distance(ha, hb) <= maxDistance
}

// channelPlane extracts one 8-bit channel as a [x][y] grid.
func channelPlane(img *image.RGBA, channel int) [][]float64 {
	b := img.Bounds()
	plane := make([][]float64, b.Dx())
	for x := range plane {
		plane[x] = make([]float64, b.Dy())
		for y := range plane[x] {
			plane[x][y] = float64(img.Pix[img.PixOffset(x, y)+channel])
		}
	}
	return plane
}

// channelHash sets one bit per low-frequency DCT coefficient above the median.
// The DC term is skipped, so 63 coefficients are used and the last bit stays 0.
func channelHash(plane [][]float64) uint64 {
	dct := computeDCT(plane)

	coeffs := make([]float64, 0, lowFreqN*lowFreqN-1)
	for u := range lowFreqN {
		for v := range lowFreqN {
			if u == 0 && v == 0 {
				continue
			}
			coeffs = append(coeffs, dct[u][v])
		}
	}

	median := computeMedian(coeffs)
	var hash uint64
	for i, c := range coeffs {
		if c > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// computeDCT computes the 2-D DCT-II of a square grid, only for the
// low-frequency block the hash reads.
func computeDCT(grid [][]float64) [][]float64 {
	size := len(grid)

	cosTable := make([][]float64, lowFreqN)
	for u := range cosTable {
		cosTable[u] = make([]float64, size)
		for x := range size {
			cosTable[u][x] = math.Cos(math.Pi * float64(u) * (2*float64(x) + 1) / (2 * float64(size)))
		}
	}

	dct := make([][]float64, lowFreqN)
	for u := range dct {
		dct[u] = make([]float64, lowFreqN)
		for v := range lowFreqN {
			var sum float64
			for x := range size {
				for y := range size {
					sum += grid[x][y] * cosTable[u][x] * cosTable[v][y]
				}
			}
			dct[u][v] = sum
		}
	}
	return dct
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
