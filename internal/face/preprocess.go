package face

import (
	"image"

	"golang.org/x/image/draw"
)

// downscale shrinks frame so that its longer side equals maxSide, keeping the
// aspect ratio. ok is false when the frame already fits.
func downscale(frame *image.RGBA, maxSide int) (*image.RGBA, bool) {
	bounds := frame.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return frame, false
	}

	var newWidth, newHeight int
	if width >= height {
		newWidth = maxSide
		newHeight = max(1, int(float64(height)*float64(maxSide)/float64(width)))
	} else {
		newHeight = maxSide
		newWidth = max(1, int(float64(width)*float64(maxSide)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), frame, bounds, draw.Src, nil)
	return resized, true
}

// grayscale returns a copy of frame with every pixel replaced by its ITU-R
// BT.601 luma in all three color channels.
func grayscale(frame *image.RGBA) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := frame.PixOffset(x, y)
			r := float64(frame.Pix[i])
			g := float64(frame.Pix[i+1])
			b := float64(frame.Pix[i+2])
			luma := uint8(0.299*r + 0.587*g + 0.114*b + 0.5)
			out.Pix[i] = luma
			out.Pix[i+1] = luma
			out.Pix[i+2] = luma
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// longerSide returns the larger of the frame's width and height.
func longerSide(frame *image.RGBA) int {
	b := frame.Bounds()
	return max(b.Dx(), b.Dy())
}
