package capture

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Downsize scales src so that its long edge is at most maxEdge pixels,
// preserving aspect ratio. Images already within bounds are returned as-is.
func Downsize(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	long := max(w, h)
	if maxEdge <= 0 || long <= maxEdge {
		return src
	}
	scale := float64(maxEdge) / float64(long)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
