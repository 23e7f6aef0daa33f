package detect

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	normWidth  = 320
	normHeight = 240
	window     = 8
	stride     = 4

	c1 = (0.01 * 255) * (0.01 * 255)
	c2 = (0.03 * 255) * (0.03 * 255)
)

// normalize rescales img onto a fixed-size grayscale raster so that frames
// captured at slightly different resolutions remain comparable.
func normalize(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, normWidth, normHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// SSIM returns the mean structural similarity of a and b in [0,1].
func SSIM(a, b image.Image) float64 {
	return ssimGray(normalize(a), normalize(b))
}

func ssimGray(a, b *image.Gray) float64 {
	var (
		sum   float64
		count int
	)
	n := float64(window * window)
	for y := 0; y+window <= normHeight; y += stride {
		for x := 0; x+window <= normWidth; x += stride {
			var sa, sb, saa, sbb, sab float64
			for dy := 0; dy < window; dy++ {
				ra := a.Pix[(y+dy)*a.Stride+x : (y+dy)*a.Stride+x+window]
				rb := b.Pix[(y+dy)*b.Stride+x : (y+dy)*b.Stride+x+window]
				for i := 0; i < window; i++ {
					va, vb := float64(ra[i]), float64(rb[i])
					sa += va
					sb += vb
					saa += va * va
					sbb += vb * vb
					sab += va * vb
				}
			}
			ma, mb := sa/n, sb/n
			va := saa/n - ma*ma
			vb := sbb/n - mb*mb
			cov := sab/n - ma*mb
			num := (2*ma*mb + c1) * (2*cov + c2)
			den := (ma*ma + mb*mb + c1) * (va + vb + c2)
			sum += num / den
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return clamp01(sum / float64(count))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
