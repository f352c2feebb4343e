package imaging

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// CLIP normalisation statistics.
var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Transform is the preprocessing paired with a loaded encoder. It is built
// from the model's metadata and has no configuration of its own.
type Transform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// Shape returns the NCHW input shape for a single image.
func (t Transform) Shape() []int64 {
	return []int64{1, 3, int64(t.Size), int64(t.Size)}
}

// Len is the number of float32 values Apply produces.
func (t Transform) Len() int {
	return 3 * t.Size * t.Size
}

// Apply resizes the shorter side to Size, center-crops to Size×Size and
// returns the mean/std-normalised pixels in CHW order.
func (t Transform) Apply(img *image.RGBA) []float32 {
	cropped := t.resizeAndCrop(img)

	size := t.Size
	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := cropped.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(cropped.Pix[i+c]) / 255.0
				out[c*plane+p] = (v - t.Mean[c]) / t.Std[c]
			}
		}
	}
	return out
}

// resizeAndCrop crops the part of img that survives the center crop and
// scales only that region, so the cost is bounded by the shorter side
// whatever the aspect ratio.
func (t Transform) resizeAndCrop(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == t.Size && b.Dy() == t.Size {
		return img
	}

	window := CropWindow(b.Dx(), b.Dy(), t.Size).Add(b.Min)
	resized := resize.Resize(uint(t.Size), uint(t.Size), img.SubImage(window), resize.Bicubic)

	rb := resized.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, t.Size, t.Size))
	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			i := out.PixOffset(x, y)
			out.Pix[i+0] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// CropWindow returns the square region of a w×h image that ends up in the
// size×size center crop once the shorter side has been scaled to size. The
// longer side scales to floor(long*size/short) and the crop offset rounds
// half to even, as torchvision's Resize and CenterCrop do.
func CropWindow(w, h, size int) image.Rectangle {
	short, long := w, h
	if w > h {
		short, long = h, w
	}

	scaled := long * size / short
	offset := math.RoundToEven(float64(scaled-size) / 2)
	start := int(math.Round(offset * float64(short) / float64(size)))
	if start+short > long {
		start = long - short
	}

	if w > h {
		return image.Rect(start, 0, start+short, short)
	}
	return image.Rect(0, start, short, start+short)
}
