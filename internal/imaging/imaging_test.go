package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
)

// 1x1 lossless WebP with alpha.
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"image/jpeg", true},
		{"image/jpg", true},
		{"image/png", true},
		{"image/webp", true},
		{"IMAGE/PNG", true},
		{"image/jpeg; charset=binary", true},
		{"image/gif", false},
		{"text/plain", false},
		{"application/octet-stream", false},
		{"", false},
	}

	for _, test := range tests {
		t.Run(test.contentType, func(t *testing.T) {
			err := ValidateContentType(test.contentType)
			if test.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errs.KindUnsupportedMediaType, errs.KindOf(err))
		})
	}
}

func TestValidateContentType_CitesType(t *testing.T) {
	err := ValidateContentType("image/gif")
	assert.Contains(t, errs.ReasonOf(err), "image/gif")
}

func TestValidateSize(t *testing.T) {
	assert.Equal(t, errs.KindEmptyInput, errs.KindOf(ValidateSize(0)))
	assert.NoError(t, ValidateSize(1))
	assert.NoError(t, ValidateSize(MaxUploadBytes))
	assert.Equal(t, errs.KindPayloadTooLarge, errs.KindOf(ValidateSize(MaxUploadBytes+1)))
	assert.Contains(t, errs.ReasonOf(ValidateSize(MaxUploadBytes+1)), "10MB")
}

func TestDecode_Order(t *testing.T) {
	// an unsupported type wins over an empty payload
	_, _, err := Decode(nil, "text/plain")
	assert.Equal(t, errs.KindUnsupportedMediaType, errs.KindOf(err))

	_, _, err = Decode(nil, "image/jpeg")
	assert.Equal(t, errs.KindEmptyInput, errs.KindOf(err))
	assert.Contains(t, errs.ReasonOf(err), "Empty file")

	_, _, err = Decode(make([]byte, MaxUploadBytes+1), "image/jpeg")
	assert.Equal(t, errs.KindPayloadTooLarge, errs.KindOf(err))

	// exactly the limit is allowed through to decoding
	_, _, err = Decode(make([]byte, MaxUploadBytes), "image/jpeg")
	assert.Equal(t, errs.KindInvalidImage, errs.KindOf(err))
}

func TestDecode_Corrupt(t *testing.T) {
	data := encodeJPEG(t, gradient(64, 48))
	truncated := data[:len(data)/3]

	_, _, err := Decode(truncated, "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidImage, errs.KindOf(err))
	assert.True(t, errs.IsClient(err))

	_, _, err = Decode([]byte("definitely not an image"), "image/png")
	assert.Equal(t, errs.KindInvalidImage, errs.KindOf(err))
}

func TestDecode_PNGAlphaDropped(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0})
	src.Set(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 128})

	img, format, err := Decode(encodePNG(t, src), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.RGBAAt(1, 0))
	assert.Equal(t, uint8(255), img.RGBAAt(0, 0).A)
}

func TestDecode_GrayscaleToRGB(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 3))
	src.SetGray(1, 1, color.Gray{Y: 77})

	img, _, err := Decode(encodePNG(t, src), "image/png")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 77, G: 77, B: 77, A: 255}, img.RGBAAt(1, 1))
}

func TestDecode_JPEG(t *testing.T) {
	img, format, err := Decode(encodeJPEG(t, gradient(400, 300)), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())
}

func TestDecode_WebP(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(tinyWebP)
	require.NoError(t, err)

	img, format, err := Decode(data, "image/webp")
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestDecode_Deterministic(t *testing.T) {
	data := encodePNG(t, gradient(37, 91))

	a, _, err := Decode(data, "image/png")
	require.NoError(t, err)
	b, _, err := Decode(data, "image/png")
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}

// pngHeader returns a PNG signature and IHDR chunk for an 8-bit grayscale
// image of the given size, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_PixelLimit(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"square", 12000, 12000},
		{"long strip", 1, MaxPixels + 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Decode(pngHeader(test.w, test.h), "image/png")
			require.Error(t, err)
			assert.Equal(t, errs.KindInvalidImage, errs.KindOf(err))
			assert.Contains(t, errs.ReasonOf(err), "pixel limit")
		})
	}
}

func TestToRGB_NonZeroOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 7))
	src.Set(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	out := ToRGB(src)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, out.RGBAAt(0, 0))
}

func clipTransform() Transform {
	return Transform{Size: 224, Mean: ClipMean, Std: ClipStd}
}

func TestTransform_Shape(t *testing.T) {
	tr := clipTransform()
	assert.Equal(t, []int64{1, 3, 224, 224}, tr.Shape())
	assert.Equal(t, 3*224*224, tr.Len())
}

func TestTransform_ApplyDimensions(t *testing.T) {
	tr := clipTransform()
	sizes := [][2]int{{400, 300}, {300, 400}, {224, 224}, {1, 1}, {1000, 50}, {17, 1200}}

	for _, s := range sizes {
		out := tr.Apply(ToRGB(gradient(s[0], s[1])))
		require.Len(t, out, tr.Len())
		for _, v := range out {
			require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
		}
	}
}

func TestTransform_Normalisation(t *testing.T) {
	tr := Transform{Size: 4, Mean: ClipMean, Std: ClipStd}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 255, 255
	}

	out := tr.Apply(img)
	plane := 16

	assert.InDelta(t, (1-ClipMean[0])/ClipStd[0], out[0], 1e-5)
	assert.InDelta(t, (0-ClipMean[1])/ClipStd[1], out[plane], 1e-5)
	assert.InDelta(t, (1-ClipMean[2])/ClipStd[2], out[2*plane+15], 1e-5)
}

func TestTransform_CenterCrop(t *testing.T) {
	// left third red, middle third green, right third blue; the crop of a
	// 3:1 image must land entirely in the green band
	img := image.NewRGBA(image.Rect(0, 0, 12, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 12; x++ {
			c := color.RGBA{A: 255}
			switch {
			case x < 4:
				c.R = 255
			case x < 8:
				c.G = 255
			default:
				c.B = 255
			}
			img.SetRGBA(x, y, c)
		}
	}

	tr := Transform{Size: 4, Mean: [3]float32{}, Std: [3]float32{1, 1, 1}}
	out := tr.Apply(img)
	plane := 16

	// pixel (1,1) sits well inside the green band after cropping
	p := 1*4 + 1
	assert.InDelta(t, 0.0, out[p], 0.05)
	assert.InDelta(t, 1.0, out[plane+p], 0.05)
	assert.InDelta(t, 0.0, out[2*plane+p], 0.05)
}

func TestCropWindow(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		size int
		want image.Rectangle
	}{
		{"square", 300, 300, 224, image.Rect(0, 0, 300, 300)},
		{"landscape", 300, 200, 224, image.Rect(50, 0, 250, 200)},
		{"portrait", 200, 300, 224, image.Rect(0, 50, 200, 250)},
		{"margin of one rounds down", 225, 224, 224, image.Rect(0, 0, 224, 224)},
		{"margin of three rounds up", 227, 224, 224, image.Rect(2, 0, 226, 224)},
		{"thin strip", 1, 4000, 224, image.Rect(0, 2000, 1, 2001)},
		{"wide strip", 4000, 1, 224, image.Rect(2000, 0, 2001, 1)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, CropWindow(test.w, test.h, test.size))
		})
	}
}

func TestTransform_ExtremeAspectRatio(t *testing.T) {
	tr := clipTransform()

	for _, img := range []*image.RGBA{
		image.NewRGBA(image.Rect(0, 0, 1, 400000)),
		image.NewRGBA(image.Rect(0, 0, 400000, 1)),
	} {
		out := tr.Apply(img)
		require.Len(t, out, tr.Len())
		// a black source stays uniformly black
		assert.InDelta(t, (0-ClipMean[0])/ClipStd[0], out[0], 1e-5)
		assert.InDelta(t, (0-ClipMean[2])/ClipStd[2], out[len(out)-1], 1e-5)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	tr := clipTransform()
	img := ToRGB(gradient(640, 480))

	assert.Equal(t, tr.Apply(img), tr.Apply(img))
}
