package tensor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Conversion names the path used to turn request content into a tensor.
type Conversion int

const (
	ConvertRaw Conversion = iota
	ConvertNativeString
	ConvertString2D
	ConvertImage
)

func (c Conversion) String() string {
	switch c {
	case ConvertNativeString:
		return "native_string"
	case ConvertString2D:
		return "string_2d"
	case ConvertImage:
		return "image"
	default:
		return "raw"
	}
}

// SelectConversion picks how string or binary request content is mapped
// onto a declared input. Numeric content always takes the raw path.
func SelectConversion(info Info, hasStrings bool) Conversion {
	if !hasStrings {
		return ConvertRaw
	}
	switch {
	case info.Precision == String:
		return ConvertNativeString
	case info.Precision == U8 && len(info.Shape) == 2:
		return ConvertString2D
	case len(info.Shape) == 4:
		return ConvertImage
	}
	return ConvertNativeString
}

// PackString2D lays strings out as a [N, maxLen+1] U8 matrix, each row
// zero-padded and null-terminated.
func PackString2D(strs []string) Tensor {
	width := 0
	for _, s := range strs {
		if len(s) > width {
			width = len(s)
		}
	}
	width++
	data := make([]byte, len(strs)*width)
	for i, s := range strs {
		copy(data[i*width:], s)
	}
	return Tensor{Precision: U8, Shape: []int64{int64(len(strs)), int64(width)}, Data: data}
}

// ImageSize reads the width and height from an encoded image header
// without decoding its pixels.
func ImageSize(raw []byte) (w, h int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// DecodeImages decodes encoded images into an NHWC U8 tensor. Every image
// must decode to the same size. channels is 1 or 3.
func DecodeImages(encoded [][]byte, channels int) (Tensor, error) {
	if len(encoded) == 0 {
		return Tensor{}, fmt.Errorf("no images")
	}
	if channels != 1 && channels != 3 {
		return Tensor{}, fmt.Errorf("unsupported channel count %d", channels)
	}
	var h, w int
	var data []byte
	for n, raw := range encoded {
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return Tensor{}, fmt.Errorf("image %d: %w", n, err)
		}
		b := img.Bounds()
		if n == 0 {
			h, w = b.Dy(), b.Dx()
			data = make([]byte, 0, len(encoded)*h*w*channels)
		} else if b.Dy() != h || b.Dx() != w {
			return Tensor{}, fmt.Errorf("image %d: size %dx%d differs from %dx%d", n, b.Dx(), b.Dy(), w, h)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				if channels == 1 {
					lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 24
					data = append(data, byte(lum))
					continue
				}
				data = append(data, byte(r>>8), byte(g>>8), byte(bl>>8))
			}
		}
	}
	return Tensor{
		Precision: U8,
		Shape:     []int64{int64(len(encoded)), int64(h), int64(w), int64(channels)},
		Data:      data,
	}, nil
}
