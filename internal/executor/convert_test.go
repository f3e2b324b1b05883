package executor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

func mustShape(t *testing.T, s string) tensor.Shape {
	t.Helper()
	sh, err := tensor.ParseShape(s)
	if err != nil {
		t.Fatalf("ParseShape(%q): %v", s, err)
	}
	return sh
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func TestConvertInput_Strings(t *testing.T) {
	native := tensor.Info{Name: "s", Precision: tensor.String, Shape: mustShape(t, "(-1)"), BatchIndex: 0}
	got, err := convertInput(native, Input{Name: "s", Strings: []string{"a", "bc"}})
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	want := tensor.Tensor{Precision: tensor.String, Shape: []int64{2}, Strings: []string{"a", "bc"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("native (-want +got):\n%s", diff)
	}

	packed := tensor.Info{Name: "s", Precision: tensor.U8, Shape: mustShape(t, "(-1,-1)"), BatchIndex: 0}
	got, err = convertInput(packed, Input{Name: "s", Strings: []string{"ab", "c"}})
	if err != nil {
		t.Fatalf("2d: %v", err)
	}
	if diff := cmp.Diff(tensor.PackString2D([]string{"ab", "c"}), got); diff != "" {
		t.Fatalf("2d (-want +got):\n%s", diff)
	}

	narrow := tensor.Info{Name: "s", Precision: tensor.U8, Shape: mustShape(t, "(-1,2)"), BatchIndex: 0}
	if _, err := convertInput(narrow, Input{Name: "s", Strings: []string{"long"}}); !errors.Is(err, errdefs.ErrInvalidShape) {
		t.Fatalf("expected invalid shape, got %v", err)
	}

	numeric := tensor.Info{Name: "s", Precision: tensor.FP32, Shape: mustShape(t, "(-1)"), BatchIndex: 0}
	if _, err := convertInput(numeric, Input{Name: "s", Strings: []string{"1"}}); !errors.Is(err, errdefs.ErrInvalidPrecision) {
		t.Fatalf("expected invalid precision, got %v", err)
	}
}

func TestConvertInput_Images(t *testing.T) {
	red := pngBytes(t, 2, 1, color.RGBA{R: 255, A: 255})
	info := tensor.Info{Name: "img", Precision: tensor.U8, Shape: mustShape(t, "(-1,1,2,3)"), BatchIndex: 0}
	got, err := convertInput(info, Input{Name: "img", Binary: [][]byte{red}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := tensor.Tensor{Precision: tensor.U8, Shape: []int64{1, 1, 2, 3}, Data: []byte{255, 0, 0, 255, 0, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("image (-want +got):\n%s", diff)
	}

	info.Precision = tensor.FP32
	got, err = convertInput(info, Input{Name: "img", Binary: [][]byte{red}})
	if err != nil {
		t.Fatalf("decode fp32: %v", err)
	}
	if diff := cmp.Diff([]float32{255, 0, 0, 255, 0, 0}, tensor.DecodeFloat32(got.Data)); diff != "" {
		t.Fatalf("fp32 image (-want +got):\n%s", diff)
	}

	if _, err := convertInput(info, Input{Name: "img", Binary: [][]byte{[]byte("not an image")}}); !errors.Is(err, errdefs.ErrImageParsing) {
		t.Fatalf("expected image parsing error, got %v", err)
	}

	info.Shape = mustShape(t, "(-1,4,4,3)")
	if _, err := convertInput(info, Input{Name: "img", Binary: [][]byte{red}}); !errors.Is(err, errdefs.ErrInvalidShape) {
		t.Fatalf("expected invalid shape, got %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk announcing a w x h grey
// canvas with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; color type 0 (grey)
	chunk := append([]byte("IHDR"), ihdr...)
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestConvertInput_LargeCanvasRejectedFromHeader(t *testing.T) {
	huge := pngHeader(8000, 8000)
	if w, h, err := tensor.ImageSize(huge); err != nil || w != 8000 || h != 8000 {
		t.Fatalf("ImageSize: %dx%d %v", w, h, err)
	}

	fixed := tensor.Info{Name: "img", Precision: tensor.U8, Shape: mustShape(t, "(1,2,2,1)"), BatchIndex: 0}
	// A full decode would fail with an image parsing error; the header
	// check must reject the size first.
	if _, err := convertInput(fixed, Input{Name: "img", Binary: [][]byte{huge}}); !errors.Is(err, errdefs.ErrInvalidShape) {
		t.Fatalf("static dims: expected invalid shape, got %v", err)
	}

	dynamic := tensor.Info{Name: "img", Precision: tensor.U8, Shape: mustShape(t, "(-1,-1,-1,1)"), BatchIndex: 0}
	if _, err := convertInput(dynamic, Input{Name: "img", Binary: [][]byte{huge}}); !errors.Is(err, errdefs.ErrInvalidShape) {
		t.Fatalf("dynamic dims: expected pixel limit error, got %v", err)
	}

	grey := pngBytes(t, 2, 2, color.Gray{Y: 7})
	got, err := convertInput(fixed, Input{Name: "img", Binary: [][]byte{grey}})
	if err != nil {
		t.Fatalf("small image: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 2, 1}, got.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
}

// fixedOutputs is an execution context that returns canned outputs.
type fixedOutputs struct {
	engine.ExecutionContext
	out map[string]tensor.Tensor
}

func (f fixedOutputs) Output(name string) (tensor.Tensor, error) {
	t, ok := f.out[name]
	if !ok {
		return tensor.Tensor{}, errors.New("missing")
	}
	return t, nil
}

func TestSerialize_EnforcesDeclaredMetadata(t *testing.T) {
	declared := map[string]tensor.Info{
		"y": {Name: "y", Precision: tensor.FP32, Shape: mustShape(t, "(1,2)"), BatchIndex: 0},
	}
	good := tensor.Zero(tensor.FP32, []int64{1, 2})
	got := map[string]tensor.Tensor{}
	write := func(name string, t tensor.Tensor) error {
		got[name] = t
		return nil
	}
	if err := serialize(declared, fixedOutputs{out: map[string]tensor.Tensor{"y": good}}, write); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if diff := cmp.Diff(map[string]tensor.Tensor{"y": good}, got); diff != "" {
		t.Fatalf("written (-want +got):\n%s", diff)
	}

	bad := []tensor.Tensor{
		tensor.Zero(tensor.FP16, []int64{1, 2}),
		tensor.Zero(tensor.FP32, []int64{2, 2}),
	}
	for _, b := range bad {
		err := serialize(declared, fixedOutputs{out: map[string]tensor.Tensor{"y": b}}, write)
		if !errors.Is(err, errdefs.ErrInternal) {
			t.Fatalf("%s %v: expected internal error, got %v", b.Precision, b.Shape, err)
		}
	}
	if err := serialize(declared, fixedOutputs{}, write); !errors.Is(err, errdefs.ErrInternal) {
		t.Fatalf("missing output: %v", err)
	}
}
