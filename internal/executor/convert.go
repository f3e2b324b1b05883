package executor

import (
	"fmt"
	"sort"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

// deserialize converts every request input and binds it to ec.
func deserialize(declared map[string]tensor.Info, inputs []Input, ec engine.ExecutionContext) error {
	for _, in := range inputs {
		info, ok := declared[in.Name]
		if !ok {
			return fmt.Errorf("%w: %q", errdefs.ErrUnexpectedInput, in.Name)
		}
		t, err := convertInput(info, in)
		if err != nil {
			return err
		}
		if err := ec.SetInput(in.Name, t); err != nil {
			return fmt.Errorf("%w: bind input %q: %v", errdefs.ErrInternal, in.Name, err)
		}
	}
	return nil
}

func convertInput(info tensor.Info, in Input) (tensor.Tensor, error) {
	conv := tensor.SelectConversion(info, in.IsText())
	switch conv {
	case tensor.ConvertRaw:
		if err := in.Tensor.CheckContent(); err != nil {
			return tensor.Tensor{}, fmt.Errorf("%w: input %q: %v", errdefs.ErrInvalidContentSize, in.Name, err)
		}
		return in.Tensor, nil
	case tensor.ConvertNativeString:
		if info.Precision != tensor.String {
			return tensor.Tensor{}, fmt.Errorf("%w: input %q: string content for %s input", errdefs.ErrInvalidPrecision, in.Name, info.Precision)
		}
		return tensor.Tensor{Precision: tensor.String, Shape: []int64{int64(in.count())}, Strings: in.texts()}, nil
	case tensor.ConvertString2D:
		t := tensor.PackString2D(in.texts())
		if !info.Shape.Match(t.Shape) {
			return tensor.Tensor{}, fmt.Errorf("%w: input %q: strings pack to %s, expected %s", errdefs.ErrInvalidShape, in.Name, tensor.DimsString(t.Shape), info.Shape)
		}
		return t, nil
	default:
		return decodeImages(info, in)
	}
}

func (in Input) texts() []string {
	if in.Strings != nil {
		return in.Strings
	}
	out := make([]string, len(in.Binary))
	for i, b := range in.Binary {
		out[i] = string(b)
	}
	return out
}

func (in Input) blobs() [][]byte {
	if in.Binary != nil {
		return in.Binary
	}
	out := make([][]byte, len(in.Strings))
	for i, s := range in.Strings {
		out[i] = []byte(s)
	}
	return out
}

// decodeImages decodes an NHWC image batch into a U8 or FP32 tensor.
func decodeImages(info tensor.Info, in Input) (tensor.Tensor, error) {
	if info.Precision != tensor.U8 && info.Precision != tensor.FP32 {
		return tensor.Tensor{}, fmt.Errorf("%w: input %q: images need U8 or FP32, model expects %s", errdefs.ErrInvalidPrecision, in.Name, info.Precision)
	}
	channels := 3
	if c := info.Shape[3]; c.IsStatic() {
		channels = int(c.Min)
	}
	blobs := in.blobs()
	if err := checkImageSizes(info, in.Name, blobs); err != nil {
		return tensor.Tensor{}, err
	}
	t, err := tensor.DecodeImages(blobs, channels)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("%w: input %q: %v", errdefs.ErrImageParsing, in.Name, err)
	}
	if !info.Shape.Match(t.Shape) {
		return tensor.Tensor{}, fmt.Errorf("%w: input %q: decoded %s, expected %s", errdefs.ErrInvalidShape, in.Name, tensor.DimsString(t.Shape), info.Shape)
	}
	if info.Precision == tensor.FP32 {
		vals := make([]float32, len(t.Data))
		for i, b := range t.Data {
			vals[i] = float32(b)
		}
		t = tensor.Tensor{Precision: tensor.FP32, Shape: t.Shape, Data: tensor.EncodeFloat32(vals)}
	}
	return t, nil
}

// MaxImagePixels bounds width*height of an image fed to an input whose
// height and width are not static.
const MaxImagePixels = 1 << 24

// checkImageSizes reads each image header and rejects sizes the declared
// shape cannot take, before any pixel data is decoded.
func checkImageSizes(info tensor.Info, name string, blobs [][]byte) error {
	hDim, wDim := info.Shape[1], info.Shape[2]
	for n, raw := range blobs {
		w, h, err := tensor.ImageSize(raw)
		if err != nil {
			return fmt.Errorf("%w: input %q: image %d: %v", errdefs.ErrImageParsing, name, n, err)
		}
		if !hDim.Match(int64(h)) || !wDim.Match(int64(w)) {
			return fmt.Errorf("%w: input %q: image %d is %dx%d, expected %s", errdefs.ErrInvalidShape, name, n, w, h, info.Shape)
		}
		if int64(w)*int64(h) > MaxImagePixels {
			return fmt.Errorf("%w: input %q: image %d is %dx%d, limit is %d pixels", errdefs.ErrInvalidShape, name, n, w, h, MaxImagePixels)
		}
	}
	return nil
}

// serialize reads every declared output from ec and hands it to write. An
// output that does not match its declared precision or shape is an engine
// contract violation.
func serialize(declared map[string]tensor.Info, ec engine.ExecutionContext, write func(string, tensor.Tensor) error) error {
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := declared[name]
		t, err := ec.Output(name)
		if err != nil {
			return fmt.Errorf("%w: output %q: %v", errdefs.ErrInternal, name, err)
		}
		if t.Precision != info.Precision {
			return fmt.Errorf("%w: output %q: precision %s, declared %s", errdefs.ErrInternal, name, t.Precision, info.Precision)
		}
		if !info.Shape.Match(t.Shape) {
			return fmt.Errorf("%w: output %q: shape %s, declared %s", errdefs.ErrInternal, name, tensor.DimsString(t.Shape), info.Shape)
		}
		if err := write(name, t); err != nil {
			return err
		}
	}
	return nil
}
