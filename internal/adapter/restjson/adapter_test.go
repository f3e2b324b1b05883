package restjson

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/errdefs"
	"inferd/internal/executor"
	"inferd/internal/processor"
	"inferd/internal/tensor"
	"inferd/pkg/types"
)

func decode(t *testing.T, body string) *Request {
	t.Helper()
	var req types.InferRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &Request{Body: &req, Model: "m", Version: 2}
}

func TestExtractInput_Numbers(t *testing.T) {
	r := decode(t, `{"inputs":{"b":{"datatype":"I32","shape":[2],"data":[-1,7]},"a":{"data":[1.5,2]}}}`)
	r.Declared = map[string]tensor.Info{"a": {Name: "a", Precision: tensor.FP16}}
	a := Adapter{}
	if diff := cmp.Diff([]string{"a", "b"}, a.InputNames(r)); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	in, err := a.ExtractInput(r, "a")
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	if in.Tensor.Precision != tensor.FP16 || len(in.Tensor.Data) != 4 {
		t.Fatalf("a: %+v", in.Tensor)
	}
	if diff := cmp.Diff([]int64{2}, in.Tensor.Shape); diff != "" {
		t.Fatalf("default shape (-want +got):\n%s", diff)
	}
	in, err = a.ExtractInput(r, "b")
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	vals, _ := tensor.DecodeNumbers(tensor.I32, in.Tensor.Data)
	if diff := cmp.Diff([]string{"-1", "7"}, vals); diff != "" {
		t.Fatalf("b values (-want +got):\n%s", diff)
	}
}

func TestExtractInput_Errors(t *testing.T) {
	r := decode(t, `{"inputs":{"x":{"datatype":"complex","data":[1]},"y":{"datatype":"U8","data":[300]},"z":{"b64":["***"]}}}`)
	cases := map[string]error{
		"x": errdefs.ErrInvalidPrecision,
		"y": errdefs.ErrInvalidPrecision,
		"z": errdefs.ErrInvalidContentSize,
		"w": errdefs.ErrMissingInput,
	}
	for name, want := range cases {
		if _, err := (Adapter{}).ExtractInput(r, name); !errors.Is(err, want) {
			t.Fatalf("%s: got %v want %v", name, err, want)
		}
	}
}

func TestExtractInput_TextAndBinary(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	r := decode(t, `{"inputs":{"s":{"strings":["hi"]},"img":{"b64":["`+blob+`"]}}}`)
	in, err := Adapter{}.ExtractInput(r, "s")
	if err != nil || !in.IsText() {
		t.Fatalf("strings: %+v %v", in, err)
	}
	in, err = Adapter{}.ExtractInput(r, "img")
	if err != nil {
		t.Fatalf("b64: %v", err)
	}
	if diff := cmp.Diff([][]byte{{0x89, 'P', 'N', 'G'}}, in.Binary); diff != "" {
		t.Fatalf("binary (-want +got):\n%s", diff)
	}
}

func TestSequenceParams(t *testing.T) {
	r := decode(t, `{"inputs":{},"sequence_id":9,"sequence_control_input":2}`)
	p, err := Adapter{}.SequenceParams(r)
	if err != nil {
		t.Fatalf("SequenceParams: %v", err)
	}
	want := processor.Params{SequenceID: 9, HasSequenceID: true, Control: 2, HasControl: true}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("params (-want +got):\n%s", diff)
	}
}

func TestWriteOutput(t *testing.T) {
	a := Adapter{}
	resp := a.NewResponse(&Request{Model: "m", Version: 2})
	f32 := tensor.Tensor{Precision: tensor.FP32, Shape: []int64{2}, Data: tensor.EncodeFloat32([]float32{0.5, 3})}
	flags := tensor.Tensor{Precision: tensor.Bool, Shape: []int64{2}, Data: []byte{1, 0}}
	for name, tt := range map[string]tensor.Tensor{"y": f32, "ok": flags, processor.SequenceIDKey: processor.SequenceIDTensor(12)} {
		if err := a.WriteOutput(resp, name, tt); err != nil {
			t.Fatalf("WriteOutput %s: %v", name, err)
		}
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"model_name":"m","model_version":2,"outputs":{"ok":{"datatype":"BOOL","shape":[2],"data":[1,0]},"y":{"datatype":"FP32","shape":[2],"data":[0.5,3]}},"sequence_id":12}`
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}
}

func TestCallback(t *testing.T) {
	if (Adapter{}).Callback(&Request{}) != nil {
		t.Fatalf("expected no callback")
	}
	var cb executor.Callback[*types.InferResponse] = func(*types.InferResponse, error) {}
	if (Adapter{}).Callback(&Request{Done: cb}) == nil {
		t.Fatalf("callback lost")
	}
}
