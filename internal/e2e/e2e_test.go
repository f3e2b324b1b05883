package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/modelinstance"
	"inferd/pkg/types"
)

func u64(v uint64) *uint64 { return &v }

func xInput(vals ...string) map[string]types.TensorInput {
	data := make([]json.Number, len(vals))
	for i, v := range vals {
		data[i] = json.Number(v)
	}
	return map[string]types.TensorInput{"x": {Datatype: "FP32", Shape: []int64{1, int64(len(vals))}, Data: data}}
}

func TestE2E_Models_Infer_Ready_Status(t *testing.T) {
	dir := createModelsDir(t, map[string]string{"echo": echoManifest}, 1, 2)
	srv, _ := newServerForDir(t, dir, nil)

	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	var models types.ModelsResponse
	if code := getJSON(t, srv.URL+"/models", &models); code != http.StatusOK {
		t.Fatalf("models: %d", code)
	}
	want := []types.Model{{Name: "echo", Versions: []types.ModelVersion{
		{Version: 1, State: "AVAILABLE"},
		{Version: 2, State: "AVAILABLE"},
	}}}
	if diff := cmp.Diff(want, models.Models); diff != "" {
		t.Fatalf("models mismatch (-want +got):\n%s", diff)
	}

	var resp types.InferResponse
	code := postJSON(t, srv.URL+"/v1/models/echo/infer", types.InferRequest{Inputs: xInput("1", "2")}, &resp)
	if code != http.StatusOK {
		t.Fatalf("infer: %d", code)
	}
	if resp.ModelVersion != 2 {
		t.Fatalf("expected newest version, got %d", resp.ModelVersion)
	}
	if diff := cmp.Diff([]json.Number{"1", "2"}, resp.Outputs["y"].Data); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	var st types.StatusResponse
	if code := getJSON(t, srv.URL+"/status", &st); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	if st.State != "ready" || len(st.Models) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestE2E_RequestErrors(t *testing.T) {
	dir := createModelsDir(t, map[string]string{"echo": echoManifest}, 1)
	srv, _ := newServerForDir(t, dir, nil)

	cases := []struct {
		name string
		path string
		req  types.InferRequest
		code int
	}{
		{"unknown model", "/v1/models/nope/infer", types.InferRequest{Inputs: xInput("1", "2")}, http.StatusNotFound},
		{"unknown version", "/v1/models/echo/versions/3/infer", types.InferRequest{Inputs: xInput("1", "2")}, http.StatusNotFound},
		{"wrong shape", "/v1/models/echo/infer", types.InferRequest{Inputs: xInput("1", "2", "3")}, http.StatusBadRequest},
		{"no inputs", "/v1/models/echo/infer", types.InferRequest{}, http.StatusBadRequest},
		{"sequence on stateless", "/v1/models/echo/infer", types.InferRequest{Inputs: xInput("1", "2"), SequenceID: u64(4)}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if code := postJSON(t, srv.URL+tc.path, tc.req, nil); code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, code)
		}
	}
}

func TestE2E_StatefulSession(t *testing.T) {
	dir := createModelsDir(t, map[string]string{"counter": counterManifest}, 1)
	srv, _ := newServerForDir(t, dir, func(c *modelinstance.Config) { c.Stateful = true })
	url := srv.URL + "/v1/models/counter/infer"

	var start types.InferResponse
	if code := postJSON(t, url, types.InferRequest{Inputs: xInput("1", "2"), SequenceControl: u64(1)}, &start); code != http.StatusOK {
		t.Fatalf("start: %d", code)
	}
	if start.SequenceID == nil || *start.SequenceID == 0 {
		t.Fatalf("expected assigned sequence id, got %+v", start.SequenceID)
	}
	id := *start.SequenceID
	if diff := cmp.Diff([]json.Number{"0", "0"}, start.Outputs["prev"].Data); diff != "" {
		t.Fatalf("fresh state mismatch (-want +got):\n%s", diff)
	}

	var next types.InferResponse
	if code := postJSON(t, url, types.InferRequest{Inputs: xInput("3", "4"), SequenceID: &id}, &next); code != http.StatusOK {
		t.Fatalf("continue: %d", code)
	}
	if diff := cmp.Diff([]json.Number{"1", "2"}, next.Outputs["prev"].Data); diff != "" {
		t.Fatalf("carried state mismatch (-want +got):\n%s", diff)
	}

	var end types.InferResponse
	if code := postJSON(t, url, types.InferRequest{Inputs: xInput("5", "6"), SequenceID: &id, SequenceControl: u64(2)}, &end); code != http.StatusOK {
		t.Fatalf("end: %d", code)
	}
	if diff := cmp.Diff([]json.Number{"3", "4"}, end.Outputs["prev"].Data); diff != "" {
		t.Fatalf("final state mismatch (-want +got):\n%s", diff)
	}
	if code := postJSON(t, url, types.InferRequest{Inputs: xInput("7", "8"), SequenceID: &id}, nil); code == http.StatusOK {
		t.Fatalf("ended sequence must not accept requests")
	}
	if code := postJSON(t, url, types.InferRequest{Inputs: xInput("7", "8"), SequenceID: u64(999)}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown sequence: expected 404, got %d", code)
	}
}

func TestE2E_ReloadAndUnload(t *testing.T) {
	dir := createModelsDir(t, map[string]string{"echo": echoManifest}, 1)
	srv, _ := newServerForDir(t, dir, nil)
	base := srv.URL + "/v1/models/echo"

	var st []types.ModelStatus
	if code := postJSON(t, base+"/reload", types.ReloadRequest{BatchSize: "1"}, &st); code != http.StatusOK {
		t.Fatalf("reload: %d", code)
	}
	if len(st) != 1 || st[0].Reloads != 1 || st[0].BatchSize != "1" {
		t.Fatalf("unexpected status after reload: %+v", st)
	}
	if code := postJSON(t, base+"/reload", types.ReloadRequest{BatchSize: "lots"}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad reload: expected 400, got %d", code)
	}

	if code := postJSON(t, base+"/versions/1/unload", nil, &st); code != http.StatusOK {
		t.Fatalf("unload: %d", code)
	}
	if st[0].State != "END" {
		t.Fatalf("expected END after unload, got %+v", st[0])
	}
	if code := postJSON(t, base+"/infer", types.InferRequest{Inputs: xInput("1", "2")}, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("infer after unload: expected 503, got %d", code)
	}
	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after unload: expected 503, got %d", code)
	}
}
