package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine/identity"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/modelinstance"
	"inferd/internal/registry"
)

const echoManifest = `inputs:
  - {name: x, precision: FP32, shape: "(-1,2)"}
outputs:
  - {name: y, from: x}
`

const counterManifest = `inputs:
  - {name: x, precision: FP32, shape: "(1,2)"}
states:
  - {name: h, precision: FP32, shape: "(1,2)", from: x}
outputs:
  - {name: y, from: x}
  - {name: prev, from: "state:h"}
`

// createModelsDir lays out <dir>/<name>/<version>/model.yaml for each entry.
func createModelsDir(t *testing.T, models map[string]string, versions ...int) string {
	t.Helper()
	dir := t.TempDir()
	for name, manifest := range models {
		for _, v := range versions {
			p := filepath.Join(dir, name, strconv.Itoa(v))
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", p, err)
			}
			if err := os.WriteFile(filepath.Join(p, identity.ManifestFile), []byte(manifest), 0o644); err != nil {
				t.Fatalf("write manifest: %v", err)
			}
		}
	}
	return dir
}

// newServerForDir loads every model under dir. mutate adjusts the template
// of each model before loading.
func newServerForDir(t *testing.T, dir string, mutate func(*modelinstance.Config)) (*httptest.Server, *manager.Manager) {
	t.Helper()
	entries, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	var templates []modelinstance.Config
	for _, e := range entries {
		cfg := modelinstance.Config{Name: e.Name, BasePath: e.BasePath, TargetDevice: "CPU", Nireq: 2}
		if mutate != nil {
			mutate(&cfg)
		}
		templates = append(templates, cfg)
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Models:          templates,
		Engine:          identity.New(),
		Source:          registry.LocalSource{},
		Logger:          zerolog.Nop(),
		WaitForLoaded:   time.Second,
		DrainTimeout:    time.Second,
		CleanerInterval: -1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close(context.Background())
	})
	return srv, mgr
}

// postJSON posts body and decodes the response into out when it is non-nil.
func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, b)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}
