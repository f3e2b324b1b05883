package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/config"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, splitCSV(c.in)); diff != "" {
			t.Fatalf("%q mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inferd.yaml")
	body := "addr: \":9000\"\nlog_level: debug\nmodels:\n  - name: m\n    base_path: /models/m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadConfig(serveOptions{configPath: path, addr: ":7000", corsOrigins: "http://a, http://b"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.AllowedOrigins) != 2 || len(cfg.CORS.AllowedMethods) == 0 {
		t.Fatalf("expected CORS enabled from flag: %+v", cfg.CORS)
	}

	cfg, err = loadConfig(serveOptions{})
	if err != nil || cfg.Addr != defaultAddr {
		t.Fatalf("expected default addr, got %q (%v)", cfg.Addr, err)
	}
	if _, err := loadConfig(serveOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestModelTemplates_FromModelsDir(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"b/1", "a/2", "empty"} {
		if err := os.MkdirAll(filepath.Join(dir, p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	templates, err := modelTemplates(configWithDir(dir))
	if err != nil {
		t.Fatalf("modelTemplates: %v", err)
	}
	var names []string
	for _, tmpl := range templates {
		names = append(names, tmpl.Name)
		if tmpl.TargetDevice != "CPU" {
			t.Fatalf("expected default device, got %q", tmpl.TargetDevice)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if _, err := modelTemplates(configWithDir("")); err == nil {
		t.Fatalf("expected error without models")
	}
}

func TestResolveSettings(t *testing.T) {
	cfg := configWithDir("")
	st, err := resolveSettings(cfg)
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if st.cleaner != 5*time.Minute || st.maxWait != 0 {
		t.Fatalf("unexpected defaults: %+v", st)
	}
	cfg.SequenceCleanerInterval = "0"
	cfg.InferTimeout = "2s"
	st, err = resolveSettings(cfg)
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if st.cleaner >= 0 || st.infer != 2*time.Second {
		t.Fatalf("expected disabled cleaner and 2s timeout: %+v", st)
	}
	cfg.MaxWait = "soon"
	if _, err := resolveSettings(cfg); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := newLogger("")
	if err != nil || l.GetLevel().String() != "info" {
		t.Fatalf("expected info default, got %v (%v)", l.GetLevel(), err)
	}
}

func configWithDir(dir string) config.Config { return config.Config{ModelsDir: dir} }
