package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/errdefs"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
	}
}

func TestVersions(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, filepath.Join(base, "10"), filepath.Join(base, "2"), filepath.Join(base, "0"), filepath.Join(base, "latest"))
	if err := os.WriteFile(filepath.Join(base, "3"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Versions(base)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if diff := cmp.Diff([]int64{2, 10}, got); diff != "" {
		t.Fatalf("versions (-want +got):\n%s", diff)
	}
	if _, err := Versions(filepath.Join(base, "missing")); !errors.Is(err, errdefs.ErrPathInvalid) {
		t.Fatalf("expected path invalid, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, filepath.Join(root, "resnet", "1"), filepath.Join(root, "rnn", "4"), filepath.Join(root, "empty"))
	got, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	want := []Entry{
		{Name: "resnet", BasePath: filepath.Join(root, "resnet"), Versions: []int64{1}},
		{Name: "rnn", BasePath: filepath.Join(root, "rnn"), Versions: []int64{4}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}

func TestLocalSource(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, filepath.Join(dir, "sub"))
	if err := os.WriteFile(filepath.Join(dir, "model.yaml"), []byte("inputs: []"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, err := LocalSource{}.ReadModelFiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("ReadModelFiles: %v", err)
	}
	if diff := cmp.Diff(map[string][]byte{"model.yaml": []byte("inputs: []")}, files); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}

	if _, err := (LocalSource{MaxFileBytes: 4}).ReadModelFiles(context.Background(), dir); !errors.Is(err, errdefs.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if _, err := (LocalSource{}).ReadModelFiles(context.Background(), filepath.Join(dir, "nope")); !errors.Is(err, errdefs.ErrPathInvalid) {
		t.Fatalf("expected path invalid, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (LocalSource{}).ReadModelFiles(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
