// Package registry reads the on-disk model repository. A model lives in a
// base directory with one numeric sub-directory per version:
//
//	models/resnet/1/model.yaml
//	models/resnet/2/model.yaml
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"inferd/internal/common/fsutil"
	"inferd/internal/errdefs"
)

// Entry is one model found in a repository directory.
type Entry struct {
	Name     string
	BasePath string
	Versions []int64
}

// LoadDir scans dir for model base directories. A sub-directory counts as a
// model when it holds at least one version directory.
func LoadDir(dir string) ([]Entry, error) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir: %v", errdefs.ErrPathInvalid, err)
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		base := filepath.Join(abs, d.Name())
		versions, err := Versions(base)
		if err != nil || len(versions) == 0 {
			continue
		}
		out = append(out, Entry{Name: d.Name(), BasePath: base, Versions: versions})
	}
	return out, nil
}

// Versions lists the numeric version directories of basePath in ascending
// order. Non-numeric names and version 0 are ignored.
func Versions(basePath string) ([]int64, error) {
	abs, err := absPath(basePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrPathInvalid, basePath, err)
	}
	var versions []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// LocalSource reads model artifacts from the local filesystem.
type LocalSource struct {
	// MaxFileBytes rejects larger files when positive.
	MaxFileBytes int64
}

// ReadModelFiles returns the regular files directly under path keyed by
// file name.
func (s LocalSource) ReadModelFiles(ctx context.Context, path string) (map[string][]byte, error) {
	abs, err := absPath(path)
	if err != nil {
		return nil, err
	}
	if !fsutil.IsDir(abs) {
		return nil, fmt.Errorf("%w: %s is not a directory", errdefs.ErrPathInvalid, path)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrPathInvalid, err)
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		if s.MaxFileBytes > 0 {
			info, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errdefs.ErrPathInvalid, err)
			}
			if info.Size() > s.MaxFileBytes {
				return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", errdefs.ErrResourceExhausted, e.Name(), info.Size(), s.MaxFileBytes)
			}
		}
		b, err := os.ReadFile(filepath.Join(abs, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrPathInvalid, err)
		}
		files[e.Name()] = b
	}
	return files, nil
}

func absPath(p string) (string, error) {
	base, err := fsutil.ExpandHome(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}
