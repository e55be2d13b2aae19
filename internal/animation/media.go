package animation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var videoContentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

func ContentType(name string) string {
	if ct, ok := videoContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// safeName rejects names that could address anything but a plain file.
func safeName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid file name %q", ErrAccessDenied, name)
	}
	return nil
}

// FindVideo walks root for a file whose base name equals name, ignoring case.
// Symlinks are reported as found; callers must run resolveInside on the result.
func FindVideo(root, name string) (string, error) {
	if err := safeName(name); err != nil {
		return "", err
	}
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(d.Name(), name) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("search media root: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrVideoNotFound, name)
	}
	return found, nil
}

// resolveInside returns the fully resolved path, which must sit strictly inside root.
func resolveInside(root, path string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}
	realRoot, err = filepath.Abs(realRoot)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrVideoNotFound, filepath.Base(path))
		}
		return "", err
	}
	real, err = filepath.Abs(real)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, real)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is outside the media root", ErrAccessDenied, filepath.Base(path))
	}
	return real, nil
}

// VideoFile is a located, servable video.
type VideoFile struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// LocateVideo finds name under root and checks it does not escape root.
func LocateVideo(root, name string) (*VideoFile, error) {
	path, err := FindVideo(root, name)
	if err != nil {
		return nil, err
	}
	real, err := resolveInside(root, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(real)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, name)
	}
	return &VideoFile{
		Path:        real,
		Name:        filepath.Base(path),
		ContentType: ContentType(path),
		Size:        fi.Size(),
	}, nil
}

type VideoInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ListVideos enumerates video files under root, sorted by relative path.
func ListVideos(root string) ([]VideoInfo, error) {
	var out []VideoInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := videoContentTypes[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		out = append(out, VideoInfo{
			Name:     d.Name(),
			Path:     filepath.ToSlash(rel),
			Size:     fi.Size(),
			Modified: fi.ModTime().UTC(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []VideoInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
