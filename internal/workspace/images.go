// internal/workspace/images.go
package workspace

import (
	"context"
	"encoding/base64"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/NestozAI/VibeCheck/internal/protocol"
)

// imageExtensions are the file types the observer tracks.
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".webp": {}, ".svg": {}, ".bmp": {},
}

// skipDirs are never descended into when scanning the workspace.
var skipDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, ".venv": {}, "venv": {}, "__pycache__": {},
}

// Snapshot returns image path -> mtime for every image under root. The walk
// stops early when ctx is cancelled.
func Snapshot(ctx context.Context, root string) (map[string]time.Time, error) {
	images := make(map[string]time.Time)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		images[path] = info.ModTime()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// SnapshotWithTimeout snapshots the workspace, substituting an empty map
// when the walk errors or exceeds the timeout.
func SnapshotWithTimeout(root string, timeout time.Duration) map[string]time.Time {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		images map[string]time.Time
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		images, err := Snapshot(ctx, root)
		ch <- outcome{images, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			slog.Warn("workspace snapshot failed", "error", out.err)
			return map[string]time.Time{}
		}
		return out.images
	case <-ctx.Done():
		slog.Warn("workspace snapshot timed out", "root", root)
		return map[string]time.Time{}
	}
}

// FindNewOrModified returns images that appeared, or whose mtime advanced,
// since the before snapshot.
func FindNewOrModified(root string, before map[string]time.Time) []string {
	after, err := Snapshot(context.Background(), root)
	if err != nil {
		return nil
	}
	var changed []string
	for path, mtime := range after {
		prev, existed := before[path]
		if !existed || mtime.After(prev) {
			changed = append(changed, path)
		}
	}
	return changed
}

var absImagePattern = regexp.MustCompile(`(?i)(/[a-zA-Z0-9_\-./]+\.(?:png|jpe?g|gif|webp|svg|bmp))`)
var relImagePattern = regexp.MustCompile(`(?i)(?:^|[\s` + "`" + `'"(])([a-zA-Z0-9_\-./]+\.(?:png|jpe?g|gif|webp|svg|bmp))`)

// ExtractImagePaths finds image file paths mentioned in text: absolute
// paths plus workspace-relative ones. Only paths that exist on disk are
// returned, deduplicated in mention order.
func ExtractImagePaths(text, root string) []string {
	var candidates []string
	for _, m := range absImagePattern.FindAllString(text, -1) {
		candidates = append(candidates, m)
	}
	for _, groups := range relImagePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, groups[1])
	}

	var paths []string
	seen := make(map[string]struct{})
	for _, c := range candidates {
		full := c
		if !strings.HasPrefix(c, "/") {
			full = filepath.Join(root, c)
		}
		full = filepath.Clean(full)
		if _, dup := seen[full]; dup {
			continue
		}
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			continue
		}
		seen[full] = struct{}{}
		paths = append(paths, full)
	}
	return paths
}

// LoadImages reads up to max image files and base64-encodes them for the
// wire. Unreadable files are skipped.
func LoadImages(paths []string, max int) []protocol.ImageData {
	var images []protocol.ImageData
	for _, path := range paths {
		if len(images) >= max {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("failed to read image", "path", path, "error", err)
			continue
		}
		images = append(images, protocol.ImageData{
			Filename: filepath.Base(path),
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}
