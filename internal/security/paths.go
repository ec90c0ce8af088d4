// internal/security/paths.go
package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// TrustedPathSet is an insertion-only set of absolute, normalized path
// prefixes. A path is trusted when it equals a member or is a descendant of
// one. Additions live for the process lifetime only.
type TrustedPathSet struct {
	mu    sync.RWMutex
	paths []string
}

// NewTrustedPathSet creates a set seeded with the given paths.
func NewTrustedPathSet(seed ...string) *TrustedPathSet {
	s := &TrustedPathSet{}
	for _, p := range seed {
		s.Add(p)
	}
	return s
}

// NormalizePath expands ~, makes the path absolute and cleans it.
func NormalizePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Add inserts the normalized path. Duplicate additions are no-ops.
func (s *TrustedPathSet) Add(path string) {
	normalized := NormalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.paths {
		if existing == normalized {
			return
		}
	}
	s.paths = append(s.paths, normalized)
}

// IsTrusted reports whether path equals, or lives under, a trusted prefix.
// Prefix matching requires a path-separator boundary so /a/b never trusts
// /a/bc.
func (s *TrustedPathSet) IsTrusted(path string) bool {
	normalized := NormalizePath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, trusted := range s.paths {
		if normalized == trusted || strings.HasPrefix(normalized, trusted+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// List returns a copy of the trusted paths.
func (s *TrustedPathSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

var (
	absPathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)`)
	relPathPattern = regexp.MustCompile(`(\.\./[a-zA-Z0-9_\-./]+|\./[a-zA-Z0-9_\-./]+)`)
)

// ExtractPathsFromText pulls absolute and relative path candidates out of
// free-form shell text. This is heuristic defense in depth on top of the
// per-tool file_path/path checks.
func ExtractPathsFromText(text string) []string {
	var paths []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	for _, m := range absPathPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range relPathPattern.FindAllString(text, -1) {
		add(m)
	}
	return paths
}

// PathsForTool extracts the set of filesystem paths a tool invocation would
// touch. Tools with no filesystem surface return nil.
func PathsForTool(tool string, input json.RawMessage) []string {
	switch tool {
	case "Read", "Write", "Edit":
		var in struct {
			FilePath string `json:"file_path"`
		}
		if err := json.Unmarshal(input, &in); err == nil && in.FilePath != "" {
			return []string{in.FilePath}
		}
	case "Bash":
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &in); err == nil && in.Command != "" {
			return ExtractPathsFromText(in.Command)
		}
	case "Glob", "Grep":
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &in); err == nil && in.Path != "" {
			return []string{in.Path}
		}
	}
	return nil
}

// safeCommands are read-only shell commands that bypass the approval flow.
var safeCommands = []string{
	"nvidia-smi", "df", "free", "uptime", "whoami", "hostname",
	"cat /proc/cpuinfo", "cat /proc/meminfo", "ps", "top -bn1",
	"ls", "pwd", "date", "which", "echo",
	"git status", "git log", "git diff",
}

// IsSafeCommand reports whether the trimmed command equals, or begins with,
// a whitelisted read-only command followed by a space.
func IsSafeCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, safe := range safeCommands {
		if trimmed == safe || strings.HasPrefix(trimmed, safe+" ") {
			return true
		}
	}
	return false
}
