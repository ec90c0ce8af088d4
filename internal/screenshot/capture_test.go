// internal/screenshot/capture_test.go
package screenshot

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindProjectDir_WorkDirItself(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindProjectDir(dir); got != dir {
		t.Errorf("expected %s, got %q", dir, got)
	}
}

func TestFindProjectDir_Subdirectory(t *testing.T) {
	dir := t.TempDir()
	// Hidden directories are skipped even when they hold an index.html.
	hidden := filepath.Join(dir, ".cache")
	if err := os.MkdirAll(hidden, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hidden, "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	site := filepath.Join(dir, "site")
	if err := os.MkdirAll(site, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(site, "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := FindProjectDir(dir); got != site {
		t.Errorf("expected %s, got %q", site, got)
	}
}

func TestFindProjectDir_NothingToPreview(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindProjectDir(dir); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestWaitForPort_Listening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if err := WaitForPort(context.Background(), ln.Addr().String(), 2*time.Second); err != nil {
		t.Errorf("expected listening port to be detected: %v", err)
	}
}

func TestWaitForPort_Timeout(t *testing.T) {
	// Reserve a port, then close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	if err := WaitForPort(context.Background(), addr, 100*time.Millisecond); err == nil {
		t.Fatal("expected timeout error for a closed port")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout took far longer than requested")
	}
}

func TestWaitForPort_ContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := WaitForPort(ctx, addr, time.Minute); err == nil {
		t.Fatal("expected cancellation to abort the wait")
	}
}
