package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildObjectKey_NamespacedWithExtension(t *testing.T) {
	svc := NewStorageService(newTestConfig(t))

	key := svc.BuildObjectKey("images", "My Photo.JPG")
	if !strings.HasPrefix(key, "images/") {
		t.Fatalf("key %q not namespaced", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("key %q should keep a lowercased extension", key)
	}
	if key == svc.BuildObjectKey("images", "My Photo.JPG") {
		t.Fatal("keys must be unique per call")
	}
}

func TestSaveStream_WritesFileAndChecksum(t *testing.T) {
	svc := NewStorageService(newTestConfig(t))
	content := []byte("not really an image, but bytes all the same")

	key := svc.BuildObjectKey("images", "a.gif")
	absPath, n, checksum, err := svc.SaveStream(context.Background(), key, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("size = %d, want %d", n, len(content))
	}

	sum := sha256.Sum256(content)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum = %q", checksum)
	}

	got, err := os.ReadFile(absPath)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("stored bytes differ from input")
	}

	// no temp file left behind
	if _, err := os.Stat(absPath + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temp file still present: %v", err)
	}
}

func TestSaveStream_NoPartialFileOnReaderError(t *testing.T) {
	svc := NewStorageService(newTestConfig(t))
	key := svc.BuildObjectKey("images", "a.gif")

	_, _, _, err := svc.SaveStream(context.Background(), key, failingReader{})
	if err == nil {
		t.Fatal("expected error from failing reader")
	}
	if _, statErr := os.Stat(svc.AbsPath(key)); !os.IsNotExist(statErr) {
		t.Fatalf("final key must not exist after failed write: %v", statErr)
	}
	if _, statErr := os.Stat(svc.AbsPath(key) + ".part"); !os.IsNotExist(statErr) {
		t.Fatalf("temp file must be cleaned up: %v", statErr)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	svc := NewStorageService(newTestConfig(t))

	key := svc.BuildObjectKey("images", "a.gif")
	if _, _, _, err := svc.SaveStream(context.Background(), key, bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}

	if err := svc.Remove(key); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := svc.Remove(key); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

func TestAbsPath_StaysUnderUploadRoot(t *testing.T) {
	cfg := newTestConfig(t)
	svc := NewStorageService(cfg)

	got := svc.AbsPath("images/abc.gif")
	want := filepath.Join(cfg.UploadPath, "images", "abc.gif")
	if got != want {
		t.Fatalf("AbsPath = %q, want %q", got, want)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, os.ErrClosed
}
