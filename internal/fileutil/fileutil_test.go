package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	writeFile(t, src, "verified copy content")

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, dst); got != "verified copy content" {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestCopyFileVerified_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "dst.bin")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestMoveCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a", "rec.ds")
	writeFile(t, filepath.Join(src, "rec.meg4"), "raw")
	dst := filepath.Join(dir, "b", "c", "rec.ds")

	if err := Move(src, dst); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dst, "rec.meg4")); got != "raw" {
		t.Fatalf("moved content = %q", got)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source still present: %v", err)
	}
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "x", "y.txt"), "y")
	writeFile(t, filepath.Join(src, "z.txt"), "z")
	dst := filepath.Join(dir, "dst")

	if err := copyTree(src, dst); err != nil {
		t.Fatal(err)
	}
	if readFile(t, filepath.Join(dst, "x", "y.txt")) != "y" || readFile(t, filepath.Join(dst, "z.txt")) != "z" {
		t.Fatal("tree copy incomplete")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")
	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != "two" {
		t.Fatalf("content = %q", got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestMergeDirs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "ses-01", "meg", "new.txt"), "new")
	writeFile(t, filepath.Join(src, "ses-01", "same.txt"), "same")
	writeFile(t, filepath.Join(src, "ses-02", "only.txt"), "only")
	writeFile(t, filepath.Join(dst, "ses-01", "same.txt"), "same")
	writeFile(t, filepath.Join(dst, "ses-01", "meg", "old.txt"), "old")

	if err := MergeDirs(src, dst, nil); err != nil {
		t.Fatalf("MergeDirs: %v", err)
	}
	for path, want := range map[string]string{
		filepath.Join(dst, "ses-01", "meg", "new.txt"): "new",
		filepath.Join(dst, "ses-01", "meg", "old.txt"): "old",
		filepath.Join(dst, "ses-01", "same.txt"):       "same",
		filepath.Join(dst, "ses-02", "only.txt"):       "only",
	} {
		if got := readFile(t, path); got != want {
			t.Fatalf("%s = %q, want %q", path, got, want)
		}
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source tree not removed: %v", err)
	}
}

func TestMergeDirsCollision(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "a.tsv"), "left")
	writeFile(t, filepath.Join(dst, "a.tsv"), "right")

	err := MergeDirs(src, dst, nil)
	if !errors.Is(err, ErrCollision) {
		t.Fatalf("expected ErrCollision, got %v", err)
	}

	err = MergeDirs(src, dst, func(from, to string) (bool, error) {
		if !strings.HasSuffix(to, "a.tsv") {
			return false, nil
		}
		writeFile(t, to, "merged")
		return true, os.Remove(from)
	})
	if err != nil {
		t.Fatalf("MergeDirs with resolver: %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "a.tsv")); got != "merged" {
		t.Fatalf("resolver output = %q", got)
	}
}

func TestCopyFileVerifiedKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.sh")
	dst := filepath.Join(dir, "copy.sh")
	writeFile(t, src, "#!/bin/sh\n")
	if err := os.Chmod(src, 0o750); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("mode = %o, want 750", info.Mode().Perm())
	}
}
