package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// ErrCollision reports a destination file that differs from the source it
// would be replaced by.
var ErrCollision = errors.New("destination file differs")

// CopyFileVerified copies src to dst with the source permission bits, syncs
// it, then reads dst back and compares its SHA-256 with the bytes read from
// src. dst is removed when the copy does not verify.
func CopyFileVerified(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	want := sha256.New()
	n, err := io.Copy(out, io.TeeReader(in, want))
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), n)
	}

	got, err := fileDigest(dst)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want.Sum(nil)) {
		return fmt.Errorf("copy of %s does not match its source", filepath.Base(src))
	}
	return nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Move renames src to dst. When the two paths live on different devices the
// tree is copied with verification and the source removed afterwards.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, unix.EXDEV) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("cross-device copy %s: %w", src, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return CopyFileVerified(src, dst)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// SameContent reports whether two regular files hold identical bytes.
func SameContent(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}
	ad, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bd, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ad, bd), nil
}

// WriteFileAtomic replaces path with data through a sibling temp file, so
// readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// CollisionFunc resolves a file present on both sides of a directory merge.
// It returns true when it has consumed src.
type CollisionFunc func(src, dst string) (bool, error)

// MergeDirs moves the contents of src into dst. Entries missing from dst are
// moved whole, directories present on both sides are merged recursively and
// byte-identical files are dropped from src. Any other file collision is
// handed to onCollision and fails with ErrCollision when left unresolved.
// Emptied source directories are removed.
func MergeDirs(src, dst string, onCollision CollisionFunc) error {
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		return Move(src, dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		target, err := os.Stat(to)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := Move(from, to); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		if entry.IsDir() && target.IsDir() {
			if err := MergeDirs(from, to, onCollision); err != nil {
				return err
			}
			continue
		}
		if !entry.IsDir() && !target.IsDir() {
			same, err := SameContent(from, to)
			if err != nil {
				return err
			}
			if same {
				if err := os.Remove(from); err != nil {
					return err
				}
				continue
			}
			if onCollision != nil {
				handled, err := onCollision(from, to)
				if err != nil {
					return err
				}
				if handled {
					continue
				}
			}
		}
		return fmt.Errorf("%w: %s", ErrCollision, to)
	}
	return removeIfEmpty(src)
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}
