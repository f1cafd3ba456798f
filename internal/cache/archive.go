package cache

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/haatos/simple-cd/internal/executor"
)

var ErrUnsafePath = errors.New("path escapes the checkout")

// cleanRelative validates a cache path or archive entry name and returns
// it cleaned. Absolute paths and paths leaving the checkout are rejected.
func cleanRelative(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || path.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return clean, nil
}

// writeArchive zips the given paths under root. Missing paths are skipped
// and reported through the returned count of archived files.
func writeArchive(fs executor.FileSystem, root string, paths []string, w io.Writer) (int, error) {
	zw := zip.NewWriter(w)
	files := 0
	for _, p := range paths {
		rel, err := cleanRelative(p)
		if err != nil {
			return 0, err
		}
		base := path.Join(root, rel)
		if _, err := fs.Stat(base); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		err = fs.Walk(base, func(name string, info os.FileInfo) error {
			entry := strings.TrimPrefix(strings.TrimPrefix(name, root), "/")
			switch {
			case info.IsDir():
				_, err := zw.CreateHeader(&zip.FileHeader{Name: entry + "/", Method: zip.Store})
				return err
			case !info.Mode().IsRegular():
				return nil
			}
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = entry
			hdr.Method = zip.Deflate
			dst, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			src, err := fs.Open(name)
			if err != nil {
				return err
			}
			defer src.Close()
			if _, err := io.Copy(dst, src); err != nil {
				return err
			}
			files++
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("err archiving %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return files, nil
}

// extractArchive unpacks a zip archive into root. Every entry is checked
// before anything is written so a malicious archive writes nothing.
func extractArchive(fs executor.FileSystem, root string, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("err reading cache archive: %w", err)
	}
	for _, f := range zr.File {
		if _, err := cleanRelative(f.Name); err != nil {
			return err
		}
	}
	for _, f := range zr.File {
		rel, _ := cleanRelative(f.Name)
		target := path.Join(root, rel)
		if f.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := fs.MkdirAll(path.Dir(target), 0755); err != nil {
			return err
		}
		if err := extractFile(fs, f, target); err != nil {
			return fmt.Errorf("err extracting %s: %w", rel, err)
		}
	}
	return nil
}

func extractFile(fs executor.FileSystem, f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := fs.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return fs.Chmod(target, f.Mode().Perm())
}
