// Package archive writes snappy-compressed tar snapshots of a directory
// tree, used to back up the data root after each run.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// WriteDir streams a snappy-framed tar of root to dst. Paths inside the
// archive are relative to root with forward slashes. Top-level directories
// named in exclude are skipped, so a backup written under the root does not
// archive itself.
func WriteDir(dst io.Writer, root string, exclude ...string) error {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	sw := snappy.NewBufferedWriter(dst)
	tw := tar.NewWriter(sw)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if _, skip := excluded[rel]; skip && entry.IsDir() {
			return filepath.SkipDir
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if entry.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", rel, err)
		}
		if entry.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}
	return nil
}

// CreateFile archives root into a new file at path.
func CreateFile(path, root string, exclude ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()
	if err := WriteDir(f, root, exclude...); err != nil {
		return err
	}
	return f.Close()
}

// Extract unpacks a snappy-framed tar into dest. Entries escaping dest are
// rejected.
func Extract(src io.Reader, dest string) error {
	tr := tar.NewReader(snappy.NewReader(src))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		name := filepath.FromSlash(header.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("archive entry escapes destination: %q", header.Name)
		}
		target := filepath.Join(dest, name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
