package pkgcache

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/SandrineP/mamba/internal/errs"
)

// Extract unpacks a .tar.bz2 or .conda archive into dest. dest is replaced
// only once extraction succeeds.
func Extract(archive, dest string) error {
	tmp := dest + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to clear %s", tmp)
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", tmp)
	}

	var err error
	switch {
	case strings.HasSuffix(archive, ".conda"):
		err = extractConda(archive, tmp)
	case strings.HasSuffix(archive, ".tar.bz2"):
		err = extractTarBz2(archive, tmp)
	default:
		err = errs.New(errs.CodeFormat, "unsupported archive format: %s", filepath.Base(archive))
	}
	if err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		os.RemoveAll(tmp)
		return errs.Wrap(errs.CodeIO, err, "failed to replace %s", dest)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		return errs.Wrap(errs.CodeIO, err, "failed to move extracted package to %s", dest)
	}
	return nil
}

func extractTarBz2(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to open %s", archive)
	}
	defer f.Close()

	if err := untar(bzip2.NewReader(f), dest); err != nil {
		return errs.Wrap(errs.CodeFormat, err, "failed to extract %s", filepath.Base(archive))
	}
	return nil
}

// extractConda unpacks the zstd compressed info and pkg tarballs held in a
// .conda zip container.
func extractConda(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return errs.Wrap(errs.CodeFormat, err, "failed to open %s", filepath.Base(archive))
	}
	defer zr.Close()

	found := false
	for _, entry := range zr.File {
		if !strings.HasSuffix(entry.Name, ".tar.zst") {
			continue
		}
		found = true
		if err := extractZstEntry(entry, dest); err != nil {
			return errs.Wrap(errs.CodeFormat, err, "failed to extract %s from %s", entry.Name, filepath.Base(archive))
		}
	}
	if !found {
		return errs.New(errs.CodeFormat, "%s contains no package tarballs", filepath.Base(archive))
	}
	return nil
}

func extractZstEntry(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return err
	}
	defer dec.Close()

	return untar(dec, dest)
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin joins name under dir, refusing paths that escape it.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.CodeFormat, "archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}
