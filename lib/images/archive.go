package images

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
)

// ExtractArchive unpacks a tar, tar.gz or zip archive into destDir, aborting
// once the extracted content exceeds maxBytes. Every failure wraps
// ErrExtraction. Returns the total extracted bytes.
func ExtractArchive(archivePath, destDir string, maxBytes int64) (int64, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: open archive: %w", ErrExtraction, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(4)

	var n int64
	switch {
	case bytes.HasPrefix(head, zipMagic):
		n, err = extractZip(archivePath, destDir, maxBytes)
	case bytes.HasPrefix(head, gzipMagic):
		n, err = ExtractTarGz(br, destDir, maxBytes)
	default:
		n, err = ExtractTar(br, destDir, maxBytes)
	}
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return n, nil
}

// ExtractTarGz extracts a gzip-compressed tar stream.
func ExtractTarGz(r io.Reader, destDir string, maxBytes int64) (int64, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()
	return ExtractTar(gzr, destDir, maxBytes)
}

// ExtractTar extracts a tar stream to destDir.
//
// Safety measures against adversarial archives:
// - Tracks cumulative extracted size, aborts immediately if limit exceeded
// - Rejects absolute and parent-relative entry names
// - Resolves targets with securejoin so earlier symlinks cannot redirect writes
func ExtractTar(r io.Reader, destDir string, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}

	tr := tar.NewReader(r)
	var extractedBytes int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extractedBytes, fmt.Errorf("read tar header: %w", err)
		}

		targetPath, err := sanitizePath(destDir, header.Name)
		if err != nil {
			return extractedBytes, err
		}

		if extractedBytes+header.Size > maxBytes {
			return extractedBytes, fmt.Errorf("%w: would exceed %d bytes", ErrArchiveTooLarge, maxBytes)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, dirMode(header.Mode)); err != nil {
				return extractedBytes, fmt.Errorf("create dir %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			n, err := writeFile(targetPath, tr, os.FileMode(header.Mode).Perm(), maxBytes-extractedBytes)
			extractedBytes += n
			if err != nil {
				return extractedBytes, fmt.Errorf("write file %s: %w", header.Name, err)
			}

		case tar.TypeSymlink:
			if err := checkSymlink(destDir, targetPath, header.Linkname); err != nil {
				return extractedBytes, err
			}
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for symlink: %w", err)
			}
			if err := os.Symlink(header.Linkname, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create symlink %s: %w", header.Name, err)
			}

		case tar.TypeLink:
			linkTarget, err := sanitizePath(destDir, header.Linkname)
			if err != nil {
				return extractedBytes, err
			}
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for hardlink: %w", err)
			}
			if err := os.Link(linkTarget, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create hardlink %s: %w", header.Name, err)
			}

		default:
			// Devices, fifos and the like are not build inputs.
			continue
		}
	}

	return extractedBytes, nil
}

func extractZip(archivePath, destDir string, maxBytes int64) (int64, error) {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchivePath, err)
	}
	if err != nil {
		return 0, fmt.Errorf("zip reader: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}

	var extractedBytes int64
	for _, zf := range zr.File {
		targetPath, err := sanitizePath(destDir, zf.Name)
		if err != nil {
			return extractedBytes, err
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return extractedBytes, fmt.Errorf("create dir %s: %w", zf.Name, err)
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}
		if extractedBytes+int64(zf.UncompressedSize64) > maxBytes {
			return extractedBytes, fmt.Errorf("%w: would exceed %d bytes", ErrArchiveTooLarge, maxBytes)
		}

		rc, err := zf.Open()
		if err != nil {
			return extractedBytes, fmt.Errorf("open %s: %w", zf.Name, err)
		}
		n, err := writeFile(targetPath, rc, zf.Mode().Perm(), maxBytes-extractedBytes)
		rc.Close()
		extractedBytes += n
		if err != nil {
			return extractedBytes, fmt.Errorf("write file %s: %w", zf.Name, err)
		}
	}
	return extractedBytes, nil
}

// writeFile copies at most remaining bytes from r into path.
func writeFile(path string, r io.Reader, perm os.FileMode, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	// +1 to detect overflow
	n, err := io.Copy(f, io.LimitReader(r, remaining+1))
	if err != nil {
		return n, err
	}
	if n > remaining {
		return n, fmt.Errorf("%w: exceeded limit", ErrArchiveTooLarge)
	}
	return n, nil
}

func dirMode(mode int64) os.FileMode {
	m := os.FileMode(mode).Perm()
	if m == 0 {
		return 0755
	}
	return m | 0700
}

// sanitizePath validates name and resolves it inside destDir.
func sanitizePath(destDir, name string) (string, error) {
	name = filepath.Clean(filepath.FromSlash(name))

	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %s", ErrInvalidArchivePath, name)
	}
	if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path traversal in %s", ErrInvalidArchivePath, name)
	}

	targetPath, err := securejoin.SecureJoin(destDir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArchivePath, name, err)
	}
	return targetPath, nil
}

// checkSymlink rejects link targets that would point outside destDir.
func checkSymlink(destDir, targetPath, linkTarget string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("%w: absolute symlink target", ErrInvalidArchivePath)
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(targetPath), linkTarget))
	root := filepath.Clean(destDir)
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: symlink escapes destination", ErrInvalidArchivePath)
	}
	return nil
}
