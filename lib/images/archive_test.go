package images

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTar writes the given files as a tar stream, optionally gzipped.
func createTestTar(t *testing.T, files map[string][]byte, compress bool) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	var tw *tar.Writer
	var gw *gzip.Writer
	if compress {
		gw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(gw)
	} else {
		tw = tar.NewWriter(&buf)
	}

	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	if gw != nil {
		require.NoError(t, gw.Close())
	}
	return &buf
}

func createTestZip(t *testing.T, files map[string][]byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return &buf
}

func writeArchive(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.archive")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestExtractArchive_Formats(t *testing.T) {
	files := map[string][]byte{
		"main.py":          []byte("print('hi')"),
		"pkg/__init__.py":  []byte(""),
		"requirements.txt": []byte("fastapi\n"),
	}

	tests := []struct {
		name    string
		archive *bytes.Buffer
	}{
		{"tar", createTestTar(t, files, false)},
		{"tar.gz", createTestTar(t, files, true)},
		{"zip", createTestZip(t, files)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			destDir := t.TempDir()
			n, err := ExtractArchive(writeArchive(t, tt.archive), destDir, 1024*1024)
			require.NoError(t, err)
			assert.Equal(t, int64(len("print('hi')")+len("fastapi\n")), n)

			content, err := os.ReadFile(filepath.Join(destDir, "main.py"))
			require.NoError(t, err)
			assert.Equal(t, "print('hi')", string(content))
			assert.FileExists(t, filepath.Join(destDir, "pkg", "__init__.py"))
		})
	}
}

func TestExtractArchive_WrapsExtractionError(t *testing.T) {
	path := writeArchive(t, bytes.NewBufferString("this is not an archive at all"))
	_, err := ExtractArchive(path, t.TempDir(), 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)

	_, err = ExtractArchive(filepath.Join(t.TempDir(), "missing.tgz"), t.TempDir(), 1024)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractArchive_SizeLimit(t *testing.T) {
	files := map[string][]byte{"large.txt": bytes.Repeat([]byte("x"), 1000)}

	for name, archive := range map[string]*bytes.Buffer{
		"tar.gz": createTestTar(t, files, true),
		"zip":    createTestZip(t, files),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractArchive(writeArchive(t, archive), t.TempDir(), 500)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrArchiveTooLarge)
			assert.ErrorIs(t, err, ErrExtraction)
		})
	}
}

func TestExtractArchive_ZipPathTraversal(t *testing.T) {
	archive := createTestZip(t, map[string][]byte{"../../evil.sh": []byte("rm -rf /")})
	_, err := ExtractArchive(writeArchive(t, archive), t.TempDir(), 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestExtractTarGz_PathTraversal(t *testing.T) {
	archive := createTestTar(t, map[string][]byte{"../../../etc/passwd": []byte("evil")}, true)

	_, err := ExtractTarGz(archive, t.TempDir(), 1024*1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestExtractTarGz_AbsolutePath(t *testing.T) {
	archive := createTestTar(t, map[string][]byte{"/etc/passwd": []byte("evil")}, true)

	_, err := ExtractTarGz(archive, t.TempDir(), 1024*1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestExtractTar_Symlinks(t *testing.T) {
	tests := []struct {
		name     string
		linkname string
		wantErr  error
	}{
		{"inside", "target.txt", nil},
		{"escape", "../../etc/passwd", ErrInvalidArchivePath},
		{"absolute", "/etc/passwd", ErrInvalidArchivePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tw := tar.NewWriter(&buf)
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: "target.txt", Mode: 0644, Size: 5}))
			_, err := tw.Write([]byte("hello"))
			require.NoError(t, err)
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     "link.txt",
				Mode:     0777,
				Typeflag: tar.TypeSymlink,
				Linkname: tt.linkname,
			}))
			require.NoError(t, tw.Close())

			destDir := t.TempDir()
			_, err = ExtractTar(&buf, destDir, 1024*1024)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			target, err := os.Readlink(filepath.Join(destDir, "link.txt"))
			require.NoError(t, err)
			assert.Equal(t, tt.linkname, target)
		})
	}
}

func TestExtractTarGz_PreventsTarBomb(t *testing.T) {
	files := make(map[string][]byte)
	for i := 0; i < 100; i++ {
		files[fmt.Sprintf("dir/file_%03d.txt", i)] = bytes.Repeat([]byte("x"), 100)
	}
	archive := createTestTar(t, files, true)

	_, err := ExtractTarGz(archive, t.TempDir(), 5000) // 5KB limit, archive has 10KB
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}
