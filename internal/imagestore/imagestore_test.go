package imagestore

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berrytrace/internal/domain"
)

func newTestStore(t *testing.T, maxDim int) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), maxDim, 300, slog.Default())
	require.NoError(t, err)
	return s
}

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir string, name string, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, testImage(width, height)))
	require.NoError(t, f.Close())
	return path
}

func writeJPEG(t *testing.T, dir string, name string, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, testImage(width, height), nil))
	require.NoError(t, f.Close())
	return path
}

func TestValidate(t *testing.T) {
	s := newTestStore(t, 1920)
	srcDir := t.TempDir()

	t.Run("valid png", func(t *testing.T) {
		path := writePNG(t, srcDir, "ok.png", 10, 10)
		assert.NoError(t, s.Validate(path))
	})

	t.Run("missing file", func(t *testing.T) {
		err := s.Validate(filepath.Join(srcDir, "nope.jpg"))
		assert.ErrorIs(t, err, domain.ErrInvalid)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(srcDir, "empty.jpg")
		require.NoError(t, os.WriteFile(path, nil, 0644))
		err := s.Validate(path)
		assert.ErrorIs(t, err, domain.ErrInvalid)
	})

	t.Run("disallowed extension", func(t *testing.T) {
		path := filepath.Join(srcDir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
		err := s.Validate(path)
		assert.ErrorIs(t, err, domain.ErrInvalid)
	})

	t.Run("garbage with image extension", func(t *testing.T) {
		path := filepath.Join(srcDir, "garbage.jpg")
		require.NoError(t, os.WriteFile(path, []byte("definitely not an image"), 0644))
		err := s.Validate(path)
		assert.ErrorIs(t, err, domain.ErrInvalid)
	})

	t.Run("undecodable but jpeg magic accepted", func(t *testing.T) {
		// Truncated after the SOI marker: strict decode fails, sniff passes.
		path := filepath.Join(srcDir, "truncated.jpg")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe1, 0x00, 0x01, 0x02}, 0644))
		assert.NoError(t, s.Validate(path))
	})
}

func TestGenerateName(t *testing.T) {
	s := newTestStore(t, 1920)

	name := s.GenerateName(7, "photo.PNG")
	assert.True(t, strings.HasPrefix(name, "item_7_"))
	assert.True(t, strings.HasSuffix(name, ".png"))

	parts := strings.Split(strings.TrimSuffix(name, ".png"), "_")
	require.Len(t, parts, 5)
	assert.Len(t, parts[2], 8, "date segment")
	assert.Len(t, parts[3], 6, "time segment")
	assert.Len(t, parts[4], 8, "random token")
}

func TestGenerateName_UnknownExtensionDefaultsToJPG(t *testing.T) {
	s := newTestStore(t, 1920)
	assert.True(t, strings.HasSuffix(s.GenerateName(1, "export.pdf"), ".jpg"))
	assert.True(t, strings.HasSuffix(s.GenerateName(1, ""), ".jpg"))
}

func TestSave(t *testing.T) {
	s := newTestStore(t, 1920)
	src := writeJPEG(t, t.TempDir(), "src.jpg", 40, 30)

	path, err := s.Save(src, 3, true, true)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "item_3_")

	thumbPath, ok := s.ThumbnailPath(path)
	assert.True(t, ok)
	assert.FileExists(t, thumbPath)
}

func TestSave_ResizeCapsDimensions(t *testing.T) {
	s := newTestStore(t, 100)
	src := writeJPEG(t, t.TempDir(), "big.jpg", 300, 150)

	path, err := s.Save(src, 1, true, false)
	require.NoError(t, err)

	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy(), "aspect ratio preserved")
}

func TestSave_NoResizeKeepsDimensions(t *testing.T) {
	s := newTestStore(t, 100)
	src := writeJPEG(t, t.TempDir(), "big.jpg", 300, 150)

	path, err := s.Save(src, 1, false, false)
	require.NoError(t, err)

	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
}

func TestCopy(t *testing.T) {
	s := newTestStore(t, 1920)
	src := writePNG(t, t.TempDir(), "src.png", 20, 20)

	path, err := s.Copy(src, 9)
	require.NoError(t, err)
	assert.FileExists(t, path)

	original, err := os.ReadFile(src)
	require.NoError(t, err)
	copied, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, copied, "copy must not re-encode")
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, 1920)
	src := writeJPEG(t, t.TempDir(), "src.jpg", 20, 20)

	path, err := s.Save(src, 1, false, true)
	require.NoError(t, err)
	thumbPath, ok := s.ThumbnailPath(path)
	require.True(t, ok)

	assert.True(t, s.Delete(path, true))
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, thumbPath)

	assert.False(t, s.Delete(path, true), "deleting an absent file reports false")
}

func TestList(t *testing.T) {
	s := newTestStore(t, 1920)
	srcDir := t.TempDir()

	p1, err := s.Save(writeJPEG(t, srcDir, "a.jpg", 10, 10), 1, false, false)
	require.NoError(t, err)
	p2, err := s.Save(writeJPEG(t, srcDir, "b.jpg", 10, 10), 1, false, false)
	require.NoError(t, err)
	other, err := s.Save(writeJPEG(t, srcDir, "c.jpg", 10, 10), 2, false, false)
	require.NoError(t, err)

	// mtimes control ordering; make them unambiguous.
	now := time.Now()
	require.NoError(t, os.Chtimes(p1, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(p2, now.Add(-1*time.Hour), now.Add(-1*time.Hour)))

	paths, err := s.List(1)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, p2, paths[0], "newest first")
	assert.Equal(t, p1, paths[1])
	assert.NotContains(t, paths, other)

	all, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFindOrphans(t *testing.T) {
	s := newTestStore(t, 1920)
	srcDir := t.TempDir()

	referenced, err := s.Save(writeJPEG(t, srcDir, "a.jpg", 10, 10), 1, false, false)
	require.NoError(t, err)
	orphan, err := s.Save(writeJPEG(t, srcDir, "b.jpg", 10, 10), 1, false, false)
	require.NoError(t, err)

	orphans, err := s.FindOrphans([]string{referenced})
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, orphans)

	assert.FileExists(t, orphan, "scan must not remove anything")
}

func TestExists(t *testing.T) {
	s := newTestStore(t, 1920)
	src := writeJPEG(t, t.TempDir(), "src.jpg", 10, 10)

	path, err := s.Save(src, 1, false, false)
	require.NoError(t, err)

	assert.True(t, s.Exists(path))
	assert.False(t, s.Exists(path+".gone"))
}

func TestEncodableName(t *testing.T) {
	assert.Equal(t, "item_1_x.jpg", encodableName("item_1_x.webp"))
	assert.Equal(t, "item_1_x.png", encodableName("item_1_x.png"))
}
