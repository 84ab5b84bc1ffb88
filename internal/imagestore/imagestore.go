// Package imagestore persists observation photo artifacts under a single
// root with a thumbnails/ subdirectory mirroring filenames. It owns file
// lifecycle only; row lifecycle belongs to the stores, and the ordering that
// keeps the two in agreement belongs to the service.
package imagestore

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"berrytrace/internal/domain"
)

const thumbnailDir = "thumbnails"

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".bmp": true, ".tiff": true, ".webp": true,
}

// Magic-byte signatures accepted when strict decoding fails. Some valid
// images (notably phone-camera JPEGs with unusual markers) fail library
// verification but are structurally sound.
var magicNumbers = [][]byte{
	{0xff, 0xd8, 0xff},                         // JPEG
	{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, // PNG
	{'B', 'M'},          // BMP
	[]byte("GIF87a"),    // GIF
	[]byte("GIF89a"),    // GIF
}

type Store struct {
	basePath     string
	maxDim       int
	thumbnailDim int
	logger       *slog.Logger
}

// NewStore creates the image root and its thumbnails subdirectory. maxDim
// caps either dimension of a saved artifact; thumbnailDim caps thumbnails.
func NewStore(basePath string, maxDim, thumbnailDim int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(basePath, thumbnailDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	if maxDim <= 0 {
		maxDim = 1920
	}
	if thumbnailDim <= 0 {
		thumbnailDim = 300
	}
	return &Store{basePath: basePath, maxDim: maxDim, thumbnailDim: thumbnailDim, logger: logger}, nil
}

// Validate rejects missing or empty files and disallowed extensions, then
// attempts a strict decode. When the decode fails it falls back to sniffing
// the file header against known image signatures before rejecting.
func (s *Store) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: image file does not exist: %s", domain.ErrInvalid, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: image file is empty: %s", domain.ErrInvalid, path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: unsupported image extension %q", domain.ErrInvalid, ext)
	}

	if _, err := imaging.Open(path); err != nil {
		if s.sniffHeader(path) {
			s.logger.Info("image accepted by header sniff after decode failure", "path", path)
			return nil
		}
		return fmt.Errorf("%w: unrecognized image format: %s", domain.ErrInvalid, path)
	}
	return nil
}

func (s *Store) sniffHeader(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return false
	}
	header = header[:n]

	for _, magic := range magicNumbers {
		if bytes.HasPrefix(header, magic) {
			return true
		}
	}
	// WebP: RIFF container with a WEBP fourcc.
	return bytes.HasPrefix(header, []byte("RIFF")) && bytes.Contains(header, []byte("WEBP"))
}

// GenerateName builds item_<id>_<YYYYMMDD_HHMMSS>_<token8>.<ext>. Extensions
// outside the allow list fall back to .jpg.
func (s *Store) GenerateName(itemID int64, originalName string) string {
	timestamp := time.Now().Format("20060102_150405")
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	ext := ".jpg"
	if originalName != "" {
		if e := strings.ToLower(filepath.Ext(originalName)); allowedExtensions[e] {
			ext = e
		}
	}
	return fmt.Sprintf("item_%d_%s_%s%s", itemID, timestamp, token, ext)
}

// Save validates, decodes with EXIF orientation applied, downsamples when
// either dimension exceeds the cap (preserving aspect ratio), re-encodes
// under a generated name, and optionally writes a thumbnail with the same
// filename under thumbnails/. Returns the stored artifact path.
func (s *Store) Save(sourcePath string, itemID int64, resize, thumbnail bool) (string, error) {
	if err := s.Validate(sourcePath); err != nil {
		return "", err
	}

	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image %s: %w", sourcePath, err)
	}

	if resize {
		b := img.Bounds()
		if b.Dx() > s.maxDim || b.Dy() > s.maxDim {
			img = imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
			s.logger.Info("image resized", "path", sourcePath, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		}
	}

	name := s.GenerateName(itemID, filepath.Base(sourcePath))
	name = encodableName(name)
	destPath := filepath.Join(s.basePath, name)

	if err := imaging.Save(img, destPath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	if thumbnail {
		thumb := imaging.Fit(img, s.thumbnailDim, s.thumbnailDim, imaging.Lanczos)
		thumbPath := filepath.Join(s.basePath, thumbnailDir, name)
		if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(75)); err != nil {
			// A missing thumbnail is cosmetic; the artifact itself is saved.
			s.logger.Warn("failed to save thumbnail", "path", thumbPath, "error", err)
		}
	}

	s.logger.Info("image saved", "path", destPath, "item_id", itemID)
	return destPath, nil
}

// Copy validates then byte-copies the source without re-encoding. Used when
// processing must be skipped, e.g. formats the decoder cannot round-trip.
func (s *Store) Copy(sourcePath string, itemID int64) (string, error) {
	if err := s.Validate(sourcePath); err != nil {
		return "", err
	}

	destPath := filepath.Join(s.basePath, s.GenerateName(itemID, filepath.Base(sourcePath)))

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to open source image: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(destPath)
		return "", fmt.Errorf("failed to copy image: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("failed to close image file: %w", err)
	}

	s.logger.Info("image copied", "path", destPath, "item_id", itemID)
	return destPath, nil
}

// Delete removes an artifact and, when deleteThumbnail is set, its co-named
// thumbnail. Returns false (not an error) when the main file was absent.
func (s *Store) Delete(path string, deleteThumbnail bool) bool {
	ok := true
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("image already absent", "path", path)
		} else {
			s.logger.Error("failed to delete image", "path", path, "error", err)
		}
		ok = false
	}

	if deleteThumbnail {
		thumbPath := filepath.Join(s.basePath, thumbnailDir, filepath.Base(path))
		if err := os.Remove(thumbPath); err != nil && !os.IsNotExist(err) {
			s.logger.Error("failed to delete thumbnail", "path", thumbPath, "error", err)
		}
	}
	return ok
}

// List returns artifact paths newest-modified-first. itemID 0 lists all;
// otherwise only paths whose name embeds that item id.
func (s *Store) List(itemID int64) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	prefix := ""
	if itemID > 0 {
		prefix = fmt.Sprintf("item_%d_", itemID)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if prefix != "" && !strings.Contains(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.basePath, name), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// FindOrphans returns every listed artifact not present in referenced.
// Deleting them is the caller's call; this never removes anything.
func (s *Store) FindOrphans(referenced []string) ([]string, error) {
	all, err := s.List(0)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(referenced))
	for _, p := range referenced {
		known[p] = true
	}

	var orphans []string
	for _, p := range all {
		if !known[p] {
			orphans = append(orphans, p)
		}
	}
	return orphans, nil
}

// Exists reports whether an artifact file is present on disk.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ThumbnailPath returns the co-named thumbnail path for an artifact, and
// whether it exists.
func (s *Store) ThumbnailPath(path string) (string, bool) {
	thumbPath := filepath.Join(s.basePath, thumbnailDir, filepath.Base(path))
	_, err := os.Stat(thumbPath)
	return thumbPath, err == nil
}

// encodableName swaps extensions the encoder cannot write (webp is
// decode-via-sniff only) for .jpg on the re-encode path.
func encodableName(name string) string {
	if strings.ToLower(filepath.Ext(name)) == ".webp" {
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	}
	return name
}
