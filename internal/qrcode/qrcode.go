// Package qrcode generates identity codes and their scannable image
// artifacts. A code follows the grammar PREFIX_YYYYMMDD_HHMMSS_RANDOM8;
// uniqueness is probabilistic (a collision needs the same prefix, the same
// wall-clock second, and the same 8-character draw), not enforced anywhere.
package qrcode

import (
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	qr "github.com/skip2/go-qrcode"
)

// Identity is one generated code plus its rendered image artifact.
type Identity struct {
	Code string
	Path string
}

type Generator struct {
	storagePath   string
	moduleSize    int // pixels per QR module
	quietZone     bool
	defaultPrefix string
	logger        *slog.Logger
}

// NewGenerator creates the storage root if needed. moduleSize is the pixel
// width of one QR module; border <= 0 disables the standard 4-module quiet
// zone (the encoder's quiet zone width itself is fixed).
func NewGenerator(storagePath string, moduleSize, border int, defaultPrefix string, logger *slog.Logger) (*Generator, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create qr code directory: %w", err)
	}
	if moduleSize <= 0 {
		moduleSize = 10
	}
	if defaultPrefix == "" {
		defaultPrefix = "SB"
	}
	return &Generator{
		storagePath:   storagePath,
		moduleSize:    moduleSize,
		quietZone:     border > 0,
		defaultPrefix: defaultPrefix,
		logger:        logger,
	}, nil
}

// GenerateUniqueCode builds prefix_YYYYMMDD_HHMMSS_RANDOM8. The random
// suffix is the first 8 hex characters of a v4 UUID, uppercased. This is
// collision avoidance, not a security boundary.
func (g *Generator) GenerateUniqueCode(prefix string) string {
	if prefix == "" {
		prefix = g.defaultPrefix
	}
	timestamp := time.Now().Format("20060102_150405")
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s_%s_%s", prefix, timestamp, random)
}

// CreateCodeImage renders content as a PNG QR code at error-correction level
// L under the storage root and returns the full path. The filename is
// derived from content with path-hostile characters replaced.
func (g *Generator) CreateCodeImage(content string) (string, error) {
	code, err := qr.New(content, qr.Low)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr content: %w", err)
	}
	code.DisableBorder = !g.quietZone

	// Bitmap includes the quiet zone, so this scales each module to
	// moduleSize pixels regardless of QR version.
	pixels := g.moduleSize * len(code.Bitmap())

	fullPath := filepath.Join(g.storagePath, codeFilename(content))
	if err := code.WriteFile(pixels, fullPath); err != nil {
		return "", fmt.Errorf("failed to write qr image: %w", err)
	}

	g.logger.Info("qr image written", "path", fullPath)
	return fullPath, nil
}

// GenerateItemIdentity composes code generation and image rendering.
func (g *Generator) GenerateItemIdentity(prefix string) (string, string, error) {
	code := g.GenerateUniqueCode(prefix)
	path, err := g.CreateCodeImage(code)
	if err != nil {
		return "", "", err
	}
	return code, path, nil
}

// EmbedID renames an identity artifact to qr_<code>_id<N>.png once the
// owning row id is known, and returns the new path.
func (g *Generator) EmbedID(oldPath, code string, id int64) (string, error) {
	newPath := filepath.Join(filepath.Dir(oldPath), fmt.Sprintf("qr_%s_id%d.png", sanitize(code), id))
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("failed to rename qr image: %w", err)
	}
	return newPath, nil
}

// BatchGenerate produces count identities best-effort; individual failures
// are logged and skipped.
func (g *Generator) BatchGenerate(count int, prefix string) []Identity {
	results := make([]Identity, 0, count)
	for i := 0; i < count; i++ {
		code, path, err := g.GenerateItemIdentity(prefix)
		if err != nil {
			g.logger.Warn("batch qr generation failed", "index", i+1, "error", err)
			continue
		}
		results = append(results, Identity{Code: code, Path: path})
	}
	g.logger.Info("batch qr generation complete", "requested", count, "generated", len(results))
	return results
}

// CodeInfo describes a rendered identity artifact on disk.
type CodeInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	ModTime   time.Time `json:"mod_time"`
}

// Info stats an identity artifact and decodes its pixel dimensions.
func (g *Generator) Info(path string) (*CodeInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat qr image: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open qr image: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode qr image: %w", err)
	}

	return &CodeInfo{
		Path:      path,
		SizeBytes: stat.Size(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		ModTime:   stat.ModTime(),
	}, nil
}

// Delete removes an identity artifact. Returns false, not an error, when the
// file was already absent.
func (g *Generator) Delete(path string) bool {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			g.logger.Warn("qr image already absent", "path", path)
		} else {
			g.logger.Error("failed to delete qr image", "path", path, "error", err)
		}
		return false
	}
	return true
}

// ValidateFormat checks a code against the four-part grammar without a
// database round trip: >= 4 underscore-separated segments, an 8-digit date,
// a 6-digit time, and an 8-character alphanumeric suffix.
//
// Known fragility: a prefix that itself contains '_' shifts the segment
// indices and can reject a code this package generated.
func ValidateFormat(code string) bool {
	parts := strings.Split(code, "_")
	if len(parts) < 4 {
		return false
	}
	if len(parts[1]) != 8 || !isDigits(parts[1]) {
		return false
	}
	if len(parts[2]) != 6 || !isDigits(parts[2]) {
		return false
	}
	if len(parts[3]) != 8 || !isAlnum(parts[3]) {
		return false
	}
	return true
}

func codeFilename(content string) string {
	name := "qr_" + sanitize(content)
	if !strings.HasSuffix(strings.ToLower(name), ".png") {
		name += ".png"
	}
	return name
}

func sanitize(content string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(content)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
