package l1mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png" // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
)

// supportedExts lists file extensions accepted by ListMaskFiles.
var supportedExts = map[string]bool{
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// FromImage thresholds img into a BinaryMask: any pixel whose grey level
// is non-zero becomes 1. The image bounds origin is shifted to (0, 0).
func FromImage(img image.Image) *BinaryMask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y > 0 {
				m.Pix[(y-b.Min.Y)*m.Width+(x-b.Min.X)] = 1
			}
		}
	}
	return m
}

// MaxDimension bounds each side of a mask accepted by DecodeMask.
const MaxDimension = 4096

// Limits bounds the pixel size of a decoded mask. Zero fields select
// MaxDimension.
type Limits struct {
	MaxWidth  int
	MaxHeight int
}

func (l Limits) bounds() (int, int) {
	w, h := l.MaxWidth, l.MaxHeight
	if w <= 0 || w > MaxDimension {
		w = MaxDimension
	}
	if h <= 0 || h > MaxDimension {
		h = MaxDimension
	}
	return w, h
}

// DecodeMask reads a PNG, BMP or TIFF image from r and thresholds it,
// within the default Limits. The detected format name is returned
// alongside the mask.
func DecodeMask(r io.Reader) (*BinaryMask, string, error) {
	return DecodeMaskLimited(r, Limits{})
}

// DecodeMaskLimited is DecodeMask with explicit size limits. The image
// header is read first; an image larger than the limits is rejected with
// an error wrapping ErrInvalidMask before any pixel buffer is allocated.
func DecodeMaskLimited(r io.Reader, lim Limits) (*BinaryMask, string, error) {
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, "", fmt.Errorf("decode mask header: %w", err)
	}
	maxW, maxH := lim.bounds()
	if cfg.Width > maxW || cfg.Height > maxH {
		opsf("rejected %s mask %dx%d, limit %dx%d", format, cfg.Width, cfg.Height, maxW, maxH)
		return nil, format, fmt.Errorf("%w: %s image %dx%d exceeds %dx%d",
			ErrInvalidMask, format, cfg.Width, cfg.Height, maxW, maxH)
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, "", fmt.Errorf("decode mask image: %w", err)
	}
	m := FromImage(img)
	if err := m.Validate(); err != nil {
		return nil, format, err
	}
	diagf("decoded %s mask %dx%d (%d set pixels)", format, m.Width, m.Height, m.Count())
	return m, format, nil
}

// LoadMask decodes the mask image stored at path.
func LoadMask(path string) (*BinaryMask, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()

	m, _, err := DecodeMask(f)
	if err != nil {
		opsf("unreadable mask %s: %v", path, err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ListMaskFiles returns the mask images in dir sorted by file name, which
// is the capture order for frame dumps named with zero-padded indices.
func ListMaskFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mask dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !supportedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			tracef("skipping %s: not a mask image", e.Name())
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
