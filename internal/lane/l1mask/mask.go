package l1mask

import (
	"errors"
	"fmt"
)

// ErrInvalidMask marks a mask that is structurally unusable: non-positive
// dimensions, a pixel buffer of the wrong length, or a size that differs
// from the one the session expects.
var ErrInvalidMask = errors.New("invalid mask")

// BinaryMask is a W×H grid of {0,1} values in the top-down (bird's-eye)
// frame. Pix is row-major: the value at (x, y) is Pix[y*Width+x], and
// y = Height-1 is the row nearest the vehicle.
type BinaryMask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates an all-zero mask.
func New(width, height int) *BinaryMask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &BinaryMask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// Validate checks the mask's structure. Pixel values other than 0 and 1
// are not rejected here; histograms count any non-zero value as 1.
func (m *BinaryMask) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil mask", ErrInvalidMask)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidMask, m.Width, m.Height)
	}
	if len(m.Pix) != m.Width*m.Height {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidMask, len(m.Pix), m.Width, m.Height)
	}
	return nil
}

// ValidateSize checks the structure and that the mask is width×height.
func (m *BinaryMask) ValidateSize(width, height int) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Width != width || m.Height != height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrInvalidMask, m.Width, m.Height, width, height)
	}
	return nil
}

// At returns 1 if the pixel at (x, y) is set. Out-of-range reads return 0.
func (m *BinaryMask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	if m.Pix[y*m.Width+x] != 0 {
		return 1
	}
	return 0
}

// Set marks the pixel at (x, y). Out-of-range writes are ignored.
func (m *BinaryMask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = 1
}

// Count returns the number of set pixels.
func (m *BinaryMask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// ColumnHistogram sums each column over rows [y0, y1). The row range is
// clipped to the mask; an empty range yields an all-zero histogram.
func (m *BinaryMask) ColumnHistogram(y0, y1 int) []int {
	hist := make([]int, m.Width)
	if y0 < 0 {
		y0 = 0
	}
	if y1 > m.Height {
		y1 = m.Height
	}
	for y := y0; y < y1; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v != 0 {
				hist[x]++
			}
		}
	}
	return hist
}
