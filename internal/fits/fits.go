// Package fits provides read access to FITS frames: primary-HDU headers,
// observation timestamps, and pixel data as float32 rasters.
package fits

import (
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/astrogo/fitsio"
)

// ErrNoTimestamp reports a frame whose header carries no DATE-OBS value.
var ErrNoTimestamp = errors.New("frame has no observation timestamp")

// Header carries the subset of primary-HDU metadata the registration engine needs.
type Header struct {
	Width   int
	Height  int
	Bitpix  int
	DateObs time.Time
	HasDate bool
	Object  string
	Exptime float64
}

// Image is a decoded FITS frame. Data is row-major, length Width*Height.
// Origin is non-zero for crops cut out of a larger frame and locates the
// crop in full-frame coordinates.
type Image struct {
	Path   string
	Header Header
	Origin image.Point
	Data   []float32
}

// At returns the pixel value at (x, y). No bounds checking.
func (im *Image) At(x, y int) float32 {
	return im.Data[y*im.Header.Width+x]
}

// Bounds returns the full-frame rectangle.
func (im *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, im.Header.Width, im.Header.Height)
}

// Region returns a copy of the pixels inside r, clipped to the frame bounds.
// The returned image has r's dimensions and an empty path.
func (im *Image) Region(r image.Rectangle) *Image {
	r = r.Intersect(im.Bounds())
	out := &Image{
		Origin: im.Origin.Add(r.Min),
		Header: Header{
			Width:   r.Dx(),
			Height:  r.Dy(),
			Bitpix:  im.Header.Bitpix,
			DateObs: im.Header.DateObs,
			HasDate: im.Header.HasDate,
		},
		Data: make([]float32, r.Dx()*r.Dy()),
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := im.Data[y*im.Header.Width+r.Min.X : y*im.Header.Width+r.Max.X]
		copy(out.Data[(y-r.Min.Y)*r.Dx():], src)
	}
	return out
}

// ReadHeader reads only the primary-HDU header of the file at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return Header{}, fmt.Errorf("open fits %s: %w", path, err)
	}
	defer fits.Close()

	return decodeHeader(fits.HDU(0).Header())
}

// ReadImage reads the primary-HDU header and full pixel raster of the file at path.
func ReadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("open fits %s: %w", path, err)
	}
	defer fits.Close()

	hduImg, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU of %s is not an image", path)
	}

	hdr, err := decodeHeader(hduImg.Header())
	if err != nil {
		return nil, err
	}

	data, err := readPixels(hduImg, hdr)
	if err != nil {
		return nil, fmt.Errorf("read pixels %s: %w", path, err)
	}

	return &Image{Path: path, Header: hdr, Data: data}, nil
}

// ReadRegion reads the frame at path and returns only the pixels inside r.
// The current decoder loads the whole raster; callers get region semantics
// regardless.
func ReadRegion(path string, r image.Rectangle) (*Image, error) {
	im, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	return im.Region(r), nil
}

func decodeHeader(h *fitsio.Header) (Header, error) {
	axes := h.Axes()
	if len(axes) < 2 {
		return Header{}, fmt.Errorf("expected 2 axes, got %d", len(axes))
	}

	hdr := Header{
		Width:  axes[0],
		Height: axes[1],
		Bitpix: h.Bitpix(),
	}

	if c := h.Get("DATE-OBS"); c != nil {
		if s, ok := c.Value.(string); ok {
			t, err := ParseDateObs(s)
			if err == nil {
				hdr.DateObs = t
				hdr.HasDate = true
			}
		}
	}
	if c := h.Get("OBJECT"); c != nil {
		if s, ok := c.Value.(string); ok {
			hdr.Object = s
		}
	}
	if c := h.Get("EXPTIME"); c != nil {
		switch v := c.Value.(type) {
		case float64:
			hdr.Exptime = v
		case int:
			hdr.Exptime = float64(v)
		}
	}

	return hdr, nil
}

func readPixels(img fitsio.Image, hdr Header) ([]float32, error) {
	n := hdr.Width * hdr.Height
	out := make([]float32, n)

	switch hdr.Bitpix {
	case 8:
		raw := make([]int8, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float32(v)
		}
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float32(v)
		}
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float32(v)
		}
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		out = raw
	case -64:
		raw := make([]float64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported bitpix %d", hdr.Bitpix)
	}

	if len(out) != n {
		return nil, fmt.Errorf("pixel count mismatch: got %d, want %d", len(out), n)
	}
	return out, nil
}
