package fits

import (
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.fits")
	dateObs := time.Date(2026, 3, 14, 22, 30, 15, 0, time.UTC)

	data := make([]float32, 8*4)
	for i := range data {
		data[i] = float32(i)
	}
	if err := WriteImage(path, 8, 4, data, dateObs); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	im, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if im.Header.Width != 8 || im.Header.Height != 4 {
		t.Fatalf("dimensions %dx%d, want 8x4", im.Header.Width, im.Header.Height)
	}
	if !im.Header.HasDate || !im.Header.DateObs.Equal(dateObs) {
		t.Fatalf("timestamp lost: hasDate=%v date=%v", im.Header.HasDate, im.Header.DateObs)
	}
	for i, v := range im.Data {
		if v != float32(i) {
			t.Fatalf("pixel %d = %v, want %v", i, v, float32(i))
		}
	}
	if im.At(3, 2) != float32(2*8+3) {
		t.Fatalf("At(3,2) = %v, want %v", im.At(3, 2), float32(2*8+3))
	}
}

func TestReadHeaderWithoutDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "undated.fits")
	if err := WriteImage(path, 4, 4, make([]float32, 16), time.Time{}); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	hdr, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if hdr.HasDate {
		t.Fatal("expected HasDate false for frame without DATE-OBS")
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	if _, err := ReadHeader(filepath.Join(t.TempDir(), "missing.fits")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRegionCopiesAndTracksOrigin(t *testing.T) {
	im := &Image{
		Header: Header{Width: 10, Height: 10},
		Data:   make([]float32, 100),
	}
	for i := range im.Data {
		im.Data[i] = float32(i)
	}

	sub := im.Region(image.Rect(3, 4, 7, 8))
	if sub.Header.Width != 4 || sub.Header.Height != 4 {
		t.Fatalf("region %dx%d, want 4x4", sub.Header.Width, sub.Header.Height)
	}
	if sub.Origin != (image.Point{X: 3, Y: 4}) {
		t.Fatalf("origin %v, want (3,4)", sub.Origin)
	}
	if sub.At(0, 0) != im.At(3, 4) {
		t.Fatalf("region corner %v, want %v", sub.At(0, 0), im.At(3, 4))
	}

	// copy, not an alias
	sub.Data[0] = -1
	if im.At(3, 4) == -1 {
		t.Fatal("region mutated the source raster")
	}
}

func TestRegionClipsAtFrameEdge(t *testing.T) {
	im := &Image{
		Header: Header{Width: 10, Height: 10},
		Data:   make([]float32, 100),
	}

	sub := im.Region(image.Rect(-5, -5, 4, 4))
	if sub.Origin != (image.Point{X: 0, Y: 0}) {
		t.Fatalf("clipped origin %v, want (0,0)", sub.Origin)
	}
	if sub.Header.Width != 4 || sub.Header.Height != 4 {
		t.Fatalf("clipped region %dx%d, want 4x4", sub.Header.Width, sub.Header.Height)
	}
}

func TestRegionOfRegionAccumulatesOrigin(t *testing.T) {
	im := &Image{
		Header: Header{Width: 20, Height: 20},
		Data:   make([]float32, 400),
	}
	sub := im.Region(image.Rect(5, 5, 15, 15))
	subsub := sub.Region(image.Rect(2, 3, 6, 7))
	if subsub.Origin != (image.Point{X: 7, Y: 8}) {
		t.Fatalf("nested origin %v, want (7,8)", subsub.Origin)
	}
}

func TestWriteImageLengthMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.fits")
	err := WriteImage(path, 4, 4, make([]float32, 3), time.Time{})
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestErrNoTimestampIdentity(t *testing.T) {
	_, err := ParseDateObs("")
	if !errors.Is(err, ErrNoTimestamp) {
		t.Fatalf("sentinel lost: %v", err)
	}
}
