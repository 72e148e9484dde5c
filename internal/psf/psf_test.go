package psf

import (
	"errors"
	"image"
	"math"
	"testing"

	"astroreg/internal/fits"
)

// syntheticStar renders an axis-aligned Gaussian at (cx, cy) over a flat
// background.
func syntheticStar(width, height int, cx, cy, sigma, amplitude, background float32) *fits.Image {
	data := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(float32(x) - cx)
			dy := float64(float32(y) - cy)
			v := float64(amplitude) * math.Exp(-(dx*dx+dy*dy)/(2*float64(sigma)*float64(sigma)))
			data[y*width+x] = background + float32(v)
		}
	}
	return &fits.Image{
		Header: fits.Header{Width: width, Height: height},
		Data:   data,
	}
}

func TestFitPointSourceCentroid(t *testing.T) {
	im := syntheticStar(64, 64, 30.4, 25.7, 2.0, 1000, 100)

	fit, err := FitPointSource(im, im.Bounds(), DefaultParams())
	if err != nil {
		t.Fatalf("FitPointSource failed: %v", err)
	}
	if math.Abs(fit.X-30.4) > 0.2 || math.Abs(fit.Y-25.7) > 0.2 {
		t.Fatalf("centroid (%f, %f), want near (30.4, 25.7)", fit.X, fit.Y)
	}
	if fit.Flux <= 0 {
		t.Fatalf("expected positive flux, got %f", fit.Flux)
	}
}

func TestFitPointSourceInSubRegion(t *testing.T) {
	// two stars; the region isolates the dimmer one
	im := syntheticStar(64, 64, 15, 15, 2.0, 1000, 100)
	bright := syntheticStar(64, 64, 48, 48, 2.0, 4000, 0)
	for i := range im.Data {
		im.Data[i] += bright.Data[i]
	}

	fit, err := FitPointSource(im, image.Rect(5, 5, 26, 26), DefaultParams())
	if err != nil {
		t.Fatalf("FitPointSource failed: %v", err)
	}
	if math.Abs(fit.X-15) > 0.3 || math.Abs(fit.Y-15) > 0.3 {
		t.Fatalf("centroid (%f, %f), want near (15, 15)", fit.X, fit.Y)
	}
}

func TestFitPointSourceBrightest(t *testing.T) {
	im := syntheticStar(64, 64, 15, 15, 2.0, 500, 50)
	bright := syntheticStar(64, 64, 45, 40, 2.0, 3000, 0)
	for i := range im.Data {
		im.Data[i] += bright.Data[i]
	}

	fit, err := FitPointSource(im, im.Bounds(), DefaultParams())
	if err != nil {
		t.Fatalf("FitPointSource failed: %v", err)
	}
	if math.Abs(fit.X-45) > 0.3 || math.Abs(fit.Y-40) > 0.3 {
		t.Fatalf("expected the brighter source near (45, 40), got (%f, %f)", fit.X, fit.Y)
	}
}

func TestFitPointSourceFlatFrame(t *testing.T) {
	im := &fits.Image{
		Header: fits.Header{Width: 32, Height: 32},
		Data:   make([]float32, 32*32),
	}
	for i := range im.Data {
		im.Data[i] = 100
	}

	if _, err := FitPointSource(im, im.Bounds(), DefaultParams()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource on flat frame, got %v", err)
	}
}

func TestFitPointSourceRegionOutsideFrame(t *testing.T) {
	im := syntheticStar(32, 32, 16, 16, 2.0, 1000, 100)
	if _, err := FitPointSource(im, image.Rect(100, 100, 120, 120), DefaultParams()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource for empty region, got %v", err)
	}
}

func TestFitPointSourceSubPixel(t *testing.T) {
	// the Gaussian refinement should resolve a fractional peak position
	im := syntheticStar(48, 48, 20.25, 22.75, 2.5, 2000, 100)

	fit, err := FitPointSource(im, im.Bounds(), DefaultParams())
	if err != nil {
		t.Fatalf("FitPointSource failed: %v", err)
	}
	if math.Abs(fit.X-20.25) > 0.15 || math.Abs(fit.Y-22.75) > 0.15 {
		t.Fatalf("sub-pixel centroid (%f, %f), want near (20.25, 22.75)", fit.X, fit.Y)
	}
}
