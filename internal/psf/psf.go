// Package psf fits sub-pixel centroids of point sources inside a region of
// interest. Detection thresholds on background statistics, blobs are traced
// by flood fill, and the flux-weighted centroid is refined with an
// axis-aligned Gaussian least-squares fit.
package psf

import (
	"errors"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"astroreg/internal/fits"
)

// ErrNoSource reports that no usable point source was found in the region.
var ErrNoSource = errors.New("no usable point source in region")

// Params tunes detection and fitting.
type Params struct {
	SigmaThreshold float64 // detection threshold in stddevs above background
	MinPixels      int     // smallest blob accepted as a source
	MaxPixels      int     // largest blob accepted as a source
}

// DefaultParams matches the engine's configuration defaults.
func DefaultParams() Params {
	return Params{SigmaThreshold: 3.0, MinPixels: 2, MaxPixels: 1000}
}

// Fit is a sub-pixel point-source fit. X and Y are in full-frame pixel
// coordinates when the fitted region was cut from a frame.
type Fit struct {
	X, Y       float64
	Flux       float64
	Background float64
	FWHM       float64
}

type blobPixel struct {
	x, y  int
	value float64
}

// FitPointSource fits the brightest point source inside region of the frame.
// Returns ErrNoSource when nothing rises above the detection threshold.
func FitPointSource(im *fits.Image, region image.Rectangle, p Params) (Fit, error) {
	sub := im.Region(region)
	fit, err := fitRaster(sub.Data, sub.Header.Width, sub.Header.Height, p)
	if err != nil {
		return Fit{}, err
	}
	clipped := region.Intersect(im.Bounds())
	fit.X += float64(clipped.Min.X)
	fit.Y += float64(clipped.Min.Y)
	return fit, nil
}

func fitRaster(data []float32, width, height int, p Params) (Fit, error) {
	if p.MinPixels < 1 {
		p.MinPixels = 1
	}
	if p.MaxPixels < p.MinPixels {
		p.MaxPixels = 1000
	}
	if len(data) == 0 || width < 3 || height < 3 {
		return Fit{}, ErrNoSource
	}

	mean, stddev := stats(data)
	threshold := mean + p.SigmaThreshold*stddev
	if stddev == 0 {
		return Fit{}, ErrNoSource
	}

	blobs := findBlobs(data, width, height, threshold, p)
	if len(blobs) == 0 {
		return Fit{}, ErrNoSource
	}

	// brightest blob by background-subtracted flux
	sort.Slice(blobs, func(i, j int) bool {
		return blobFlux(blobs[i], mean) > blobFlux(blobs[j], mean)
	})
	best := blobs[0]

	fit := centroid(best, mean)
	fit.Background = mean

	if refined, ok := refineGaussian(best, mean); ok {
		// keep the refinement only when it stays inside the blob's extent
		if math.Abs(refined.X-fit.X) <= 2 && math.Abs(refined.Y-fit.Y) <= 2 {
			refined.Flux = fit.Flux
			refined.Background = mean
			fit = refined
		}
	}

	return fit, nil
}

func stats(data []float32) (mean, stddev float64) {
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	mean = sum / float64(len(data))

	var variance float64
	for _, v := range data {
		diff := float64(v) - mean
		variance += diff * diff
	}
	stddev = math.Sqrt(variance / float64(len(data)))
	return mean, stddev
}

func findBlobs(data []float32, width, height int, threshold float64, p Params) [][]blobPixel {
	visited := make([]bool, len(data))
	var blobs [][]blobPixel

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if visited[idx] || float64(data[idx]) < threshold {
				continue
			}
			blob := floodFill(data, visited, x, y, width, height, threshold)
			if len(blob) >= p.MinPixels && len(blob) <= p.MaxPixels {
				blobs = append(blobs, blob)
			}
		}
	}
	return blobs
}

func floodFill(data []float32, visited []bool, startX, startY, width, height int, threshold float64) []blobPixel {
	var result []blobPixel
	stack := []image.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x, y := current.X, current.Y
		if x < 0 || x >= width || y < 0 || y >= height {
			continue
		}

		idx := y*width + x
		if visited[idx] || float64(data[idx]) < threshold {
			continue
		}

		visited[idx] = true
		result = append(result, blobPixel{x: x, y: y, value: float64(data[idx])})

		stack = append(stack,
			image.Point{X: x + 1, Y: y},
			image.Point{X: x - 1, Y: y},
			image.Point{X: x, Y: y + 1},
			image.Point{X: x, Y: y - 1},
		)
	}

	return result
}

func blobFlux(blob []blobPixel, background float64) float64 {
	var flux float64
	for _, px := range blob {
		flux += px.value - background
	}
	return flux
}

func centroid(blob []blobPixel, background float64) Fit {
	var sumX, sumY, sumW float64
	for _, px := range blob {
		w := px.value - background
		if w <= 0 {
			continue
		}
		sumX += float64(px.x) * w
		sumY += float64(px.y) * w
		sumW += w
	}
	if sumW == 0 {
		// degenerate blob, fall back to unweighted
		for _, px := range blob {
			sumX += float64(px.x)
			sumY += float64(px.y)
			sumW++
		}
	}
	return Fit{X: sumX / sumW, Y: sumY / sumW, Flux: blobFlux(blob, background)}
}

// refineGaussian fits ln(I - bg) = c0 + c1*x + c2*y + c3*x^2 + c4*y^2 over the
// blob's pixels, the log-space form of an axis-aligned Gaussian, and reads the
// peak off the quadratic. Needs at least 6 usable pixels and a concave fit.
func refineGaussian(blob []blobPixel, background float64) (Fit, bool) {
	var rows [][5]float64
	var vals []float64
	for _, px := range blob {
		v := px.value - background
		if v <= 0 {
			continue
		}
		x, y := float64(px.x), float64(px.y)
		rows = append(rows, [5]float64{1, x, y, x * x, y * y})
		vals = append(vals, math.Log(v))
	}
	if len(rows) < 6 {
		return Fit{}, false
	}

	A := mat.NewDense(len(rows), 5, nil)
	B := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		for j, v := range r {
			A.Set(i, j, v)
		}
		B.SetVec(i, vals[i])
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return Fit{}, false
	}

	c1, c2 := params.AtVec(1), params.AtVec(2)
	c3, c4 := params.AtVec(3), params.AtVec(4)
	if c3 >= 0 || c4 >= 0 {
		return Fit{}, false
	}

	x0 := -c1 / (2 * c3)
	y0 := -c2 / (2 * c4)
	sigma2 := -0.5 * (1/(2*c3) + 1/(2*c4)) // mean of the two axis variances
	fwhm := 2 * math.Sqrt(2*math.Ln2) * math.Sqrt(sigma2)

	if math.IsNaN(x0) || math.IsNaN(y0) || math.IsNaN(fwhm) {
		return Fit{}, false
	}
	return Fit{X: x0, Y: y0, FWHM: fwhm}, true
}
