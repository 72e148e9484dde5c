package register

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"astroreg/internal/fits"
	"astroreg/internal/psf"
	"astroreg/internal/sequence"
)

// StarTrackTask registers a sequence by following a single bright point
// source: the source is fitted once on the reference frame, then refitted in
// a bounded search box on every other frame, and each frame's shift moves its
// fit back onto the reference fit. This is centroid tracking, not star-field
// matching.
type StarTrackTask struct {
	Args      Args
	PSF       psf.Params
	SearchBox int          // half-size of the per-frame search box, pixels
	Seed      *image.Point // approximate source position; nil fits the whole reference frame
	Log       *slog.Logger

	refFit psf.Fit
	box    image.Rectangle
}

// NewStarTrackTask builds a star-tracking registration task.
func NewStarTrackTask(args Args, params psf.Params, searchBox int, seed *image.Point, log *slog.Logger) *StarTrackTask {
	if log == nil {
		log = slog.Default()
	}
	if searchBox < 5 {
		searchBox = 20
	}
	return &StarTrackTask{Args: args, PSF: params, SearchBox: searchBox, Seed: seed, Log: log}
}

// Region returns the search box for a frame, for region-only pixel loading.
// Valid only after Prepare.
func (t *StarTrackTask) Region(index int) image.Rectangle {
	return t.box
}

// Prepare fits the tracked source on the reference frame and allocates the
// target layer's regdata.
func (t *StarTrackTask) Prepare(ctx context.Context, seq *sequence.Sequence) error {
	refIdx, err := seq.ReferenceIndex()
	if err != nil {
		return err
	}

	im, err := fits.ReadImage(seq.Frames[refIdx].Path)
	if err != nil {
		return fmt.Errorf("reference frame %d: %w", refIdx, err)
	}

	region := im.Bounds()
	if t.Seed != nil {
		region = boxAround(t.Seed.X, t.Seed.Y, t.SearchBox)
	}

	fit, err := psf.FitPointSource(im, region, t.PSF)
	if err != nil {
		return fmt.Errorf("reference frame %d: %w", refIdx, err)
	}
	t.refFit = fit
	t.box = boxAround(int(fit.X+0.5), int(fit.Y+0.5), t.SearchBox)

	if _, err := seq.EnsureRegData(t.Args.Layer); err != nil {
		return err
	}

	if t.Args.DoubleSample {
		seq.UpscaleAtStacking = 2.0
	} else {
		seq.UpscaleAtStacking = 1.0
	}

	t.Log.Debug("star tracking prepared",
		"reference", refIdx,
		"x", fit.X, "y", fit.Y,
		"fwhm", fit.FWHM,
	)
	return nil
}

// ProcessFrame refits the source inside the frame's search-box crop and
// stores the shift that moves it onto the reference fit. img is the cropped
// region; its coordinates are local to the box.
func (t *StarTrackTask) ProcessFrame(ctx context.Context, seq *sequence.Sequence, pos, index int, img *fits.Image) error {
	if img == nil {
		return fmt.Errorf("star tracking needs pixel data")
	}

	fit, err := psf.FitPointSource(img, img.Bounds(), t.PSF)
	if err != nil {
		return err
	}
	// back to full-frame coordinates; the crop's origin accounts for
	// clipping at the frame edges
	fit.X += float64(img.Origin.X)
	fit.Y += float64(img.Origin.Y)

	dx := t.refFit.X - fit.X
	dy := t.refFit.Y - fit.Y
	if err := seq.SetShift(index, t.Args.Layer, dx, dy, t.Args.Cumulative); err != nil {
		return err
	}
	// slots are disjoint per frame index, safe during the parallel phase
	seq.RegData(t.Args.Layer)[index].Quality = fit.Flux
	return nil
}

// Finalize discards the layer on failure.
func (t *StarTrackTask) Finalize(ctx context.Context, seq *sequence.Sequence, runErr error) error {
	if runErr != nil {
		seq.ClearRegData(t.Args.Layer)
		t.Log.Warn("star tracking aborted, registration data discarded",
			"layer", t.Args.Layer, "error", runErr)
	}
	return nil
}

func boxAround(x, y, half int) image.Rectangle {
	return image.Rect(x-half, y-half, x+half+1, y+half+1)
}
