package register

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"astroreg/internal/fits"
	"astroreg/internal/sequence"
)

// Args is the configuration surface shared by registration tasks.
type Args struct {
	Layer        int  // target registration layer
	AllFrames    bool // process every frame instead of only included ones
	Cumulative   bool // compound with shifts from a prior pass
	DoubleSample bool // resample by 2x at stacking time
}

// CometTask computes a linear-in-time shift for every frame from an
// immutable velocity model. It implements seqworker.Task; the model and the
// reference date are established before the parallel phase and never mutated
// during it, and each frame writes only its own regdata slot.
type CometTask struct {
	Model VelocityModel
	Args  Args
	Log   *slog.Logger

	refDate time.Time
}

// NewCometTask binds a velocity model and registration args into a runnable task.
func NewCometTask(model VelocityModel, args Args, log *slog.Logger) *CometTask {
	if log == nil {
		log = slog.Default()
	}
	return &CometTask{Model: model, Args: args, Log: log}
}

// Prepare resolves the reference frame, reads its observation timestamp, and
// allocates the target layer's regdata. Any failure here aborts the run
// before frame processing.
func (t *CometTask) Prepare(ctx context.Context, seq *sequence.Sequence) error {
	refIdx, err := seq.ReferenceIndex()
	if err != nil {
		return err
	}

	refDate, err := frameDate(seq, refIdx)
	if err != nil {
		return fmt.Errorf("reference frame %d: %w", refIdx, err)
	}
	t.refDate = refDate

	if _, err := seq.EnsureRegData(t.Args.Layer); err != nil {
		return err
	}

	if t.Args.DoubleSample {
		seq.UpscaleAtStacking = 2.0
	} else {
		seq.UpscaleAtStacking = 1.0
	}

	t.Log.Debug("comet registration prepared",
		"reference", refIdx,
		"reference_date", refDate,
		"vx", t.Model.VX,
		"vy", t.Model.VY,
	)
	return nil
}

// ProcessFrame stores the frame's drift-cancelling shift. A frame without an
// observation timestamp is an error; with stop-on-error set the run aborts
// and finalize discards the layer.
func (t *CometTask) ProcessFrame(ctx context.Context, seq *sequence.Sequence, pos, index int, _ *fits.Image) error {
	date, err := frameDate(seq, index)
	if err != nil {
		return err
	}

	dx, dy := t.Model.ShiftAt(date.Sub(t.refDate))
	return seq.SetShift(index, t.Args.Layer, dx, dy, t.Args.Cumulative)
}

// Finalize discards the layer on failure so no half-populated registration
// data survives the run.
func (t *CometTask) Finalize(ctx context.Context, seq *sequence.Sequence, runErr error) error {
	if runErr != nil {
		seq.ClearRegData(t.Args.Layer)
		t.Log.Warn("comet registration aborted, registration data discarded",
			"layer", t.Args.Layer, "error", runErr)
	}
	return nil
}

// frameDate returns a frame's observation timestamp, reading the header from
// disk when the scan did not capture one.
func frameDate(seq *sequence.Sequence, index int) (time.Time, error) {
	f := seq.Frames[index]
	if f.HasDate {
		return f.DateObs, nil
	}
	hdr, err := fits.ReadHeader(f.Path)
	if err != nil {
		return time.Time{}, err
	}
	if !hdr.HasDate {
		return time.Time{}, fits.ErrNoTimestamp
	}
	return hdr.DateObs, nil
}
