// Package seqworker runs four-phase tasks (prepare, per-frame, optional
// save, finalize) over a filtered subset of a sequence's frames, with
// caller-controlled parallel dispatch of the per-frame phase.
package seqworker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"astroreg/internal/fits"
	"astroreg/internal/sequence"
)

// Task is the hook set executed over a sequence. Prepare runs once,
// sequentially, before any frame work; Finalize runs exactly once after the
// last frame invocation (or after the first hard failure), never concurrently
// with frame processing. ProcessFrame invocations may run on multiple
// goroutines and must only touch per-frame state.
type Task interface {
	// Prepare validates sequence invariants and allocates resources.
	// An error aborts the run before any frame processing.
	Prepare(ctx context.Context, seq *sequence.Sequence) error

	// ProcessFrame handles one filtered frame. pos is the frame's position
	// in the filtered order, index its absolute sequence index. img is nil
	// when the run loads no pixel data.
	ProcessFrame(ctx context.Context, seq *sequence.Sequence, pos, index int, img *fits.Image) error

	// Finalize releases resources and may roll back partial results.
	// runErr is the first error observed during the run, or nil.
	Finalize(ctx context.Context, seq *sequence.Sequence, runErr error) error
}

// FrameSaver is implemented by tasks that persist per-frame output after
// ProcessFrame succeeds.
type FrameSaver interface {
	SaveFrame(ctx context.Context, seq *sequence.Sequence, pos, index int) error
}

// Filter selects which frames a run visits.
type Filter func(seq *sequence.Sequence, index int) bool

// FilterAll visits every frame.
func FilterAll(seq *sequence.Sequence, index int) bool { return true }

// FilterIncluded visits only frames flagged included.
func FilterIncluded(seq *sequence.Sequence, index int) bool {
	return seq.Frames[index].Included
}

// PixelMode selects how much pixel data is loaded per frame.
type PixelMode int

const (
	// NoPixels passes a nil image to ProcessFrame; the task reads what it
	// needs itself (headers, usually).
	NoPixels PixelMode = iota
	// FullFrame loads the whole raster before each ProcessFrame call.
	FullFrame
	// RegionOnly loads only the rectangle returned by Opts.Region.
	RegionOnly
)

// Opts configures one run.
type Opts struct {
	Filter        Filter
	ExpectedCount int  // frames expected to pass the filter; 0 disables the check
	Parallel      bool // whether ProcessFrame may run across worker goroutines
	MaxWorkers    int  // bound on concurrent frame invocations; <=1 means sequential
	StopOnError   bool // stop dispatching new frames after the first failure
	Pixels        PixelMode
	Region        func(index int) image.Rectangle // required for RegionOnly

	// OnFrame, when set, observes every frame completion. Called from worker
	// goroutines; implementations must be safe for concurrent use.
	OnFrame func(pos, index int, err error)

	Logger *slog.Logger
}

type frameItem struct {
	pos   int
	index int
}

// Run executes task over seq's filtered frames. It blocks until finalize has
// run; callers wanting background execution wrap Run in their own goroutine
// or job queue. The returned error is the first hook failure, or the
// finalize error when frame processing succeeded.
func Run(ctx context.Context, seq *sequence.Sequence, task Task, opts Opts) error {
	if opts.Filter == nil {
		opts.Filter = FilterAll
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pixels == RegionOnly && opts.Region == nil {
		return errors.New("seqworker: RegionOnly run without a Region func")
	}

	var items []frameItem
	for i := range seq.Frames {
		if opts.Filter(seq, i) {
			items = append(items, frameItem{pos: len(items), index: i})
		}
	}

	if opts.ExpectedCount > 0 && len(items) != opts.ExpectedCount {
		return fmt.Errorf("seqworker: %d frames pass the filter, expected %d", len(items), opts.ExpectedCount)
	}

	if err := task.Prepare(ctx, seq); err != nil {
		ferr := task.Finalize(ctx, seq, err)
		if ferr != nil {
			opts.Logger.Warn("finalize after failed prepare", "error", ferr)
		}
		return err
	}

	runErr := processFrames(ctx, seq, task, opts, items)

	if ferr := task.Finalize(ctx, seq, runErr); ferr != nil && runErr == nil {
		runErr = ferr
	}
	return runErr
}

func processFrames(ctx context.Context, seq *sequence.Sequence, task Task, opts Opts, items []frameItem) error {
	workers := opts.MaxWorkers
	if !opts.Parallel || workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		return processSequential(ctx, seq, task, opts, items)
	}

	frameCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan frameItem)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			if opts.StopOnError {
				// stops the feeder; in-flight frames drain on their own
				cancel()
			}
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := processOne(frameCtx, seq, task, opts, item); err != nil {
					fail(err)
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case work <- item:
		case <-frameCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	// a cancelled parent context is still a failed run
	return ctx.Err()
}

func processSequential(ctx context.Context, seq *sequence.Sequence, task Task, opts Opts, items []frameItem) error {
	var firstErr error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if err := processOne(ctx, seq, task, opts, item); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if opts.StopOnError {
				break
			}
		}
	}
	return firstErr
}

func processOne(ctx context.Context, seq *sequence.Sequence, task Task, opts Opts, item frameItem) error {
	img, err := loadPixels(seq, opts, item.index)
	if err == nil {
		err = task.ProcessFrame(ctx, seq, item.pos, item.index, img)
	}
	if err == nil {
		if saver, ok := task.(FrameSaver); ok {
			err = saver.SaveFrame(ctx, seq, item.pos, item.index)
		}
	}
	if opts.OnFrame != nil {
		opts.OnFrame(item.pos, item.index, err)
	}
	if err != nil {
		return fmt.Errorf("frame %d: %w", item.index, err)
	}
	return nil
}

func loadPixels(seq *sequence.Sequence, opts Opts, index int) (*fits.Image, error) {
	switch opts.Pixels {
	case FullFrame:
		return fits.ReadImage(seq.Frames[index].Path)
	case RegionOnly:
		return fits.ReadRegion(seq.Frames[index].Path, opts.Region(index))
	default:
		return nil, nil
	}
}
