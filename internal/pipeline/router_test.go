package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"astroreg/internal/preview"
	"astroreg/internal/register"
	"astroreg/internal/sequence"
)

type stubRegManager struct {
	lastName string
	lastReq  register.Request
	result   register.Result
	err      error
	calls    int
}

func (s *stubRegManager) Run(ctx context.Context, name string, seq *sequence.Sequence, req register.Request) (register.Result, error) {
	s.calls++
	s.lastName = name
	s.lastReq = req
	if s.err != nil {
		return register.Result{}, s.err
	}
	res := s.result
	if res.Method == "" {
		res.Method = name
	}
	return res, nil
}

func stubScan(frames int) scanFunc {
	return func(dir string, extensions []string) (sequence.ScanResult, error) {
		fs := make([]sequence.Frame, frames)
		base := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
		for i := range fs {
			fs[i] = sequence.Frame{
				Index:    i,
				Included: true,
				DateObs:  base.Add(time.Duration(i) * time.Hour),
				HasDate:  true,
			}
		}
		seq := sequence.New("stub", fs, 1)
		seq.Dir = dir
		return sequence.ScanResult{Sequence: seq}, nil
	}
}

func TestRouterRegisterPassesOptions(t *testing.T) {
	reg := &stubRegManager{result: register.Result{Method: "comet", Frames: 3}}
	r := &router{
		log:    slog.Default(),
		regMgr: reg,
		scanFn: stubScan(3),
	}

	job := Job{
		ID:          "reg-1",
		Type:        JobRegister,
		SequenceDir: "/data/comet2026",
		Options: map[string]any{
			"method":       "comet",
			"vx":           5.0,
			"vy":           -2.0,
			"layer":        1,
			"cumulative":   true,
			"doubleSample": true,
			"workers":      6,
		},
	}

	res := r.handleRegister(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if reg.calls != 1 {
		t.Fatalf("manager called %d times, want 1", reg.calls)
	}
	if reg.lastName != "comet" {
		t.Fatalf("method %q, want comet", reg.lastName)
	}
	req := reg.lastReq
	if req.Model == nil || req.Model.VX != 5 || req.Model.VY != -2 {
		t.Fatalf("velocity model not mapped: %+v", req.Model)
	}
	if req.Args.Layer != 1 || !req.Args.Cumulative || !req.Args.DoubleSample {
		t.Fatalf("args not mapped: %+v", req.Args)
	}
	if req.Workers != 6 {
		t.Fatalf("workers %d, want 6", req.Workers)
	}
	if res.Meta["method"] != "comet" || res.Meta["layer"] != 1 {
		t.Fatalf("meta not populated: %v", res.Meta)
	}
}

func TestRouterRegisterOptionsFromJSON(t *testing.T) {
	// options arriving over the web API decode numbers as float64
	reg := &stubRegManager{}
	r := &router{log: slog.Default(), regMgr: reg, scanFn: stubScan(2)}

	job := Job{
		ID:          "reg-2",
		Type:        JobRegister,
		SequenceDir: "/data/seq",
		Options: map[string]any{
			"layer":   float64(2),
			"workers": float64(3),
			"vx":      1.5,
			"vy":      0.5,
		},
	}
	res := r.handleRegister(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if reg.lastReq.Args.Layer != 2 || reg.lastReq.Workers != 3 {
		t.Fatalf("JSON-typed options not mapped: %+v", reg.lastReq)
	}
}

func TestRouterRegisterVelocityNeedsBothComponents(t *testing.T) {
	reg := &stubRegManager{}
	r := &router{log: slog.Default(), regMgr: reg, scanFn: stubScan(2)}

	job := Job{
		ID:          "reg-3",
		Type:        JobRegister,
		SequenceDir: "/data/seq",
		Options:     map[string]any{"vx": 5.0},
	}
	res := r.handleRegister(context.Background(), job)
	if res.Error == nil {
		t.Fatal("expected error for vx without vy")
	}
	if reg.calls != 0 {
		t.Fatal("manager ran despite invalid options")
	}
}

func TestRouterRegisterSetsReference(t *testing.T) {
	reg := &stubRegManager{}
	var gotRef int = -1
	r := &router{
		log:    slog.Default(),
		regMgr: reg,
		scanFn: stubScan(3),
	}
	// wrap the manager to observe the sequence state at run time
	r.regMgr = regManagerFunc(func(ctx context.Context, name string, seq *sequence.Sequence, req register.Request) (register.Result, error) {
		gotRef, _ = seq.ReferenceIndex()
		return register.Result{Method: "comet"}, nil
	})

	job := Job{
		ID:          "reg-4",
		Type:        JobRegister,
		SequenceDir: "/data/seq",
		Options:     map[string]any{"reference": 2, "vx": 1.0, "vy": 1.0},
	}
	if res := r.handleRegister(context.Background(), job); res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if gotRef != 2 {
		t.Fatalf("reference %d at run time, want 2", gotRef)
	}
}

type regManagerFunc func(ctx context.Context, name string, seq *sequence.Sequence, req register.Request) (register.Result, error)

func (f regManagerFunc) Run(ctx context.Context, name string, seq *sequence.Sequence, req register.Request) (register.Result, error) {
	return f(ctx, name, seq, req)
}

func TestRouterRegisterEmptySequence(t *testing.T) {
	reg := &stubRegManager{}
	r := &router{log: slog.Default(), regMgr: reg, scanFn: stubScan(0)}

	res := r.handleRegister(context.Background(), Job{ID: "reg-5", Type: JobRegister, SequenceDir: "/empty"})
	if !errors.Is(res.Error, sequence.ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", res.Error)
	}
}

func TestRouterRegisterPropagatesFailure(t *testing.T) {
	regErr := errors.New("no usable point source")
	reg := &stubRegManager{err: regErr}
	r := &router{log: slog.Default(), regMgr: reg, scanFn: stubScan(2)}

	res := r.handleRegister(context.Background(), Job{ID: "reg-6", Type: JobRegister, SequenceDir: "/data/seq"})
	if !errors.Is(res.Error, regErr) {
		t.Fatalf("expected registration error, got %v", res.Error)
	}
}

func TestRouterScanMeta(t *testing.T) {
	r := &router{
		log: slog.Default(),
		scanFn: func(dir string, extensions []string) (sequence.ScanResult, error) {
			seq := sequence.New("stub", []sequence.Frame{{Index: 0, Included: true}}, 1)
			return sequence.ScanResult{Sequence: seq, Skipped: []string{"bad.fits"}, NoDate: 1}, nil
		},
	}

	res := r.handleScan(context.Background(), Job{ID: "scan-1", Type: JobScan, SequenceDir: "/data/seq"})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["frames"] != 1 || res.Meta["skipped"] != 1 || res.Meta["no_date"] != 1 {
		t.Fatalf("meta not populated: %v", res.Meta)
	}
}

func TestRouterPreview(t *testing.T) {
	var got preview.Request
	r := &router{
		log: slog.Default(),
		previewFn: func(ctx context.Context, req preview.Request) error {
			got = req
			return nil
		},
	}

	job := Job{
		ID:     "prev-1",
		Type:   JobPreview,
		Output: "/out/preview.png",
		Options: map[string]any{
			"frame":  "/data/seq/a.fits",
			"dx":     -5.0,
			"dy":     2.0,
			"format": "png",
		},
	}
	res := r.handlePreview(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.FramePath != "/data/seq/a.fits" || got.OutputPath != "/out/preview.png" {
		t.Fatalf("paths not mapped: %+v", got)
	}
	if got.ShiftX != -5 || got.ShiftY != 2 {
		t.Fatalf("shifts not mapped: %+v", got)
	}
}

func TestRouterPreviewNeedsFrame(t *testing.T) {
	r := &router{log: slog.Default()}
	res := r.handlePreview(context.Background(), Job{ID: "prev-2", Type: JobPreview, Output: "/out/p.png"})
	if res.Error == nil {
		t.Fatal("expected error without a frame path")
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := &router{log: slog.Default()}
	res := r.Process(context.Background(), Job{ID: "x", Type: "transmogrify"})
	if res.Error == nil {
		t.Fatal("expected error for unknown job type")
	}
}
