package register

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"astroreg/internal/config"
	"astroreg/internal/psf"
	"astroreg/internal/sequence"
	"astroreg/internal/seqworker"
)

// Request carries per-run inputs for a registration method.
type Request struct {
	Args        Args
	Model       *VelocityModel // required by the comet method
	Seed        *image.Point   // optional source hint for the star method
	PSF         psf.Params
	Workers     int
	StopOnError bool

	// OnFrame observes frame completions; may be called from worker
	// goroutines.
	OnFrame func(pos, index int, err error)
}

// Result summarizes a completed run.
type Result struct {
	Method   string
	Frames   int
	Duration time.Duration
}

// Method is one registration strategy runnable over a sequence.
type Method interface {
	Name() string
	IsAvailable() bool
	Run(ctx context.Context, seq *sequence.Sequence, req Request) (Result, error)
}

// Manager holds the configured registration methods.
type Manager struct {
	methods map[string]Method
	order   []string
	cfg     *config.RegistrationConfig
	log     *slog.Logger
}

// NewManager registers methods based on config.
func NewManager(cfg *config.RegistrationConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{methods: make(map[string]Method), cfg: cfg, log: log}

	if cfg == nil {
		m.Register(&CometMethod{log: log})
		return m
	}

	if cfg.Comet.Enabled {
		m.Register(&CometMethod{log: log})
	}
	if cfg.Star.Enabled {
		m.Register(&StarTrackMethod{log: log, searchBox: cfg.Star.SearchBox})
	}
	return m
}

// Register adds a method to the registry.
func (m *Manager) Register(method Method) {
	if method == nil {
		return
	}
	if _, exists := m.methods[method.Name()]; !exists {
		m.order = append(m.order, method.Name())
	}
	m.methods[method.Name()] = method
}

// Methods exposes the registry.
func (m *Manager) Methods() map[string]Method { return m.methods }

// Names returns the registered method names in registration order.
func (m *Manager) Names() []string { return append([]string(nil), m.order...) }

// Run executes the named method; an empty name selects the configured
// default.
func (m *Manager) Run(ctx context.Context, name string, seq *sequence.Sequence, req Request) (Result, error) {
	if name == "" && m.cfg != nil {
		name = m.cfg.DefaultMethod
	}
	method, ok := m.methods[name]
	if !ok {
		return Result{}, fmt.Errorf("no registration method %q", name)
	}
	if !method.IsAvailable() {
		return Result{}, fmt.Errorf("registration method %q is not available", name)
	}
	return method.Run(ctx, seq, req)
}

// CometMethod wraps CometTask as a registry entry.
type CometMethod struct {
	log *slog.Logger
}

func (c *CometMethod) Name() string      { return "comet" }
func (c *CometMethod) IsAvailable() bool { return true }

func (c *CometMethod) Run(ctx context.Context, seq *sequence.Sequence, req Request) (Result, error) {
	if req.Model == nil {
		return Result{}, fmt.Errorf("comet registration needs a velocity model")
	}
	start := time.Now()
	task := NewCometTask(*req.Model, req.Args, c.log)

	opts := workerOpts(seq, req)
	opts.Pixels = seqworker.NoPixels

	if err := seqworker.Run(ctx, seq, task, opts); err != nil {
		return Result{}, err
	}
	return Result{Method: c.Name(), Frames: opts.ExpectedCount, Duration: time.Since(start)}, nil
}

// StarTrackMethod wraps StarTrackTask as a registry entry.
type StarTrackMethod struct {
	log       *slog.Logger
	searchBox int
}

func (s *StarTrackMethod) Name() string      { return "star" }
func (s *StarTrackMethod) IsAvailable() bool { return true }

func (s *StarTrackMethod) Run(ctx context.Context, seq *sequence.Sequence, req Request) (Result, error) {
	start := time.Now()
	task := NewStarTrackTask(req.Args, req.PSF, s.searchBox, req.Seed, s.log)

	opts := workerOpts(seq, req)
	opts.Pixels = seqworker.RegionOnly
	opts.Region = task.Region

	if err := seqworker.Run(ctx, seq, task, opts); err != nil {
		return Result{}, err
	}
	return Result{Method: s.Name(), Frames: opts.ExpectedCount, Duration: time.Since(start)}, nil
}

func workerOpts(seq *sequence.Sequence, req Request) seqworker.Opts {
	filter := seqworker.FilterIncluded
	expected := seq.IncludedCount()
	if req.Args.AllFrames {
		filter = seqworker.FilterAll
		expected = seq.FrameCount()
	}
	workers := req.Workers
	if workers < 1 {
		workers = 1
	}
	return seqworker.Opts{
		Filter:        filter,
		ExpectedCount: expected,
		Parallel:      true,
		MaxWorkers:    workers,
		StopOnError:   req.StopOnError,
		OnFrame:       req.OnFrame,
	}
}
