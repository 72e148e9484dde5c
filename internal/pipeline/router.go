package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"astroreg/internal/config"
	"astroreg/internal/logging"
	"astroreg/internal/preview"
	"astroreg/internal/psf"
	"astroreg/internal/register"
	"astroreg/internal/sequence"
	"astroreg/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	cfg       *config.Config
	regMgr    regManager
	scanFn    scanFunc
	previewFn previewFunc
}

type regManager interface {
	Run(ctx context.Context, name string, seq *sequence.Sequence, req register.Request) (register.Result, error)
}

type scanFunc func(dir string, extensions []string) (sequence.ScanResult, error)

type previewFunc func(ctx context.Context, req preview.Request) error

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	var regCfg *config.RegistrationConfig
	if cfg != nil {
		regCfg = &cfg.Registration
	}
	return &router{
		log:       logger,
		store:     store,
		cfg:       cfg,
		regMgr:    register.NewManager(regCfg, logger),
		scanFn:    sequence.ScanDirectory,
		previewFn: preview.Export,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScan:
		return r.handleScan(ctx, job)
	case JobRegister:
		return r.handleRegister(ctx, job)
	case JobPreview:
		return r.handlePreview(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	res, err := r.scanFn(job.SequenceDir, r.extensions())
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		_ = r.store.RecordSequenceFrames(job.SequenceDir, frameRecords(res.Sequence))
	}

	meta := map[string]any{
		"frames":  res.Sequence.FrameCount(),
		"skipped": len(res.Skipped),
		"no_date": res.NoDate,
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleRegister(ctx context.Context, job Job) Result {
	scan, err := r.scanFn(job.SequenceDir, r.extensions())
	if err != nil {
		return Result{Job: job, Error: err}
	}
	seq := scan.Sequence
	if seq.FrameCount() == 0 {
		return Result{Job: job, Error: sequence.ErrNoFrames}
	}

	if ref, ok := optInt(job.Options, "reference"); ok {
		if err := seq.SetReference(ref); err != nil {
			return Result{Job: job, Error: err}
		}
	}

	req, method, err := r.buildRequest(job.Options)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	req.OnFrame = func(pos, index int, ferr error) {
		status := "completed"
		if ferr != nil {
			status = "failed"
		}
		logging.LogFrameStep(r.log, job.ID, index, status, nil)
	}

	res, err := r.regMgr.Run(ctx, method, seq, req)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		_ = r.store.RecordShifts(job.ID, collectShifts(seq, req.Args.Layer))
	}

	meta := map[string]any{
		"method":   res.Method,
		"frames":   res.Frames,
		"layer":    req.Args.Layer,
		"upscale":  seq.UpscaleAtStacking,
		"duration": res.Duration.String(),
	}
	if req.Model != nil {
		meta["vx"] = req.Model.VX
		meta["vy"] = req.Model.VY
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handlePreview(ctx context.Context, job Job) Result {
	frame, _ := job.Options["frame"].(string)
	if frame == "" {
		return Result{Job: job, Error: fmt.Errorf("preview needs a frame path")}
	}
	dx, _ := optFloat(job.Options, "dx")
	dy, _ := optFloat(job.Options, "dy")
	format, _ := job.Options["format"].(string)

	err := r.previewFn(ctx, preview.Request{
		FramePath:  frame,
		OutputPath: job.Output,
		ShiftX:     dx,
		ShiftY:     dy,
		Format:     format,
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{"output": job.Output}}
}

// buildRequest maps a job's option bag onto a registration request.
func (r *router) buildRequest(opts map[string]any) (register.Request, string, error) {
	regCfg := config.RegistrationConfig{StopOnError: true}
	workers := 4
	if r.cfg != nil {
		regCfg = r.cfg.Registration
		workers = r.cfg.Processing.ParallelFrames
	}

	req := register.Request{
		Args: register.Args{
			Layer:        regCfg.Layer,
			Cumulative:   regCfg.Comet.Cumulative,
			DoubleSample: regCfg.Comet.DoubleSample,
		},
		PSF: psf.Params{
			SigmaThreshold: regCfg.PSF.SigmaThreshold,
			MinPixels:      regCfg.PSF.MinPixels,
			MaxPixels:      regCfg.PSF.MaxPixels,
		},
		Workers:     workers,
		StopOnError: regCfg.StopOnError,
	}

	if v, ok := optInt(opts, "layer"); ok {
		req.Args.Layer = v
	}
	if v, ok := opts["allFrames"].(bool); ok {
		req.Args.AllFrames = v
	}
	if v, ok := opts["cumulative"].(bool); ok {
		req.Args.Cumulative = v
	}
	if v, ok := opts["doubleSample"].(bool); ok {
		req.Args.DoubleSample = v
	}
	if v, ok := optInt(opts, "workers"); ok && v > 0 {
		req.Workers = v
	}

	vx, okX := optFloat(opts, "vx")
	vy, okY := optFloat(opts, "vy")
	if okX || okY {
		if !okX || !okY {
			return register.Request{}, "", fmt.Errorf("velocity needs both vx and vy")
		}
		req.Model = &register.VelocityModel{VX: vx, VY: vy}
	}

	sx, okSX := optInt(opts, "seedX")
	sy, okSY := optInt(opts, "seedY")
	if okSX && okSY {
		req.Seed = &image.Point{X: sx, Y: sy}
	}

	method, _ := opts["method"].(string)
	return req, method, nil
}

func (r *router) extensions() []string {
	if r.cfg != nil {
		return r.cfg.Registration.Sequence.Extensions
	}
	return nil
}

func collectShifts(seq *sequence.Sequence, layer int) []storage.FrameShift {
	regdata := seq.RegData(layer)
	shifts := make([]storage.FrameShift, 0, len(regdata))
	for i, rd := range regdata {
		shifts = append(shifts, storage.FrameShift{
			FrameIndex: i,
			ShiftX:     rd.ShiftX,
			ShiftY:     rd.ShiftY,
			Quality:    rd.Quality,
		})
	}
	return shifts
}

func frameRecords(seq *sequence.Sequence) []storage.SequenceFrame {
	recs := make([]storage.SequenceFrame, 0, len(seq.Frames))
	for _, f := range seq.Frames {
		dateObs := ""
		if f.HasDate {
			dateObs = f.DateObs.UTC().Format("2006-01-02T15:04:05.000")
		}
		recs = append(recs, storage.SequenceFrame{
			FrameIndex: f.Index,
			FilePath:   f.Path,
			DateObs:    dateObs,
			Included:   f.Included,
		})
	}
	return recs
}

// optInt reads an int option that may arrive as int (CLI) or float64 (JSON).
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
