package cli

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"astroreg/internal/config"
	"astroreg/internal/pipeline"
	"astroreg/internal/psf"
	"astroreg/internal/register"
	"astroreg/internal/storage"
	"astroreg/internal/watch"
	"astroreg/internal/web"
)

// Version is stamped at build time.
var Version = "dev"

// NewRootCmd creates the root cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "astroreg",
		Short: "astroreg registers astronomical image sequences",
		Long: `Astroreg computes per-frame registration shifts for FITS sequences,
including moving-object (comet) registration from a two-point velocity
calibration, so the frames can later be stacked on the moving target.`,
	}

	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newCalibrateCmd(root))
	rootCmd.AddCommand(newRegisterCmd(root))
	rootCmd.AddCommand(newRunsCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newScanCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <sequence_directory>",
		Short: "Scan a directory of FITS frames into a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:          uuid.NewString(),
				Type:        pipeline.JobScan,
				SequenceDir: args[0],
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Printf("scanned %v frames (%v skipped, %v without DATE-OBS)\n",
				res.Meta["frames"], res.Meta["skipped"], res.Meta["no_date"])
			return nil
		},
	}
}

// calibration is the on-disk form of a completed velocity calibration.
type calibration struct {
	First    register.Observation   `json:"first"`
	Second   register.Observation   `json:"second"`
	Velocity register.VelocityModel `json:"velocity"`
}

func newCalibrateCmd(root *Root) *cobra.Command {
	var (
		frame1, frame2 string
		x1, y1, x2, y2 int
		box            int
		out            string
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Derive the object's velocity from two marked frames",
		Long: `Fit the moving object's centroid near the given positions in two frames
taken at different times, derive its velocity in pixels per hour, and write
the calibration to a JSON file for the register command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := psf.Params{
				SigmaThreshold: root.cfg.Registration.PSF.SigmaThreshold,
				MinPixels:      root.cfg.Registration.PSF.MinPixels,
				MaxPixels:      root.cfg.Registration.PSF.MaxPixels,
			}

			var session register.CalibrationSession

			obs1, err := register.ObserveFrame(frame1, boxAround(x1, y1, box), params)
			if err != nil {
				return err
			}
			session.SetFirst(obs1)

			obs2, err := register.ObserveFrame(frame2, boxAround(x2, y2, box), params)
			if err != nil {
				return err
			}
			session.SetSecond(obs2)

			model, err := session.Velocity()
			if err != nil {
				return err
			}

			calib := calibration{First: obs1, Second: obs2, Velocity: model}
			data, err := json.MarshalIndent(calib, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}

			fmt.Printf("object velocity: %.3f px/h in x, %.3f px/h in y\n", model.VX, model.VY)
			fmt.Printf("calibration written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&frame1, "frame1", "", "first calibration frame (FITS)")
	cmd.Flags().StringVar(&frame2, "frame2", "", "second calibration frame (FITS)")
	cmd.Flags().IntVar(&x1, "x1", 0, "approximate object x in frame1")
	cmd.Flags().IntVar(&y1, "y1", 0, "approximate object y in frame1")
	cmd.Flags().IntVar(&x2, "x2", 0, "approximate object x in frame2")
	cmd.Flags().IntVar(&y2, "y2", 0, "approximate object y in frame2")
	cmd.Flags().IntVar(&box, "box", 20, "half-size of the fitting box, pixels")
	cmd.Flags().StringVar(&out, "out", "calibration.json", "output calibration file")
	cmd.MarkFlagRequired("frame1")
	cmd.MarkFlagRequired("frame2")

	return cmd
}

func newRegisterCmd(root *Root) *cobra.Command {
	var (
		method       string
		calibFile    string
		vx, vy       float64
		hasVelocity  bool
		layer        int
		reference    int
		allFrames    bool
		cumulative   bool
		doubleSample bool
		workers      int
		seedX, seedY int
		hasSeed      bool
	)

	cmd := &cobra.Command{
		Use:   "register <sequence_directory>",
		Short: "Compute registration shifts for a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{
				"method":       method,
				"layer":        layer,
				"allFrames":    allFrames,
				"cumulative":   cumulative,
				"doubleSample": doubleSample,
			}
			if workers > 0 {
				opts["workers"] = workers
			}
			if reference >= 0 {
				opts["reference"] = reference
			}

			hasVelocity = cmd.Flags().Changed("vx") && cmd.Flags().Changed("vy")
			if calibFile != "" {
				calib, err := readCalibration(calibFile)
				if err != nil {
					return err
				}
				opts["vx"] = calib.Velocity.VX
				opts["vy"] = calib.Velocity.VY
			} else if hasVelocity {
				opts["vx"] = vx
				opts["vy"] = vy
			}

			hasSeed = cmd.Flags().Changed("seed-x") && cmd.Flags().Changed("seed-y")
			if hasSeed {
				opts["seedX"] = seedX
				opts["seedY"] = seedY
			}

			job := pipeline.Job{
				ID:          uuid.NewString(),
				Type:        pipeline.JobRegister,
				SequenceDir: args[0],
				Options:     opts,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}

			fmt.Printf("registered %v frames with method %v on layer %v (run %s)\n",
				res.Meta["frames"], res.Meta["method"], res.Meta["layer"], job.ID)

			shifts, err := root.store.RunShifts(job.ID)
			if err != nil {
				return err
			}
			for _, sh := range shifts {
				fmt.Printf("  frame %3d: shift (%+.3f, %+.3f)\n", sh.FrameIndex, sh.ShiftX, sh.ShiftY)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "registration method (comet, star); empty uses the configured default")
	cmd.Flags().StringVar(&calibFile, "calibration", "", "calibration file from the calibrate command")
	cmd.Flags().Float64Var(&vx, "vx", 0, "object velocity in x, pixels per hour")
	cmd.Flags().Float64Var(&vy, "vy", 0, "object velocity in y, pixels per hour")
	cmd.Flags().IntVar(&layer, "layer", 0, "target registration layer")
	cmd.Flags().IntVar(&reference, "reference", -1, "reference frame index; -1 uses the first included frame")
	cmd.Flags().BoolVar(&allFrames, "all-frames", false, "process every frame instead of only included ones")
	cmd.Flags().BoolVar(&cumulative, "cumulative", false, "compound with shifts from a prior pass")
	cmd.Flags().BoolVar(&doubleSample, "double-sample", false, "resample by 2x at stacking time")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel frame workers; 0 uses the configured default")
	cmd.Flags().IntVar(&seedX, "seed-x", 0, "approximate tracked-source x for the star method")
	cmd.Flags().IntVar(&seedY, "seed-y", 0, "approximate tracked-source y for the star method")

	return cmd
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent registration runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-9s %-10s %s", r.ID, r.Method, r.Status, r.SequenceDir)
				if r.Error != "" {
					line += "  error: " + r.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		dx, dy float64
		format string
	)

	cmd := &cobra.Command{
		Use:   "preview <frame.fits> <output>",
		Short: "Export a shift-applied preview of a frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:     uuid.NewString(),
				Type:   pipeline.JobPreview,
				Output: args[1],
				Options: map[string]any{
					"frame":  args[0],
					"dx":     dx,
					"dy":     dy,
					"format": format,
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Printf("preview written to %v\n", res.Meta["output"])
			return nil
		},
	}

	cmd.Flags().Float64Var(&dx, "dx", 0, "shift to apply in x")
	cmd.Flags().Float64Var(&dy, "dy", 0, "shift to apply in y")
	cmd.Flags().StringVar(&format, "format", "", "output format (png, tiff); empty derives from the output extension")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <directory> [directory...]",
		Short: "Watch sequence directories and rescan on new frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := watch.New(args, root.cfg.Registration.Sequence.Extensions, root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-w.Events:
					if !ok {
						return nil
					}
					root.log.Info("frame event", "path", ev.Path, "operation", ev.Operation)
					if ev.Operation == "created" || ev.Operation == "modified" {
						job := pipeline.Job{
							ID:          uuid.NewString(),
							Type:        pipeline.JobScan,
							SequenceDir: ev.Dir,
						}
						if err := root.enqueue(ctx, job); err != nil {
							root.log.Warn("rescan enqueue failed", "error", err)
						}
					}
				}
			}
		},
	}
}

func newServeCmd(root *Root) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run status and live progress over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = root.cfg.Web.Port
			}
			if pipe, ok := root.pipeline.(*pipeline.Pipeline); ok {
				srv := web.NewServer(port, root.log, root.store, pipe)
				return srv.Run(cmd.Context())
			}
			return fmt.Errorf("pipeline does not support server operation")
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port; 0 uses the configured default")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the astroreg version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("astroreg", Version)
		},
	}
}

func readCalibration(path string) (calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return calibration{}, err
	}
	var calib calibration
	if err := json.Unmarshal(data, &calib); err != nil {
		return calibration{}, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return calib, nil
}

func boxAround(x, y, half int) image.Rectangle {
	return image.Rect(x-half, y-half, x+half+1, y+half+1)
}
