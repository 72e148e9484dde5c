package register

import (
	"context"
	"testing"
	"time"

	"astroreg/internal/config"
)

func managerConfig() *config.RegistrationConfig {
	return &config.RegistrationConfig{
		DefaultMethod: "comet",
		Comet:         config.CometConfig{Enabled: true},
		Star:          config.StarTrackConfig{Enabled: true, SearchBox: 20},
	}
}

func TestManagerRegistersConfiguredMethods(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	names := m.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 methods, got %v", names)
	}
	if _, ok := m.Methods()["comet"]; !ok {
		t.Fatal("comet method missing")
	}
	if _, ok := m.Methods()["star"]; !ok {
		t.Fatal("star method missing")
	}
}

func TestManagerHonorsDisabledMethods(t *testing.T) {
	cfg := managerConfig()
	cfg.Star.Enabled = false
	m := NewManager(cfg, nil)
	if _, ok := m.Methods()["star"]; ok {
		t.Fatal("disabled star method registered")
	}
}

func TestManagerUnknownMethod(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0)
	if _, err := m.Run(context.Background(), "warp", seq, Request{}); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestManagerDefaultMethodFallback(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0, time.Hour)

	// empty name selects the configured default, comet here
	res, err := m.Run(context.Background(), "", seq, Request{
		Model: &VelocityModel{VX: 5, VY: -2},
	})
	if err != nil {
		t.Fatalf("default-method run failed: %v", err)
	}
	if res.Method != "comet" {
		t.Fatalf("ran %q, want the configured default comet", res.Method)
	}
	if res.Frames != 2 {
		t.Fatalf("reported %d frames, want 2", res.Frames)
	}
}

func TestCometMethodRequiresModel(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0, time.Hour)
	if _, err := m.Run(context.Background(), "comet", seq, Request{}); err == nil {
		t.Fatal("expected error without a velocity model")
	}
}

func TestCometMethodEndToEnd(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0, time.Hour, 3*time.Hour)

	res, err := m.Run(context.Background(), "comet", seq, Request{
		Model:       &VelocityModel{VX: 5, VY: -2},
		Workers:     4,
		StopOnError: true,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Frames != 3 {
		t.Fatalf("reported %d frames, want 3", res.Frames)
	}

	dx, dy, _ := seq.Shift(2, 0)
	if dx != -15 || dy != 6 {
		t.Fatalf("frame 2 shift (%v, %v), want (-15, 6)", dx, dy)
	}
}

func TestCometMethodAllFrames(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0, time.Hour)
	seq.Frames[1].Included = false

	// included-only run skips frame 1
	if _, err := m.Run(context.Background(), "comet", seq, Request{
		Model: &VelocityModel{VX: 1, VY: 0},
	}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if dx, _, _ := seq.Shift(1, 0); dx != 0 {
		t.Fatalf("excluded frame got shift %v", dx)
	}

	// all-frames run covers it
	if _, err := m.Run(context.Background(), "comet", seq, Request{
		Model: &VelocityModel{VX: 1, VY: 0},
		Args:  Args{AllFrames: true},
	}); err != nil {
		t.Fatalf("all-frames run failed: %v", err)
	}
	if dx, _, _ := seq.Shift(1, 0); dx != -1 {
		t.Fatalf("all-frames shift %v, want -1", dx)
	}
}

func TestManagerFrameObserver(t *testing.T) {
	m := NewManager(managerConfig(), nil)
	seq := cometSequence(0, time.Hour, 2*time.Hour)

	var seen []int
	_, err := m.Run(context.Background(), "comet", seq, Request{
		Model: &VelocityModel{VX: 1, VY: 1},
		OnFrame: func(pos, index int, err error) {
			seen = append(seen, index)
		},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("observer saw %d frames, want 3", len(seen))
	}
}
