// Package register derives per-frame registration shifts for astronomical
// sequences. The comet method converts two timed observations of a moving
// object into a constant velocity and applies a linear-in-time shift to every
// frame; the star method tracks the brightest point source against the
// reference frame.
package register

import (
	"errors"
	"fmt"
	"image"
	"time"

	"astroreg/internal/fits"
	"astroreg/internal/psf"
)

var (
	// ErrIncompleteCalibration reports a velocity request before both
	// observations are set.
	ErrIncompleteCalibration = errors.New("calibration needs two observations")
	// ErrZeroInterval reports two observations with identical timestamps.
	ErrZeroInterval = errors.New("calibration observations have identical timestamps")
)

// Observation is one timed detection of the moving object: a sub-pixel
// centroid plus the frame's observation timestamp.
type Observation struct {
	Time time.Time `json:"time"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
}

// CalibrationSession accumulates the two observations that define the
// object's drift. It is a plain caller-owned value: either observation may be
// revisited at any time, and Velocity recomputes from current state, so edits
// are idempotent and order-independent.
type CalibrationSession struct {
	first  *Observation
	second *Observation
}

// SetFirst records or replaces the first observation.
func (s *CalibrationSession) SetFirst(obs Observation) { s.first = &obs }

// SetSecond records or replaces the second observation.
func (s *CalibrationSession) SetSecond(obs Observation) { s.second = &obs }

// Complete reports whether both observations are present.
func (s *CalibrationSession) Complete() bool { return s.first != nil && s.second != nil }

// Velocity derives the object's constant velocity in pixels per hour from
// the two observations.
func (s *CalibrationSession) Velocity() (VelocityModel, error) {
	if !s.Complete() {
		return VelocityModel{}, ErrIncompleteCalibration
	}
	hours := s.second.Time.Sub(s.first.Time).Hours()
	if hours == 0 {
		return VelocityModel{}, ErrZeroInterval
	}
	return VelocityModel{
		VX: (s.second.X - s.first.X) / hours,
		VY: (s.second.Y - s.first.Y) / hours,
	}, nil
}

// ObserveFrame fits the moving object inside region of the frame at path and
// returns the resulting observation. Fails when the frame lacks a DATE-OBS
// header or no source rises above the detection threshold, leaving the
// session unchanged either way.
func ObserveFrame(path string, region image.Rectangle, params psf.Params) (Observation, error) {
	im, err := fits.ReadImage(path)
	if err != nil {
		return Observation{}, fmt.Errorf("read calibration frame: %w", err)
	}
	if !im.Header.HasDate {
		return Observation{}, fmt.Errorf("calibration frame %s: %w", path, fits.ErrNoTimestamp)
	}
	fit, err := psf.FitPointSource(im, region, params)
	if err != nil {
		return Observation{}, fmt.Errorf("calibration frame %s: %w", path, err)
	}
	return Observation{Time: im.Header.DateObs, X: fit.X, Y: fit.Y}, nil
}

// VelocityModel is the object's constant drift in pixels per hour, valid for
// the whole registration run. It is immutable once handed to a task.
type VelocityModel struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// ShiftAt returns the registration shift for a frame observed dt after the
// reference frame. The shift cancels the object's drift, so it is the
// negated, time-scaled velocity; it is exactly zero at dt == 0.
func (m VelocityModel) ShiftAt(dt time.Duration) (dx, dy float64) {
	hours := dt.Hours()
	return -hours * m.VX, -hours * m.VY
}
