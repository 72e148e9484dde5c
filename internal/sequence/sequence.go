// Package sequence models an ordered collection of astronomical frames and
// the per-layer registration records other components compute for them.
package sequence

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoFrames reports an empty sequence.
	ErrNoFrames = errors.New("sequence has no frames")
	// ErrNoReference reports a sequence with no usable reference frame.
	ErrNoReference = errors.New("sequence has no reference frame")
)

// RegData is one frame's registration record for one layer.
type RegData struct {
	ShiftX     float64 `json:"shift_x"`
	ShiftY     float64 `json:"shift_y"`
	Rotation   float64 `json:"rotation"`
	RotCentreX float64 `json:"rot_centre_x"`
	RotCentreY float64 `json:"rot_centre_y"`
	Quality    float64 `json:"quality"`
}

// Frame is one exposure within a sequence.
type Frame struct {
	Index    int    // file number within the sequence
	Path     string // on-disk FITS file
	Included bool   // selected for processing
	DateObs  time.Time
	HasDate  bool
}

// Sequence is an ordered, indexed collection of frames sharing a
// registration context. A sequence has one or more layers (color channels);
// each layer owns a dense regdata array, allocated lazily on the first
// registration pass and either fully present or entirely absent.
type Sequence struct {
	Name              string
	Dir               string
	Frames            []Frame
	Layers            int
	Reference         int // -1 means unresolved
	UpscaleAtStacking float64

	regdata [][]RegData
}

// New creates a sequence over the given frames with the given layer count.
func New(name string, frames []Frame, layers int) *Sequence {
	if layers < 1 {
		layers = 1
	}
	return &Sequence{
		Name:              name,
		Frames:            frames,
		Layers:            layers,
		Reference:         -1,
		UpscaleAtStacking: 1.0,
		regdata:           make([][]RegData, layers),
	}
}

// FrameCount returns the number of frames in the sequence.
func (s *Sequence) FrameCount() int { return len(s.Frames) }

// IncludedCount returns the number of frames flagged for processing.
func (s *Sequence) IncludedCount() int {
	n := 0
	for _, f := range s.Frames {
		if f.Included {
			n++
		}
	}
	return n
}

// ReferenceIndex resolves the sequence's designated reference frame. When no
// frame has been designated, the first included frame becomes the reference.
func (s *Sequence) ReferenceIndex() (int, error) {
	if len(s.Frames) == 0 {
		return 0, ErrNoFrames
	}
	if s.Reference >= 0 && s.Reference < len(s.Frames) {
		return s.Reference, nil
	}
	for i, f := range s.Frames {
		if f.Included {
			return i, nil
		}
	}
	return 0, ErrNoReference
}

// SetReference designates the reference frame.
func (s *Sequence) SetReference(index int) error {
	if index < 0 || index >= len(s.Frames) {
		return fmt.Errorf("reference index %d out of range (%d frames)", index, len(s.Frames))
	}
	s.Reference = index
	return nil
}

// RegData returns the layer's registration array, or nil when the layer has
// never been registered.
func (s *Sequence) RegData(layer int) []RegData {
	if layer < 0 || layer >= len(s.regdata) {
		return nil
	}
	return s.regdata[layer]
}

// EnsureRegData returns the layer's registration array, allocating it with
// one zeroed record per frame if absent. Existing records are preserved so a
// cumulative pass can compound with a prior one. Must only be called from a
// sequential phase.
func (s *Sequence) EnsureRegData(layer int) ([]RegData, error) {
	if layer < 0 || layer >= len(s.regdata) {
		return nil, fmt.Errorf("layer %d out of range (%d layers)", layer, len(s.regdata))
	}
	if len(s.Frames) == 0 {
		return nil, ErrNoFrames
	}
	if s.regdata[layer] == nil {
		s.regdata[layer] = make([]RegData, len(s.Frames))
	}
	return s.regdata[layer], nil
}

// ClearRegData discards the layer's registration array, leaving the layer
// entirely absent rather than half-populated. Must only be called from a
// sequential phase.
func (s *Sequence) ClearRegData(layer int) {
	if layer < 0 || layer >= len(s.regdata) {
		return
	}
	s.regdata[layer] = nil
}

// SetShift stores a frame's shift for a layer. With cumulative false the
// slot's shift is reset before the write, so repeated passes are idempotent;
// with cumulative true the new shift compounds with the existing one. Slots
// are disjoint per frame, so concurrent calls for distinct indices are safe.
func (s *Sequence) SetShift(index, layer int, dx, dy float64, cumulative bool) error {
	if layer < 0 || layer >= len(s.regdata) || s.regdata[layer] == nil {
		return fmt.Errorf("layer %d has no regdata", layer)
	}
	if index < 0 || index >= len(s.regdata[layer]) {
		return fmt.Errorf("frame index %d out of range", index)
	}
	rd := &s.regdata[layer][index]
	if !cumulative {
		rd.ShiftX = 0
		rd.ShiftY = 0
	}
	rd.ShiftX += dx
	rd.ShiftY += dy
	return nil
}

// Shift returns a frame's stored shift for a layer.
func (s *Sequence) Shift(index, layer int) (dx, dy float64, ok bool) {
	if layer < 0 || layer >= len(s.regdata) || s.regdata[layer] == nil {
		return 0, 0, false
	}
	if index < 0 || index >= len(s.regdata[layer]) {
		return 0, 0, false
	}
	rd := s.regdata[layer][index]
	return rd.ShiftX, rd.ShiftY, true
}
