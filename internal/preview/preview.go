// Package preview exports shift-applied previews of registered frames using
// ImageMagick.
package preview

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Request describes one preview export.
type Request struct {
	FramePath  string
	OutputPath string
	ShiftX     float64
	ShiftY     float64
	Format     string // png or tiff; empty derives from OutputPath
}

// Export reads a frame, rolls it by its registration shift, and writes the
// preview. The roll wraps content at the edges; previews are for visual
// inspection, not for stacking.
func Export(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(req.FramePath); err != nil {
		return fmt.Errorf("failed to read frame: %v", err)
	}

	offsetX := int(req.ShiftX)
	offsetY := int(req.ShiftY)
	if offsetX != 0 || offsetY != 0 {
		if err := mw.RollImage(offsetX, offsetY); err != nil {
			return fmt.Errorf("failed to apply shift: %v", err)
		}
	}

	out := req.OutputPath
	if format := normalizeFormat(req.Format, out); format != "" {
		if err := mw.SetImageFormat(format); err != nil {
			return fmt.Errorf("failed to set format %s: %v", format, err)
		}
	}

	if err := mw.WriteImage(out); err != nil {
		return fmt.Errorf("failed to write preview: %v", err)
	}
	return nil
}

func normalizeFormat(format, outputPath string) string {
	f := strings.ToLower(format)
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), ".")
	}
	switch f {
	case "png":
		return "PNG"
	case "tif", "tiff":
		return "TIFF"
	case "jpg", "jpeg":
		return "JPEG"
	default:
		return ""
	}
}
