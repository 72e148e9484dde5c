package sequence

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"astroreg/internal/fits"
)

var defaultExtensions = []string{".fit", ".fits", ".fts"}

// ScanResult captures what a directory scan found.
type ScanResult struct {
	Sequence   *Sequence
	Skipped    []string // files that could not be read as FITS
	NoDate     int      // frames without a DATE-OBS header
	FirstError error    // first header-read failure, for log output
}

// ScanDirectory builds a sequence from the FITS frames in dir, ordered by
// file name. Frames are flagged included; files whose headers cannot be read
// are skipped rather than failing the scan.
func ScanDirectory(dir string, extensions []string) (ScanResult, error) {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ScanResult{}, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isFitsFile(e.Name(), extensions) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	res := ScanResult{}
	var frames []Frame
	for i, p := range paths {
		hdr, err := fits.ReadHeader(p)
		if err != nil {
			res.Skipped = append(res.Skipped, p)
			if res.FirstError == nil {
				res.FirstError = err
			}
			continue
		}
		if !hdr.HasDate {
			res.NoDate++
		}
		frames = append(frames, Frame{
			Index:    i,
			Path:     p,
			Included: true,
			DateObs:  hdr.DateObs,
			HasDate:  hdr.HasDate,
		})
	}

	// reindex after skips so frame indices stay dense
	for i := range frames {
		frames[i].Index = i
	}

	res.Sequence = New(filepath.Base(dir), frames, 1)
	res.Sequence.Dir = dir
	return res, nil
}

func isFitsFile(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
