package fits

import (
	"fmt"
	"os"
	"time"

	"github.com/astrogo/fitsio"
)

// WriteImage writes a single-HDU float32 FITS file. Used by preview export
// and by tests that synthesize frames.
func WriteImage(path string, width, height int, data []float32, dateObs time.Time, extraCards ...fitsio.Card) error {
	if len(data) != width*height {
		return fmt.Errorf("data length %d does not match %dx%d", len(data), width, height)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(-32, []int{width, height})
	defer im.Close()

	cards := []fitsio.Card{}
	if !dateObs.IsZero() {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: FormatDateObs(dateObs)})
	}
	cards = append(cards, extraCards...)
	if len(cards) > 0 {
		if err := im.Header().Append(cards...); err != nil {
			return err
		}
	}

	if err := im.Write(data); err != nil {
		return err
	}
	return fits.Write(im)
}
