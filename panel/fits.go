package panel

import (
	"io"

	"github.com/astrogo/fitsio"
)

// WritePhaseFITS streams the last derived phase field to w as a float32
// FITS image for offline inspection.  NaN samples outside the pupil are
// preserved; FITS readers treat them as blanks.
func (p *Panel) WritePhaseFITS(w io.Writer) error {
	// refresh publishes a fresh phase slice each time, so the snapshot is
	// stable once the lock is dropped
	p.mu.Lock()
	phase := p.phase
	s := p.stats
	p.mu.Unlock()

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	size := p.GridSize()
	im := fitsio.NewImage(-32, []int{size, size})
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "BUNIT", Value: s.Unit, Comment: "phase unit"},
		{Name: "PHMIN", Value: s.Min, Comment: "min over finite samples"},
		{Name: "PHMAX", Value: s.Max, Comment: "max over finite samples"},
		{Name: "PHRMS", Value: s.RMS, Comment: "coefficient-space RMS"},
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	data := make([]float32, len(phase))
	for i, v := range phase {
		data[i] = float32(v)
	}
	if err := im.Write(&data); err != nil {
		return err
	}
	return f.Write(im)
}
