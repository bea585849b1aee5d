package calibration

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"
)

// The on-disk format is a FITS file with three float64 image HDUs: the
// forward map, the inverse map, and the flat pattern.  The primary header
// carries the scalar metadata.  Storing both maps keeps the two directions
// of the mapping tied to a single snapshot.

const (
	cardWavelength = "WAVELEN"
	cardOrder      = "RADORDER"
	cardActuators  = "NACT"
	cardModes      = "NMODES"
	cardSerial     = "DMSERIAL"
)

// Write streams the calibration to w as FITS
func (c *Calibration) Write(w io.Writer) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	cards := []fitsio.Card{
		{Name: cardWavelength, Value: c.Wavelength, Comment: "calibration wavelength [nm]"},
		{Name: cardOrder, Value: c.RadialOrder, Comment: "max Zernike radial order"},
		{Name: cardActuators, Value: c.Nu(), Comment: "actuator count"},
		{Name: cardModes, Value: c.Nk(), Comment: "Zernike mode count"},
		{Name: cardSerial, Value: c.Serial, Comment: "DM serial number"},
	}

	if err := writeImage(f, c.Forward.Cols, c.Forward.Rows, c.Forward.Data, cards); err != nil {
		return err
	}
	if err := writeImage(f, c.Inverse.Cols, c.Inverse.Rows, c.Inverse.Data, nil); err != nil {
		return err
	}
	return writeImage(f, len(c.Flat), 1, c.Flat, nil)
}

func writeImage(f *fitsio.File, width, height int, data []float64, cards []fitsio.Card) error {
	im := fitsio.NewImage(-64, []int{width, height})
	defer im.Close()
	if len(cards) > 0 {
		if err := im.Header().Append(cards...); err != nil {
			return err
		}
	}
	if err := im.Write(&data); err != nil {
		return err
	}
	return f.Write(im)
}

// Read parses a calibration from r
func Read(r io.Reader) (*Calibration, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if len(f.HDUs()) < 3 {
		return nil, fmt.Errorf("calibration: file has %d HDUs, want 3", len(f.HDUs()))
	}

	c := &Calibration{}
	primary, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("calibration: primary HDU is not an image")
	}
	hdr := primary.Header()
	if c.Wavelength, err = floatCard(hdr, cardWavelength); err != nil {
		return nil, err
	}
	order, err := floatCard(hdr, cardOrder)
	if err != nil {
		return nil, err
	}
	nact, err := floatCard(hdr, cardActuators)
	if err != nil {
		return nil, err
	}
	nmodes, err := floatCard(hdr, cardModes)
	if err != nil {
		return nil, err
	}
	c.RadialOrder = int(order)
	nu, nk := int(nact), int(nmodes)
	if card := hdr.Get(cardSerial); card != nil {
		if s, ok := card.Value.(string); ok {
			c.Serial = s
		}
	}

	if c.Forward, err = readImage(primary, nu, nk); err != nil {
		return nil, fmt.Errorf("calibration: forward map: %w", err)
	}
	inv, ok := f.HDU(1).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("calibration: HDU 1 is not an image")
	}
	if c.Inverse, err = readImage(inv, nk, nu); err != nil {
		return nil, fmt.Errorf("calibration: inverse map: %w", err)
	}
	flat, ok := f.HDU(2).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("calibration: HDU 2 is not an image")
	}
	fm, err := readImage(flat, 1, nu)
	if err != nil {
		return nil, fmt.Errorf("calibration: flat pattern: %w", err)
	}
	c.Flat = fm.Data

	return c, c.Validate()
}

func readImage(img fitsio.Image, rows, cols int) (Matrix, error) {
	// fitsio's Read sets the slice length without growing it, so the
	// caller must supply sufficient capacity up front.
	data := make([]float64, rows*cols)
	if err := img.Read(&data); err != nil {
		return Matrix{}, err
	}
	if len(data) != rows*cols {
		return Matrix{}, fmt.Errorf("have %d samples, want %dx%d", len(data), rows, cols)
	}
	return Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

func floatCard(hdr *fitsio.Header, name string) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("calibration: missing header card %s", name)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("calibration: header card %s has non-numeric value %v", name, card.Value)
	}
}

// Load reads a calibration from a file path.  Failure here at session
// startup is fatal to the caller; at runtime it leaves the previous
// in-memory snapshot untouched.
func Load(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Save writes the calibration to a file path
func (c *Calibration) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Write(f)
}
