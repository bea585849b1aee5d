// Package params persists session parameters as a JSON document: which
// calibration file to load, the control strategy and its option values, and
// the panel display settings.  A document that fails to load leaves the
// in-memory configuration untouched; stale keys inside an otherwise valid
// document are skipped, not fatal.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opticslab/zpanel/options"
	"github.com/opticslab/zpanel/panel"
)

// ControlParams is the persisted state of the control layer
type ControlParams struct {
	// Strategy is the active controller strategy name
	Strategy string `json:"strategy,omitempty"`

	// FlatOn records whether the flat pattern is applied
	FlatOn bool `json:"flat_on"`

	// Options holds per-strategy option values keyed by strategy name,
	// then option name
	Options map[string]map[string]interface{} `json:"options,omitempty"`
}

// PanelParams is the persisted state of the coefficient panel
type PanelParams struct {
	// ZernikeLabels maps decimal mode indices to operator-assigned names
	ZernikeLabels map[string]string `json:"zernike_labels,omitempty"`

	// ShownModes is the editable row count; zero means default
	ShownModes int `json:"shown_modes,omitempty"`
}

// Document is the root of the parameter file
type Document struct {
	// Calibration is the path of the calibration FITS file
	Calibration string `json:"calibration,omitempty"`

	ZernikeControl ControlParams `json:"ZernikeControl"`
	ZernikePanel   PanelParams   `json:"ZernikePanel"`
}

// Load reads a parameter document from path
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	defer f.Close()
	d := &Document{}
	if err := json.NewDecoder(f).Decode(d); err != nil {
		return nil, fmt.Errorf("params: decoding %s: %w", path, err)
	}
	return d, nil
}

// Save writes the document to path through a temp file and a rename, so a
// crash mid-write never leaves a truncated parameter file behind
func (d *Document) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".params-*")
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("params: encoding: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("params: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

// Capture renders the live session state into a document
func Capture(calibPath string, store *options.Store, pnl *panel.Panel, flatOn bool) (*Document, error) {
	opts := map[string]map[string]interface{}{}
	for _, name := range store.Names() {
		snap, err := store.Snapshot(name)
		if err != nil {
			return nil, err
		}
		opts[name] = snap
	}
	return &Document{
		Calibration: calibPath,
		ZernikeControl: ControlParams{
			Strategy: store.Active(),
			FlatOn:   flatOn,
			Options:  opts,
		},
		ZernikePanel: PanelParams{
			ZernikeLabels: pnl.Labels(),
			ShownModes:    pnl.Shown(),
		},
	}, nil
}

// Apply merges a document into the live session.  Unknown strategies and
// keys are reported and skipped; everything else takes effect.  The returned
// errors are advisory, the session keeps running.
func Apply(d *Document, store *options.Store, pnl *panel.Panel) []error {
	var errs []error
	for name, doc := range d.ZernikeControl.Options {
		errs = append(errs, store.LoadValues(name, doc)...)
	}
	if s := d.ZernikeControl.Strategy; s != "" {
		if err := store.Select(s); err != nil {
			errs = append(errs, err)
		}
	}
	if d.ZernikePanel.ZernikeLabels != nil {
		pnl.LoadLabels(d.ZernikePanel.ZernikeLabels)
	}
	if d.ZernikePanel.ShownModes > 0 {
		pnl.ResizeShown(d.ZernikePanel.ShownModes)
	}
	return errs
}
