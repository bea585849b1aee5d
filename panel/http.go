package panel

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strconv"

	"goji.io/pat"

	"github.com/opticslab/zpanel/server"
)

// HTTPWrapper exposes a Panel over HTTP.  Mutating routes return 423 while
// an external controller owns the command vector, mirroring the lock
// middleware, so clients see the same status either way.
type HTTPWrapper struct {
	*Panel

	server.RouteTable
}

// NewHTTPWrapper builds the route table over a panel
func NewHTTPWrapper(p *Panel) *HTTPWrapper {
	w := &HTTPWrapper{Panel: p}
	rt := server.RouteTable{
		pat.Get("/coefficients"): w.GetCoefficients,
		pat.Get("/mode/:idx"):    w.GetMode,
		pat.Post("/mode/:idx"):   w.SetMode,
		pat.Post("/reset"):       w.Reset,
		pat.Get("/unit"):         w.GetUnit,
		pat.Post("/unit"):        w.SetUnit,
		pat.Get("/shown"):        w.GetShown,
		pat.Post("/shown"):       w.SetShown,
		pat.Get("/labels"):       w.GetLabels,
		pat.Get("/label/:idx"):   w.GetLabel,
		pat.Post("/label/:idx"):  w.SetLabel,
		pat.Get("/stats"):        w.GetStats,
		pat.Get("/phase.fits"):   w.GetPhaseFITS,

		pat.Post("/slider/:idx/begin"):  w.SliderBegin,
		pat.Post("/slider/:idx/update"): w.SliderUpdate,
		pat.Post("/slider/:idx/end"):    w.SliderEnd,
		pat.Get("/slider/:idx/max"):     w.GetSliderMax,
		pat.Post("/slider/:idx/max"):    w.SetSliderMax,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDisabled):
		http.Error(w, err.Error(), http.StatusLocked)
	case errors.Is(err, ErrModeRange), errors.Is(err, ErrRelRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func modeIndex(r *http.Request) (int, error) {
	return strconv.Atoi(pat.Param(r, "idx"))
}

// GetCoefficients returns the coefficient vector in radians as JSON
func (h *HTTPWrapper) GetCoefficients(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Coefficients()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetMode returns one coefficient in the displayed unit
func (h *HTTPWrapper) GetMode(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := h.Panel.Mode(idx)
	if err != nil {
		httpError(w, err)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// SetMode assigns one coefficient from a value in the displayed unit
func (h *HTTPWrapper) SetMode(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := server.FloatT{}
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.Panel.SetMode(idx, f.F64); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Reset zeroes every coefficient
func (h *HTTPWrapper) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Panel.Reset(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetUnit returns the display unit name
func (h *HTTPWrapper) GetUnit(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Unit()}
	hp.EncodeAndRespond(w, r)
}

// SetUnit selects the display unit, "rad" or "nm"
func (h *HTTPWrapper) SetUnit(w http.ResponseWriter, r *http.Request) {
	s := server.StrT{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	switch s.Str {
	case "rad":
		h.SetUnitNm(false)
	case "nm":
		h.SetUnitNm(true)
	default:
		http.Error(w, "unit must be rad or nm", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetShown returns the editable row count
func (h *HTTPWrapper) GetShown(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Int, Int: h.Shown()}
	hp.EncodeAndRespond(w, r)
}

// SetShown changes the editable row count and returns the clamped result
func (h *HTTPWrapper) SetShown(w http.ResponseWriter, r *http.Request) {
	i := server.IntT{}
	if err := json.NewDecoder(r.Body).Decode(&i); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	hp := server.HumanPayload{T: types.Int, Int: h.ResizeShown(i.Int)}
	hp.EncodeAndRespond(w, r)
}

// GetLabels returns the full mode label map as JSON
func (h *HTTPWrapper) GetLabels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Labels()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetLabel returns the label of one mode
func (h *HTTPWrapper) GetLabel(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hp := server.HumanPayload{T: types.String, String: h.Label(idx)}
	hp.EncodeAndRespond(w, r)
}

// SetLabel renames one mode
func (h *HTTPWrapper) SetLabel(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s := server.StrT{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.Panel.SetLabel(idx, s.Str); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetStats returns the phase field summary as JSON
func (h *HTTPWrapper) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetPhaseFITS streams the phase field as a FITS image
func (h *HTTPWrapper) GetPhaseFITS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/fits")
	if err := h.WritePhaseFITS(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SliderBegin starts a relative gesture on one mode's slider
func (h *HTTPWrapper) SliderBegin(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Panel.SliderBegin(idx); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SliderUpdate moves a relative gesture; the body carries the transient
// position in [-100, 100]
func (h *HTTPWrapper) SliderUpdate(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	i := server.IntT{}
	if err := json.NewDecoder(r.Body).Decode(&i); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.Panel.SliderUpdate(idx, i.Int); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetSliderMax returns the maximum relative delta of one mode's slider
func (h *HTTPWrapper) GetSliderMax(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := h.Panel.SliderMaxDelta(idx)
	if err != nil {
		httpError(w, err)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// SetSliderMax adjusts the gesture sensitivity of one mode's slider
func (h *HTTPWrapper) SetSliderMax(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := server.FloatT{}
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.Panel.SetSliderMaxDelta(idx, f.F64); err != nil {
		if errors.Is(err, ErrDisabled) || errors.Is(err, ErrModeRange) {
			httpError(w, err)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SliderEnd finishes a relative gesture, recentering the transient control
func (h *HTTPWrapper) SliderEnd(w http.ResponseWriter, r *http.Request) {
	idx, err := modeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Panel.SliderEnd(idx); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
