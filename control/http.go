package control

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"goji.io/pat"

	"github.com/opticslab/zpanel/calibration"
	"github.com/opticslab/zpanel/options"
	"github.com/opticslab/zpanel/server"
)

// HTTPWrapper exposes the handoff coordinator, the command vector, and the
// strategy options over HTTP.  The handoff routes are the external
// controller's interface; they must stay off the lock middleware's protected
// list or the controller could never release.
type HTTPWrapper struct {
	coord *Coordinator
	store *options.Store

	server.RouteTable
}

// NewHTTPWrapper builds the route table over a coordinator and its option
// store
func NewHTTPWrapper(coord *Coordinator, store *options.Store) *HTTPWrapper {
	w := &HTTPWrapper{coord: coord, store: store}
	rt := server.RouteTable{
		pat.Post("/handoff/acquire"): w.Acquire,
		pat.Post("/handoff/release"): w.Release,
		pat.Post("/handoff/draw"):    w.Draw,
		pat.Post("/handoff/write"):   w.Write,
		pat.Get("/handoff/status"):   w.Status,

		pat.Get("/vector"):     w.GetVector,
		pat.Get("/saturation"): w.GetSaturation,
		pat.Post("/actuator"):  w.SetActuator,
		pat.Get("/flat"):       w.GetFlat,
		pat.Post("/flat"):      w.SetFlat,

		pat.Get("/strategies"):              w.GetStrategies,
		pat.Get("/strategy"):                w.GetStrategy,
		pat.Post("/strategy"):               w.SetStrategy,
		pat.Get("/options/:strategy"):       w.GetOptions,
		pat.Post("/options/:strategy/:key"): w.SetOption,
		pat.Post("/run"):                    w.Run,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// handoffBody carries controller requests.  Final is distinct from U: a
// release without a final vector keeps whatever the controller last drew or
// wrote.
type handoffBody struct {
	Token string    `json:"token"`
	U     []float64 `json:"u,omitempty"`
	Final []float64 `json:"final,omitempty"`
}

func controlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyAcquired), errors.Is(err, ErrNotAcquired):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrBadToken):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, calibration.ErrDimension), errors.Is(err, ErrActuatorRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeHandoff(w http.ResponseWriter, r *http.Request) (handoffBody, bool) {
	b := handoffBody{}
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return b, false
	}
	defer r.Body.Close()
	return b, true
}

// Acquire transfers the command vector to the requesting controller
func (h *HTTPWrapper) Acquire(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeHandoff(w, r)
	if !ok {
		return
	}
	if _, err := h.coord.Acquire(b.Token); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Release hands the vector back, adopting the final vector when present
func (h *HTTPWrapper) Release(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeHandoff(w, r)
	if !ok {
		return
	}
	if err := h.coord.Release(b.Token, b.Final); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Draw updates the display from a controller vector without a hardware write
func (h *HTTPWrapper) Draw(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeHandoff(w, r)
	if !ok {
		return
	}
	if err := h.coord.DrawUpdate(b.Token, b.U); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Write sends a controller vector to the hardware
func (h *HTTPWrapper) Write(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeHandoff(w, r)
	if !ok {
		return
	}
	if err := h.coord.WriteUpdate(b.Token, b.U); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Status reports the handoff state and the holder's token
func (h *HTTPWrapper) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	doc := struct {
		State string `json:"state"`
		Token string `json:"token"`
	}{State: h.coord.State().String(), Token: h.coord.Token()}
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetVector returns the current actuator command vector as JSON
func (h *HTTPWrapper) GetVector(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.coord.ctl.U()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetSaturation reports whether the last update clipped any actuator
func (h *HTTPWrapper) GetSaturation(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.coord.ctl.Saturated()}
	hp.EncodeAndRespond(w, r)
}

// single is used to decode single actuator commands over JSON
type single struct {
	Idx   int     `json:"idx"`
	Value float64 `json:"value"`
}

// SetActuator commands one actuator and reflects the edit into the panel
func (h *HTTPWrapper) SetActuator(w http.ResponseWriter, r *http.Request) {
	s := single{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.coord.SetActuator(s.Idx, s.Value); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetFlat reports whether the flat pattern is applied
func (h *HTTPWrapper) GetFlat(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.coord.ctl.FlatEnabled()}
	hp.EncodeAndRespond(w, r)
}

// SetFlat toggles the flat pattern
func (h *HTTPWrapper) SetFlat(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.coord.SetFlat(b.Bool); err != nil {
		controlError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetStrategies lists the registered strategy names
func (h *HTTPWrapper) GetStrategies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.store.Names()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetStrategy returns the active strategy name
func (h *HTTPWrapper) GetStrategy(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.store.Active()}
	hp.EncodeAndRespond(w, r)
}

// SetStrategy switches the active strategy; the previous strategy's option
// values stay in the store
func (h *HTTPWrapper) SetStrategy(w http.ResponseWriter, r *http.Request) {
	s := server.StrT{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.store.Select(s.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetOptions returns the option values of a strategy as the editor displays
// them, keyed by option name
func (h *HTTPWrapper) GetOptions(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "strategy")
	_, vals, err := h.store.Options(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		out[k] = v.String()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetOption parses raw text into one option value.  A rejected edit returns
// 400 with the validation message; the stored value is unchanged.
func (h *HTTPWrapper) SetOption(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "strategy")
	key := pat.Param(r, "key")
	s := server.StrT{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.store.SetOption(name, key, s.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Run acquires the vector, drives the active strategy to completion in the
// background, and releases.  The acquisition token is "strategy/" plus the
// strategy name; a conflicting acquisition rejects the run up front.
func (h *HTTPWrapper) Run(w http.ResponseWriter, r *http.Request) {
	name := h.store.Active()
	ctrl, err := h.coord.InstanceController(name, h.store)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g, err := h.coord.Acquire("strategy/" + name)
	if err != nil {
		controlError(w, err)
		return
	}
	go func() {
		if err := ctrl.Run(context.Background(), g); err != nil {
			h.coord.log.Printf("strategy %q: %v", name, err)
		}
		if err := g.Release(nil); err != nil {
			h.coord.log.Printf("strategy %q release: %v", name, err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}
