// Package server contains the HTTP plumbing shared by the wrappers: route
// tables keyed by Goji patterns and typed single-value JSON payloads.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"

	"goji.io"
)

// RouteTable maps Goji patterns to HTTP handlers
type RouteTable map[goji.Pattern]http.HandlerFunc

// Bind attaches every route in the table to a mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.HandleFunc(p, h)
	}
}

// Endpoints returns the route patterns in the table, sorted
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for p := range rt {
		out = append(out, fmt.Sprint(p))
	}
	sort.Strings(out)
	return out
}

// EndpointsHandler replies with the route list as JSON
func (rt RouteTable) EndpointsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPer is an object exposing a route table
type HTTPer interface {
	RT() RouteTable
}

// FloatT is a struct with a single float64 field, used for JSON IO
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, used for JSON IO
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single bool field, used for JSON IO
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string field, used for JSON IO
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a single value to be returned to the client, tagged with
// its basic kind so the encoder knows which field is live
type HumanPayload struct {
	// T is the type of the payload
	T types.BasicKind

	// Bool holds the value if T is types.Bool
	Bool bool

	// Int holds the value if T is types.Int
	Int int

	// Float holds the value if T is types.Float64
	Float float64

	// String holds the value if T is types.String
	String string
}

// EncodeAndRespond writes the payload to w as a single-field JSON object
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		http.Error(w, fmt.Sprintf("unsupported payload kind %v", hp.T), http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("error encoding payload, %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
