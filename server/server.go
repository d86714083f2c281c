// Package server contains the JSON payload types shared by the HTTP interfaces.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
)

// HumanPayload is a struct containing the basic types a handler may reply with.
// T selects which field is encoded.
type HumanPayload struct {
	// T is the type of the payload
	T types.BasicKind

	// Bool holds a boolean
	Bool bool

	// Float holds a float64
	Float float64

	// Int holds an int
	Int int

	// String holds a string
	String string
}

// EncodeAndRespond writes the payload as JSON, {"f64": 1.5}, {"int": 2},
// {"str": "s"}, or {"bool": true}
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("payload type %v not encodable", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// BoolT holds a boolean, {"bool": true}
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT holds a float, {"f64": 1.5}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT holds an int, {"int": 2}
type IntT struct {
	Int int `json:"int"`
}

// StrT holds a string, {"str": "s"}
type StrT struct {
	Str string `json:"str"`
}

// ReplyJSON encodes v as the response body
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
