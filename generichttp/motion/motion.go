// Package motion provides an HTTP interface to the scan stage
package motion

/*
The stage interface is small, but drivers may implement a few optional
methods beyond it (a step counter, releasing the driver).  Routes for those
are only bound when the driver has them.
*/
import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hsilab/pushbroom/generichttp"
	"github.com/hsilab/pushbroom/motion"
)

// MaxJog is the largest number of steps a single POST /stage/step may request
const MaxJog = 100000

var errBadJog = errors.New("step count must be between 1 and MaxJog")

// Counter is a stage which counts the steps it has taken
type Counter interface {
	Steps() int
}

// Releaser is a stage which can disable its driver
type Releaser interface {
	Release() error
}

// InitRequest is the body of POST /stage/initialize, e.g. {"direction": 1, "mode": "half"}
type InitRequest struct {
	Direction motion.Direction `json:"direction"`
	Mode      motion.Mode      `json:"mode"`
}

// HTTPStage wraps a stepper in an HTTP interface
type HTTPStage struct {
	Stage motion.Stepper

	RouteTable generichttp.RouteTable
}

// NewHTTPStage returns a new HTTP wrapper with routes bound for every
// interface the stage implements
func NewHTTPStage(s motion.Stepper) HTTPStage {
	w := HTTPStage{Stage: s}
	rt := generichttp.RouteTable{}
	HTTPStepper(s, rt)
	if counter, ok := interface{}(s).(Counter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stage/steps"}] = generichttp.GetInt(func() (int, error) {
			return counter.Steps(), nil
		})
	}
	if releaser, ok := interface{}(s).(Releaser); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stage/release"}] = Release(releaser)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPStage) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPStepper adds routes for initializing and stepping the stage to the route table
func HTTPStepper(s motion.Stepper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stage/initialize"}] = Initialize(s)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stage/step"}] = Jog(s)
}

// Initialize returns an HTTP handler func that sets the direction and mode
func Initialize(s motion.Stepper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := InitRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = s.Initialize(req.Direction, req.Mode)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, motion.ErrInvalidDirection) || errors.Is(err, motion.ErrInvalidMode) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Jog returns an HTTP handler func that takes {"int": n} steps
func Jog(s motion.Stepper) http.HandlerFunc {
	return generichttp.SetInt(func(n int) error {
		if n < 1 || n > MaxJog {
			return fmt.Errorf("%w: %d", errBadJog, n)
		}
		for i := 0; i < n; i++ {
			if err := s.Step(); err != nil {
				return fmt.Errorf("step %d of %d: %w", i+1, n, err)
			}
		}
		return nil
	})
}

// Release returns an HTTP handler func that disables the driver
func Release(r Releaser) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := r.Release(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
