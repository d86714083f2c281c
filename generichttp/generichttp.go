// Package generichttp defines the route table used to expose devices over
// HTTP and handler generators for getters and setters of basic types
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"

	"github.com/hsilab/pushbroom/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps methods and paths to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the paths in the table, sorted and without duplicates
func (rt RouteTable) Endpoints() []string {
	seen := map[string]struct{}{}
	routes := make([]string, 0, len(rt))
	for k := range rt {
		if _, ok := seen[k.Path]; ok {
			continue
		}
		seen[k.Path] = struct{}{}
		routes = append(routes, k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind adds every route in the table to the router
func (rt RouteTable) Bind(r chi.Router) {
	for k, v := range rt {
		r.MethodFunc(k.Method, k.Path, v)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		server.ReplyJSON(w, rt.Endpoints())
	})
}

// HTTPer is anything with a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts a URL like "hsi/scanner" to "/hsi/scanner"
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(strings.TrimSuffix(str, "*"), "/")
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	return str
}

// decode reads the JSON request body into v, replying 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// reply writes err as a 500, or 200 with an empty body if it is nil
func reply(w http.ResponseWriter, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		server.HumanPayload{T: types.Float64, Float: f}.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.FloatT{}
		if decode(w, r, &f) {
			reply(w, fcn(f.F64))
		}
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		server.HumanPayload{T: types.Int, Int: i}.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := server.IntT{}
		if decode(w, r, &i) {
			reply(w, fcn(i.Int))
		}
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		server.HumanPayload{T: types.Bool, Bool: b}.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		if decode(w, r, &b) {
			reply(w, fcn(b.Bool))
		}
	}
}
