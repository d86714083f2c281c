package scanner

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/cubeio"
	"github.com/hsilab/pushbroom/hsi"
	"github.com/hsilab/pushbroom/motion"
	"github.com/hsilab/pushbroom/scan"
	"github.com/hsilab/pushbroom/server"
)

func setup(t *testing.T, readout time.Duration) (*HTTPScanner, *httptest.Server) {
	sim := camera.NewSimulator(40, 60)
	sim.Readout = readout
	co := scan.NewCoordinator(sim, motion.NewMockStepper(0), nil, nil)
	cfg := hsi.Config{
		Crop:  hsi.CropWindow{GapCoord: 6, RangeToSpectrum: 3, RangeToEndSpectrum: 30, LeftBound: 0, RightBound: 40},
		Red:   20,
		Green: 10,
		Blue:  5}
	nb := func(steps int) (*hsi.Builder, error) {
		return hsi.NewBuilder(cfg, hsi.Preallocated(steps))
	}
	defaults := scan.Settings{Steps: 3, Exposure: time.Millisecond, Mode: motion.Full}
	w, err := NewHTTPScanner(co, defaults, nb)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Use(w.Lock.Check)
	w.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		w.Wait()
		srv.Close()
	})
	return w, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func getBody(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := &bytes.Buffer{}
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func TestScanOverHTTP(t *testing.T) {
	w, srv := setup(t, 0)
	resp := post(t, srv.URL+"/scan", `{"steps": 4, "mode": "half", "gain": 1}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	w.Wait()

	code, body := getBody(t, srv.URL+"/scan/result")
	require.Equal(t, http.StatusOK, code)
	var rep struct {
		Complete  bool   `json:"complete"`
		Completed int    `json:"completed"`
		HasCube   bool   `json:"hasCube"`
		ID        string `json:"id"`
		Settings  struct {
			Mode string `json:"mode"`
			Gain int    `json:"gain"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.True(t, rep.Complete)
	assert.Equal(t, 4, rep.Completed)
	assert.True(t, rep.HasCube)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "half", rep.Settings.Mode)
	assert.Equal(t, 1, rep.Settings.Gain)

	code, body = getBody(t, srv.URL+"/scan/status")
	require.Equal(t, http.StatusOK, code)
	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, Status{Running: false, Step: 4, Total: 4}, st)

	code, body = getBody(t, srv.URL+"/cube?fmt=fits")
	require.Equal(t, http.StatusOK, code)
	cube, err := cubeio.ReadFITS(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 40, 30}, cube.Shape())

	code, body = getBody(t, srv.URL+"/cube?fmt=mat")
	require.Equal(t, http.StatusOK, code)
	mcube, err := cubeio.ReadMAT(bytes.NewReader(body), cubeio.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, cube.Data, mcube.Data)

	code, body = getBody(t, srv.URL+"/cube/rgb")
	require.Equal(t, http.StatusOK, code)
	im, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 40, im.Bounds().Dx())
	assert.Equal(t, 4, im.Bounds().Dy())

	code, _ = getBody(t, srv.URL+"/cube?fmt=npy")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRoutesLockedDuringScan(t *testing.T) {
	w, srv := setup(t, 20*time.Millisecond)
	require.Equal(t, http.StatusAccepted, post(t, srv.URL+"/scan", `{"steps": 10}`).StatusCode)

	assert.Equal(t, http.StatusLocked, post(t, srv.URL+"/scan", `{"steps": 2}`).StatusCode)
	assert.Equal(t, http.StatusLocked, post(t, srv.URL+"/exposure-time", `{"f64": 0.01}`).StatusCode)
	code, _ := getBody(t, srv.URL+"/image")
	assert.Equal(t, http.StatusLocked, code)
	assert.ErrorIs(t, w.Start(scan.Settings{Steps: 1}), scan.ErrBusy)

	code, body := getBody(t, srv.URL+"/scan/status")
	require.Equal(t, http.StatusOK, code)
	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Running)
	assert.Equal(t, 10, st.Total)

	code, body = getBody(t, srv.URL+"/lock")
	require.Equal(t, http.StatusOK, code)
	var locked server.BoolT
	require.NoError(t, json.Unmarshal(body, &locked))
	assert.True(t, locked.Bool)

	w.Wait()
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/exposure-time", `{"f64": 0.01}`).StatusCode)
	code, body = getBody(t, srv.URL+"/exposure-time")
	require.Equal(t, http.StatusOK, code)
	var exp server.FloatT
	require.NoError(t, json.Unmarshal(body, &exp))
	assert.Equal(t, 0.01, exp.F64)
}

func TestBadScanRequests(t *testing.T) {
	_, srv := setup(t, 0)
	for _, body := range []string{
		`{"steps": 0}`,
		`{"mode": "quarter"}`,
		`{"direction": 3}`,
		`{"stepz": 3}`,
		`not json`,
	} {
		assert.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/scan", body).StatusCode, body)
	}
}

func TestNothingBeforeFirstScan(t *testing.T) {
	_, srv := setup(t, 0)
	for _, route := range []string{"/scan/result", "/cube", "/cube/rgb"} {
		code, _ := getBody(t, srv.URL+route)
		assert.Equal(t, http.StatusNotFound, code, route)
	}
}

func TestPreviewImage(t *testing.T) {
	_, srv := setup(t, 0)
	code, body := getBody(t, srv.URL+"/image")
	require.Equal(t, http.StatusOK, code)
	im, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 40, im.Bounds().Dx())
	assert.Equal(t, 60, im.Bounds().Dy())

	code, body = getBody(t, srv.URL+"/image?fmt=fits")
	require.Equal(t, http.StatusOK, code)
	f, err := camera.ReadFITS(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 40, f.Width)

	code, _ = getBody(t, srv.URL+"/image?fmt=tiff")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEndpointsListed(t *testing.T) {
	_, srv := setup(t, 0)
	code, body := getBody(t, srv.URL+"/endpoints")
	require.Equal(t, http.StatusOK, code)
	var routes []string
	require.NoError(t, json.Unmarshal(body, &routes))
	assert.Contains(t, routes, "/scan")
	assert.Contains(t, routes, "/lock")
	assert.Contains(t, routes, "/cube/rgb")
}

func TestFinishedSeesEveryScan(t *testing.T) {
	w, _ := setup(t, 0)
	var (
		got  []scan.Result
		cube *hsi.Cube
	)
	w.Finished = func(res scan.Result, c *hsi.Cube) {
		got = append(got, res)
		cube = c
	}
	s := w.Defaults()
	s.Steps = 2
	require.NoError(t, w.Start(s))
	w.Wait()
	require.Len(t, got, 1)
	assert.True(t, got[0].Complete())
	require.NotNil(t, cube)
	assert.Equal(t, [3]int{2, 40, 30}, cube.Shape())

	assert.Equal(t, "SCANID", Cards(got[0])[0].Name)
	assert.Equal(t, got[0].ID.String(), Cards(got[0])[0].Value)
}
