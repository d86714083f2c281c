package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/cubeio"
	camhttp "github.com/hsilab/pushbroom/generichttp/camera"
	motionhttp "github.com/hsilab/pushbroom/generichttp/motion"
	"github.com/hsilab/pushbroom/generichttp/scanner"
	"github.com/hsilab/pushbroom/hsi"
	"github.com/hsilab/pushbroom/scan"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "hsiscan.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconf() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `hsiscan drives a push-broom hyperspectral scanner: a line camera captures
one slice of the scene per step of a stepper stage, and the slices are
assembled into a cube of scan step x spatial x spectral channel.

Usage:
	hsiscan <command>

Commands:
	run
	scan
	assemble <folder>
	camsrv
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `hsiscan is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used, which scan a simulated
scene with a mock stage.  Keys are not case-sensitive.  The command mkconf generates
the configuration file with the default values.

run serves the scanner over HTTP at Scan.Endpoint.  POST /scan starts a scan,
GET /scan/status follows it, and GET /cube and /cube/rgb download the result.
Every other route returns 423 Locked while a scan is running.

scan performs one scan with the Scan settings and exits.  Raw frames are written
to Scan.Destination as <Recorder.Prefix><n>.<Recorder.Format>, the scan log to
<Scan.Destination>_log.txt, and when HSI.Assemble is true the cube to
<Scan.Destination>.<HSI.CubeFormat>.  Interrupt with ctrl-C to stop early; frames
already captured are still written.

assemble rebuilds a cube from a folder of recorded frames.  If the scan log is
beside the folder, its step count is used to size the cube.

camsrv serves the configured camera alone at Camera.Endpoint, for use by a scanner
on another machine with Camera.Type: http.

The crop window is in sensor pixels.  The slit images on row HSI.Crop.GapCoord, the
spectrum begins RangeToSpectrum rows later and is RangeToEndSpectrum rows tall.
LeftBound and RightBound are the columns along the slit.

HSI.Reference, if set, is a .fits or .mat cube of a uniform target.  Row
HSI.ReferenceRow through it, divided by HSI.Threshold, flat-fields every layer.

Scan.Mode is one of full, half, micro2, micro4.  Scan.Direction is 0 or 1.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("hsiscan version %v\n", Version)
}

func release(s interface{}) {
	if r, ok := s.(motionhttp.Releaser); ok {
		if err := r.Release(); err != nil {
			log.Printf("releasing stage: %v", err)
		}
	}
}

func run() {
	c := loadconf()
	defaults, err := c.Scan.Settings()
	if err != nil {
		log.Fatal(err)
	}
	co, err := c.NewCoordinator()
	if err != nil {
		log.Fatal(err)
	}
	var nb scanner.BuilderFactory
	if c.HSI.Assemble {
		nb = c.NewBuilder
	}
	sc, err := scanner.NewHTTPScanner(co, defaults, nb)
	if err != nil {
		log.Fatal(err)
	}
	sc.CubeKey = c.HSI.CubeKey
	sc.Finished = func(res scan.Result, cube *hsi.Cube) {
		release(co.Stage)
		if err := c.SaveScan(res, cube); err != nil {
			log.Printf("scan %s: saving: %v", res.ID, err)
		}
	}
	mux := BuildMux(c, sc)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"}})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func runscan() {
	c := loadconf()
	s, err := c.Scan.Settings()
	if err != nil {
		log.Fatal(err)
	}
	co, err := c.NewCoordinator()
	if err != nil {
		log.Fatal(err)
	}
	var b *hsi.Builder
	if c.HSI.Assemble {
		b, err = c.NewBuilder(s.Steps)
		if err != nil {
			log.Fatal(err)
		}
		co.Builder = b
	}

	spin := spinner(fmt.Sprintf("step 0 of %d", s.Steps))
	co.Progress = func(step, total int) {
		spin.Message(fmt.Sprintf("step %d of %d", step, total))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spin.Start()
	res, err := co.Run(ctx, s)
	release(co.Stage)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
	} else {
		spin.StopMessage(res.Status())
		spin.Stop()
	}

	var cube *hsi.Cube
	if b != nil && res.Complete() {
		cube = b.Cube()
	}
	if serr := c.SaveScan(res, cube); serr != nil {
		log.Fatal(serr)
	}
	if cube != nil {
		fmt.Println("cube written to", c.CubePath(res.Destination))
	}
	if err != nil {
		os.Exit(1)
	}
}

// assemble builds a cube offline from the frames recorded in dir
func assemble(dir string) {
	c := loadconf()
	p, err := camera.NewPlayback(dir, c.Recorder.Prefix)
	if err != nil {
		log.Fatal(err)
	}
	if p.Len() == 0 {
		log.Fatalf("no frames with prefix %q in %s", c.Recorder.Prefix, dir)
	}
	steps := p.Len()
	if fid, err := os.Open(scan.LogPath(dir)); err == nil {
		s, err := scan.ReadLog(fid)
		fid.Close()
		if err != nil {
			log.Printf("ignoring scan log: %v", err)
		} else if s.Steps > 0 && s.Steps < steps {
			steps = s.Steps
		}
	}
	b, err := c.NewBuilder(steps)
	if err != nil {
		log.Fatal(err)
	}
	spin := spinner(fmt.Sprintf("frame 0 of %d", steps))
	spin.Start()
	for i := 0; i < steps; i++ {
		f, err := p.Capture()
		if err == nil {
			err = b.Append(f, i)
		}
		if err != nil {
			spin.StopFailMessage(fmt.Sprintf("frame %d: %v", i, err))
			spin.StopFail()
			os.Exit(1)
		}
		spin.Message(fmt.Sprintf("frame %d of %d", i+1, steps))
	}
	spin.StopMessage(fmt.Sprintf("%d frames", steps))
	spin.Stop()

	out := c.CubePath(dir)
	if err := cubeio.Save(out, b.Cube(), c.HSI.CubeKey); err != nil {
		log.Fatal(err)
	}
	fmt.Println("cube written to", out)
	if rgb, err := b.ToRGB(); err == nil {
		fn := strings.TrimSuffix(out, filepath.Ext(out)) + "_rgb.png"
		if err := savePNG(fn, rgb); err != nil {
			log.Printf("rgb preview: %v", err)
		}
	}
}

func savePNG(fn string, rgb *hsi.Cube) error {
	fid, err := os.Create(fn)
	if err != nil {
		return err
	}
	err = cubeio.EncodeRGBPNG(fid, rgb)
	return errors.Join(err, fid.Close())
}

func camsrv() {
	c := loadconf()
	src, err := c.NewCamera()
	if err != nil {
		log.Fatal(err)
	}
	s, err := c.Scan.Settings()
	if err != nil {
		log.Fatal(err)
	}
	rec, err := c.NewRecorder()
	if err != nil {
		log.Fatal(err)
	}
	if rec != nil {
		if err := rec.Prepare(""); err != nil {
			log.Fatal(err)
		}
	}
	cam, err := camhttp.NewHTTPCamera(src, s.Exposure, s.Gain, rec)
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildCameraMux(c, cam)
	log.Println("now serving the camera at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "scan":
		runscan()
		return
	case "assemble":
		if len(args) < 3 {
			log.Fatal("usage: hsiscan assemble <folder>")
		}
		assemble(args[2])
		return
	case "camsrv":
		camsrv()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
