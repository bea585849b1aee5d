package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	"goji.io"
	"goji.io/pat"
	yml "gopkg.in/yaml.v2"

	"github.com/opticslab/zpanel/calibration"
	"github.com/opticslab/zpanel/control"
	"github.com/opticslab/zpanel/dm"
	"github.com/opticslab/zpanel/options"
	"github.com/opticslab/zpanel/panel"
	"github.com/opticslab/zpanel/params"
	"github.com/opticslab/zpanel/server/middleware/locker"
	"github.com/opticslab/zpanel/zernike"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "zpanelsrv.yml"
	k              = koanf.New(".")
)

// MirrorConfig selects and addresses the deformable mirror
type MirrorConfig struct {
	// Kind is "sim" or "serial"
	Kind string `koanf:"kind"`

	// Addr is the drive electronics address: a device path for RS-232 or
	// host:port for TCP.  Unused for the simulator.
	Addr string `koanf:"addr"`

	// SerialPort is true for RS-232, false for TCP
	SerialPort bool `koanf:"serialport"`

	// WriteHz caps the hardware update rate; zero means uncapped
	WriteHz float64 `koanf:"writehz"`
}

// Config is the top-level server configuration
type Config struct {
	// Addr is the listen address
	Addr string `koanf:"addr"`

	// Calibration is the path of the calibration FITS file
	Calibration string `koanf:"calibration"`

	// Params is the path of the session parameter JSON file
	Params string `koanf:"params"`

	// BlankParams skips loading the parameter file at startup
	BlankParams bool `koanf:"blankparams"`

	Mirror MirrorConfig `koanf:"mirror"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:        ":8002",
		Calibration: "calibration.fits",
		Params:      "zpanel-params.json",
		Mirror:      MirrorConfig{Kind: "sim"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `zpanelsrv drives a deformable mirror from Zernike coefficients and exposes
the panel over HTTP.  An external controller can acquire the command vector,
drive it, and release it; the interactive routes return 423 in between.

Usage:
	zpanelsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `zpanelsrv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

The calibration file is FITS with three float64 image extensions (the forward
map, its least-squares inverse, and the flat pattern) and is required; the
server exits with an error without it.

Mirror kinds and matching "kind" fields, case insensitive:
- Simulator
	> in-memory mirror for bring-up, "sim"
- Serial drive electronics
	> framed CRC protocol over RS-232 or TCP, "serial"

The parameter file stores the active strategy, its option values, the mode
labels, and the shown mode count.  It is loaded at startup unless blankparams
is set, and saved at shutdown.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
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
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("zpanelsrv version %v\n", Version)
}

func spinner(suffix string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + suffix,
		SuffixAutoColon: true,
		StopCharacter:   "done",
		StopFailMessage: "failed",
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// openMirror connects to the configured mirror, sized against the
// calibration for the simulator
func openMirror(c MirrorConfig, calib *calibration.Calibration) (dm.DM, error) {
	var dev dm.DM
	switch strings.ToLower(c.Kind) {
	case "sim", "":
		dev = dm.NewSim(calib.Nu(), "simulated-"+calib.Serial)
	case "serial":
		s, err := dm.Open(c.Addr, c.SerialPort)
		if err != nil {
			return nil, err
		}
		dev = s
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", c.Kind)
	}
	if c.WriteHz > 0 {
		dev = dm.Limit(dev, c.WriteHz)
	}
	return dev, nil
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}

	sp := spinner("loading calibration " + c.Calibration)
	sp.Start()
	calib, err := calibration.Load(c.Calibration)
	if err != nil {
		sp.StopFail()
		log.Fatalf("calibration: %v", err)
	}
	sp.Stop()

	sp = spinner("connecting to mirror")
	sp.Start()
	dev, err := openMirror(c.Mirror, calib)
	if err != nil {
		sp.StopFail()
		log.Fatalf("mirror: %v", err)
	}
	sp.Stop()
	log.Printf("mirror %s online with %d actuators", dev.SerialNumber(), dev.Actuators())

	var doc *params.Document
	if !c.BlankParams {
		doc, err = params.Load(c.Params)
		if err != nil {
			log.Printf("params: %v; starting from defaults", err)
			doc = nil
		}
	}

	basis, err := zernike.New(calib.RadialOrder)
	if err != nil {
		log.Fatalf("basis: %v", err)
	}
	if basis.Nk() != calib.Nk() {
		log.Fatalf("calibration has %d modes, radial order %d implies %d",
			calib.Nk(), calib.RadialOrder, basis.Nk())
	}

	flatOn := false
	if doc != nil {
		flatOn = doc.ZernikeControl.FlatOn
	}
	ctl, err := control.NewZernikeControl(dev, calib, flatOn)
	if err != nil {
		log.Fatalf("control: %v", err)
	}

	var coord *control.Coordinator
	pnl, err := panel.New(basis, calib.Wavelength, nil, func(z []float64) {
		if coord == nil {
			return
		}
		if err := coord.PanelWrite(z); err != nil {
			log.Printf("panel write: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("panel: %v", err)
	}
	coord = control.NewCoordinator(ctl, pnl, log.Default())

	store, err := options.NewStore(control.Schemas())
	if err != nil {
		log.Fatalf("options: %v", err)
	}
	if doc != nil {
		for _, err := range params.Apply(doc, store, pnl) {
			log.Printf("params: %v", err)
		}
	}

	pnlWrap := panel.NewHTTPWrapper(pnl)
	ctlWrap := control.NewHTTPWrapper(coord, store)
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect,
		"handoff", "saturation", "vector", "stats", "coefficients", "phase.fits")
	locker.Inject(ctlWrap, lock)
	coord.RegisterSurface(lock)

	mainMux := goji.NewMux()
	mainMux.Use(lock.Check)
	panelSub := goji.SubMux()
	pnlWrap.RT().Bind(panelSub)
	ctlSub := goji.SubMux()
	ctlWrap.RT().Bind(ctlSub)
	// specific routes first; goji tries patterns in registration order
	mainMux.HandleFunc(pat.Get("/panel/endpoints"), pnlWrap.RT().EndpointsHandler)
	mainMux.HandleFunc(pat.Get("/control/endpoints"), ctlWrap.RT().EndpointsHandler)
	mainMux.Handle(pat.New("/panel/*"), panelSub)
	mainMux.Handle(pat.New("/control/*"), ctlSub)

	saveParams := func() error {
		d, err := params.Capture(c.Calibration, store, pnl, ctl.FlatEnabled())
		if err != nil {
			return err
		}
		return d.Save(c.Params)
	}
	mainMux.HandleFunc(pat.Post("/params/save"), func(w http.ResponseWriter, r *http.Request) {
		if err := saveParams(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mainMux.HandleFunc(pat.Post("/params/load"), func(w http.ResponseWriter, r *http.Request) {
		d, err := params.Load(c.Params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msgs := []string{}
		for _, err := range params.Apply(d, store, pnl) {
			msgs = append(msgs, err.Error())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msgs)
	})

	rootR := chi.NewRouter()
	rootR.Use(middleware.Logger)
	rootR.Mount("/", mainMux)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		if !coord.CloseRequested() {
			log.Println("a controller holds the command vector; waiting for release (interrupt again to force)")
			select {
			case <-coord.Closing():
			case <-ch:
				log.Println("forcing exit while acquired")
			}
		}
		if err := saveParams(); err != nil {
			log.Printf("saving params: %v", err)
		}
		if err := dev.Close(); err != nil {
			log.Printf("closing mirror: %v", err)
		}
		os.Exit(0)
	}()

	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, rootR))
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
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
