// Command morph runs a deformation script and writes the original and
// deformed meshes as JSON.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/chazu/morph/pkg/engine"
	"github.com/chazu/morph/pkg/params"
)

type config struct {
	Script     string
	Output     string
	Params     string
	SaveParams string
	Preserve   bool
	Scale      float64
	Target     *float64
	Lattice    bool
	Verbose    bool
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("morph: ")

	cfg := parseFlags()
	if cfg.Script == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() *config {
	cfg := &config{}

	flag.StringVar(&cfg.Output, "o", "", "output JSON file (default stdout)")
	flag.StringVar(&cfg.Params, "params", "", "YAML lattice file replacing the script's lattice")
	flag.StringVar(&cfg.SaveParams, "save-params", "", "write the final lattice as YAML to this file")
	flag.BoolVar(&cfg.Preserve, "preserve", false, "correct the lattice to keep the mesh volume")
	flag.Float64Var(&cfg.Scale, "scale", 1, "with -preserve: target volume as a multiple of the original")
	target := flag.Float64("target", 0, "with -preserve: absolute target volume (overrides -scale)")
	flag.BoolVar(&cfg.Lattice, "lattice", false, "include control point markers in the output")
	flag.BoolVar(&cfg.Verbose, "v", false, "log each correction pass")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: morph [flags] <script>\n\nflags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nexamples:\n")
		fmt.Fprintf(os.Stderr, "  morph -o out.json examples/bulge.morph\n")
		fmt.Fprintf(os.Stderr, "  morph -params lattice.yaml -preserve -scale 1.2 examples/bulge.morph\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "target" {
			cfg.Target = target
		}
	})

	if flag.NArg() > 0 {
		cfg.Script = flag.Arg(0)
	}
	return cfg
}

func run(cfg *config) error {
	source, err := os.ReadFile(cfg.Script)
	if err != nil {
		return err
	}

	app := NewApp()
	app.ShowLattice = cfg.Lattice
	if cfg.Verbose {
		app.Logger = log.Default()
	}
	if cfg.Params != "" {
		p, err := params.Load(cfg.Params)
		if err != nil {
			return err
		}
		app.Params = p
	}
	if cfg.Preserve {
		vc := engine.DefaultVolumeConstraint()
		vc.Scale = cfg.Scale
		vc.Target = cfg.Target
		app.Volume = vc
	}

	result := app.Evaluate(string(source))
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			if e.Line > 0 {
				log.Printf("%s:%d: %s", cfg.Script, e.Line, e.Message)
			} else {
				log.Printf("%s: %s", cfg.Script, e.Message)
			}
		}
		return errors.New("evaluation failed")
	}
	if result.Volume != nil {
		log.Printf("volume %g -> %g", result.Volume.Initial, result.Volume.Final)
	}

	if cfg.SaveParams != "" && result.Params != nil {
		if err := writeFile(cfg.SaveParams, func(w io.Writer) error {
			return params.Encode(w, result.Params)
		}); err != nil {
			return err
		}
	}

	write := func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if cfg.Output == "" {
		return write(os.Stdout)
	}
	return writeFile(cfg.Output, write)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
