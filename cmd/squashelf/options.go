package main

import (
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mcfx/squashelf/squash"
)

type config struct {
	input    string
	output   string
	verbose  bool
	zeroSize bool
	noSHT    bool
	rng      rangeValue
}

func (c *config) options() squash.Options {
	return squash.Options{
		Range:            c.rng.r,
		AdmitZeroSize:    c.zeroSize,
		OmitSectionTable: c.noSHT,
	}
}

// rangeValue is a kingpin.Value for --range.
type rangeValue struct {
	r *squash.AddrRange
}

func (v *rangeValue) Set(s string) error {
	r, err := squash.ParseRange(s)
	if err != nil {
		return err
	}
	v.r = &r
	return nil
}

func (v *rangeValue) String() string {
	if v.r == nil {
		return ""
	}
	return v.r.String()
}

func newApp(cfg *config) *kingpin.Application {
	app := kingpin.New("squashelf", "Reduce an ELF image to its loadable segments, ordered by physical address and packed.")
	app.Version(version)
	app.HelpFlag.Short('h')
	app.Flag("nosht", "Do not emit a section header table.").Short('n').BoolVar(&cfg.noSHT)
	app.Flag("range", "Keep only segments whose physical extent lies inside MIN-MAX (inclusive; 0x prefix for hex).").
		Short('r').PlaceHolder("MIN-MAX").SetValue(&cfg.rng)
	app.Flag("verbose", "Log every selection and placement decision.").Short('v').BoolVar(&cfg.verbose)
	app.Flag("zero-size-segments", "Keep LOAD segments that have no file bytes.").Short('z').BoolVar(&cfg.zeroSize)
	app.Arg("input", "Source ELF image.").Required().StringVar(&cfg.input)
	app.Arg("output", "Destination ELF image.").Required().StringVar(&cfg.output)
	return app
}
