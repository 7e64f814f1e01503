package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/mcfx/squashelf/squash"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], afero.NewOsFs(), os.Stdout, os.Stderr))
}

// run returns the process exit status: 0 on success, 2 for usage errors and
// 1 for everything else.
func run(args []string, fs afero.Fs, stdout, stderr io.Writer) int {
	var cfg config
	app := newApp(&cfg).UsageWriter(stdout).ErrorWriter(stderr)

	exited := -1
	app.Terminate(func(code int) {
		if exited < 0 {
			exited = code
		}
	})
	_, err := app.Parse(args)
	if exited >= 0 {
		return exited
	}
	if err != nil {
		app.Errorf("%s, try --help", err)
		return 2
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(stderr))
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	res, err := squash.Run(fs, cfg.input, cfg.output, cfg.options(), logger)
	if err != nil {
		return checkError(stderr, err)
	}
	if cfg.verbose {
		printLayout(stderr, res)
	}
	return 0
}

func checkError(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	if squash.KindOf(err) == squash.KindUsage {
		return 2
	}
	return 1
}
