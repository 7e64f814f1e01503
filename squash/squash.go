// Package squash reduces an ELF image to its loadable segments, ordered by
// physical address and packed behind a fresh header and program header
// table.
package squash

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	elfx "github.com/mcfx/squashelf/elf"
)

// Run squashes the image at input into output. Nothing is created at output
// unless at least one segment is selected. A failure after the output was
// created leaves the partial file in place.
func Run(fs afero.Fs, input, output string, opts Options, logger log.Logger) (res *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	src, err := elfx.Open(fs, input)
	if err != nil {
		return nil, wrapf(KindSourceAccess, err, "open %s", input)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			err = appendErr(err, wrapf(KindSourceAccess, cerr, "close %s", input))
		}
	}()

	hdr := src.Header()
	segs := src.Segments()
	level.Debug(logger).Log("msg", "source image", "file", input, "class", hdr.Class, "machine", hdr.Machine, "entry", hex(hdr.Entry), "segments", len(segs))

	cands, err := Select(segs, opts, logger)
	if err != nil {
		return nil, err
	}
	Order(cands)
	for i, c := range cands {
		level.Debug(logger).Log("msg", "segment ordered", "position", i, "index", c.Index, "paddr", hex(c.Segment.Paddr))
	}

	dst, err := elfx.Create(fs, output, hdr, len(cands))
	if err != nil {
		return nil, wrapf(KindDestinationAccess, err, "create %s", output)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil {
			err = appendErr(err, wrapf(KindDestinationAccess, cerr, "close %s", output))
		}
	}()

	res, err = Emit(src, dst, cands, opts, logger)
	if err != nil {
		return nil, err
	}
	res.Header = hdr
	level.Debug(logger).Log("msg", "image written", "file", output, "segments", len(res.Placements), "sections", res.Sections, "size", humanize.IBytes(uint64(res.Size)))
	return res, nil
}

func appendErr(err, cerr error) error {
	if err == nil {
		return cerr
	}
	merr := multierror.Append(err, cerr)
	merr.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return merr
}
