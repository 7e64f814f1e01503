package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/mcfx/squashelf/squash"
)

func printLayout(out io.Writer, res *squash.Result) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Src", "Paddr", "Vaddr", "Offset", "FileSize", "MemSize", "Align", "Flags"})
	for i, p := range res.Placements {
		seg := p.Segment
		size := humanize.IBytes(seg.FileSize)
		if p.Short {
			size += " (short)"
		}
		table.Append([]string{
			fmt.Sprint(i),
			fmt.Sprint(p.Index),
			fmt.Sprintf("%#x", seg.Paddr),
			fmt.Sprintf("%#x", seg.Vaddr),
			fmt.Sprintf("%#x", seg.Offset),
			size,
			humanize.IBytes(seg.MemSize),
			fmt.Sprintf("%#x", seg.Align),
			seg.Flags.String(),
		})
	}
	table.Render()
	fmt.Fprintf(out, "%d segments, %d section headers, %s\n", len(res.Placements), res.Sections, humanize.IBytes(uint64(res.Size)))
}
