// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/internal/elfload"
	"github.com/jproney/MemoryCartography/scan"
)

func newOverviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "print a few overall statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			im, err := a.target(cmd.Context())
			if err != nil {
				return err
			}
			var mapped, captured int64
			for _, r := range im.Regions.Regions() {
				mapped += r.Size()
			}
			for _, s := range im.Segments {
				captured += int64(len(s.Data))
			}
			if a.format == "json" {
				return a.writeJSON(map[string]any{
					"arch":     im.Arch.String(),
					"regions":  im.Regions.Len(),
					"mapped":   mapped,
					"captured": captured,
					"symbols":  len(im.Symbols),
					"args":     im.Args,
				})
			}
			t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
			fmt.Fprintf(t, "arch\t%s\n", im.Arch)
			fmt.Fprintf(t, "regions\t%d\n", im.Regions.Len())
			fmt.Fprintf(t, "memory\t%.1f MB\n", float64(mapped)/(1<<20))
			fmt.Fprintf(t, "captured\t%.1f MB\n", float64(captured)/(1<<20))
			fmt.Fprintf(t, "symbols\t%d\n", len(im.Symbols))
			if im.Args != "" {
				fmt.Fprintf(t, "args\t%s\n", im.Args)
			}
			return t.Flush()
		},
	}
}

type mappingJSON struct {
	Start string    `json:"start"`
	End   string    `json:"end"`
	Perms string    `json:"perms"`
	Kind  core.Kind `json:"kind"`
	Name  string    `json:"name,omitempty"`
}

func newMappingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "print virtual memory mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			im, err := a.target(cmd.Context())
			if err != nil {
				return err
			}
			regions := im.Regions.Regions()
			if a.format == "json" {
				out := make([]mappingJSON, 0, len(regions))
				for _, r := range regions {
					out = append(out, mappingJSON{
						Start: r.Min.String(),
						End:   r.Max.String(),
						Perms: r.Perm.Short(),
						Kind:  r.Kind,
						Name:  r.Name,
					})
				}
				return a.writeJSON(out)
			}
			t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
			fmt.Fprintf(t, "min\tmax\tperm\tkind\tname\t\n")
			for _, r := range regions {
				fmt.Fprintf(t, "%x\t%x\t%s\t%s\t%s\t\n", uint64(r.Min), uint64(r.Max), r.Perm.Short(), r.Kind, r.Name)
			}
			return t.Flush()
		},
	}
}

// scanFlags override the configured scanner settings for one command.
type scanFlags struct {
	minConf string
	workers int
}

// AddFlags registers the overrides on flags.
func (sf *scanFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&sf.minConf, "min-confidence", "", "drop entries below this confidence (overrides the configuration)")
	flags.IntVar(&sf.workers, "workers", 0, "scan with this many goroutines (overrides the configuration)")
}

func newScanCmd(a *app) *cobra.Command {
	var (
		verdict string
		kind    string
		summary bool
		sf      scanFlags
	)
	cmd := &cobra.Command{
		Use:   "scan [region-name...]",
		Short: "classify every aligned word of the snapshot",
		Long: `Scan classifies every aligned pointer-sized word of the snapshot, or of
the named regions only, and prints the entries with the requested verdict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var preds []func(scan.Classification) bool
			if verdict != "any" {
				v, err := scan.ParseVerdict(verdict)
				if err != nil {
					return err
				}
				preds = append(preds, scan.WithVerdict(v))
			}
			if kind != "" {
				k, err := core.ParseKind(kind)
				if err != nil {
					return err
				}
				preds = append(preds, scan.InKind(k))
			}
			rep, err := a.scan(cmd, args, sf)
			if err != nil {
				return err
			}
			if summary {
				return a.printSummary(rep)
			}
			var entries []scan.Classification
			for c := range rep.EntriesWhere(scan.And(preds...)) {
				entries = append(entries, c)
			}
			if a.format == "json" {
				return a.writeJSON(scan.NewReport(entries))
			}
			im, _ := a.target(cmd.Context())
			t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
			fmt.Fprintf(t, "source\tsymbol\tvalue\tverdict\tconfidence\ttarget\n")
			for i := range entries {
				c := &entries[i]
				fmt.Fprintf(t, "%x\t%s\t%x\t%s\t%s\t%s\n", uint64(c.Source), symbolName(im, c.Source), c.Value, c.Verdict, c.Confidence, targetName(c))
			}
			return t.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&verdict, "verdict", "valid", "entries to print: valid, dangling, not-a-pointer or any")
	f.StringVar(&kind, "kind", "", "only print pointers into regions of this kind")
	sf.AddFlags(f)
	f.BoolVar(&summary, "summary", false, "print only the number of entries per verdict and the report digest")
	return cmd
}

// scan scans the segments whose names are in names, or all segments, and
// merges the results into one report.
func (a *app) scan(cmd *cobra.Command, names []string, sf scanFlags) (*scan.Report, error) {
	im, err := a.target(cmd.Context())
	if err != nil {
		return nil, err
	}
	sc := a.cfg.Scan
	if sf.minConf != "" {
		if _, err := scan.ParseConfidence(sf.minConf); err != nil {
			return nil, err
		}
		sc.MinConfidence = sf.minConf
	}
	if sf.workers > 0 {
		sc.Workers = sf.workers
	}
	scfg, err := sc.ScannerConfig(im.Arch)
	if err != nil {
		return nil, err
	}
	s, err := scan.NewScanner(scfg)
	if err != nil {
		return nil, err
	}

	segs := im.Segments
	if len(names) > 0 {
		segs = im.SegmentsNamed(names...)
		if len(segs) == 0 {
			return nil, fmt.Errorf("no captured region is named %q", names)
		}
	}
	a.log.Debug().Int("segments", len(segs)).Int("workers", scfg.Workers).Msg("scanning")
	reports, err := s.ScanSegments(cmd.Context(), segs, im.Regions)
	if err != nil {
		return nil, err
	}
	return scan.Merge(reports...), nil
}

func (a *app) printSummary(rep *scan.Report) error {
	counts := rep.Counts()
	digest := fmt.Sprintf("%016x", rep.Digest())
	if a.format == "json" {
		return a.writeJSON(struct {
			scan.Counts
			Digest string `json:"digest"`
		}{counts, digest})
	}
	t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "valid\t%d\t\n", counts.Valid)
	fmt.Fprintf(t, "dangling\t%d\t\n", counts.Dangling)
	fmt.Fprintf(t, "not-a-pointer\t%d\t\n", counts.NotAPointer)
	fmt.Fprintf(t, "total\t%d\t\n", counts.Total())
	fmt.Fprintf(t, "digest\t%s\t\n", digest)
	return t.Flush()
}

type graphEdgeJSON struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Pointers    int         `json:"pointers"`
	Edges       [][2]string `json:"edges"`
}

func newGraphCmd(a *app) *cobra.Command {
	var (
		dot  string
		scc  bool
		rank int
		to   string
		sf   scanFlags
	)
	cmd := &cobra.Command{
		Use:   "graph [region-name...]",
		Short: "print which regions point into which others",
		Long: `Graph prints which regions point into which others. With --scc it
prints the strongly connected components instead, with --rank the most
pointed-to addresses, and with --to the slots pointing at one address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rank < 0 {
				return fmt.Errorf("--rank must not be negative")
			}
			rep, err := a.scan(cmd, args, sf)
			if err != nil {
				return err
			}
			g := scan.BuildGraph(rep)
			if dot != "" {
				if err := writeDot(dot, g); err != nil {
					return err
				}
				fmt.Fprintf(a.stderr, "wrote the region graph to %q\n", dot)
			}
			switch {
			case scc:
				return a.printSCCs(g)
			case rank > 0:
				return a.printRanking(g, rank)
			case to != "":
				addr, err := parseAddress(to)
				if err != nil {
					return err
				}
				return a.printPointersTo(cmd, g, addr)
			}
			if a.format == "json" {
				out := []graphEdgeJSON{}
				for _, src := range g.Regions() {
					for _, d := range g.Outward(src.Min) {
						dst, _ := g.Region(d)
						e := graphEdgeJSON{
							Source:      src.String(),
							Destination: dst.String(),
						}
						for _, x := range g.Edges(src.Min, d) {
							e.Edges = append(e.Edges, [2]string{hexOffset(x.SrcOffset), hexOffset(x.DstOffset)})
						}
						e.Pointers = len(e.Edges)
						out = append(out, e)
					}
				}
				return a.writeJSON(out)
			}
			t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
			fmt.Fprintf(t, "source\tdestination\tpointers\n")
			for _, src := range g.Regions() {
				for _, d := range g.Outward(src.Min) {
					fmt.Fprintf(t, "%s\t%s\t%d\n", regionLabel(src), graphLabel(g, d), len(g.Edges(src.Min, d)))
				}
			}
			return t.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&dot, "dot", "", "also write the graph in Graphviz format to this file")
	f.BoolVar(&scc, "scc", false, "print the strongly connected components of the graph")
	f.IntVar(&rank, "rank", 0, "print the `n` most pointed-to addresses")
	f.StringVar(&to, "to", "", "print the slots holding a pointer to this `address`")
	cmd.MarkFlagsMutuallyExclusive("scc", "rank", "to")
	sf.AddFlags(f)
	return cmd
}

type sccJSON struct {
	Regions []string `json:"regions"`
	Reaches int      `json:"reaches"`
}

// printSCCs prints each strongly connected component together with the
// number of regions reachable from it.
func (a *app) printSCCs(g *scan.Graph) error {
	sccs := g.SCCs()
	if a.format == "json" {
		out := make([]sccJSON, 0, len(sccs))
		for _, comp := range sccs {
			c := sccJSON{Reaches: len(g.Reachable(comp[0]))}
			for _, r := range comp {
				c.Regions = append(c.Regions, graphLabel(g, r))
			}
			out = append(out, c)
		}
		return a.writeJSON(out)
	}
	t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "component\tsize\treaches\tregions\n")
	for i, comp := range sccs {
		labels := make([]string, 0, len(comp))
		for _, r := range comp {
			labels = append(labels, graphLabel(g, r))
		}
		fmt.Fprintf(t, "%d\t%d\t%d\t%s\n", i, len(comp), len(g.Reachable(comp[0])), strings.Join(labels, ", "))
	}
	return t.Flush()
}

type destinationJSON struct {
	Region  string `json:"region"`
	Offset  string `json:"offset"`
	Address string `json:"address"`
	Count   int    `json:"count"`
}

func (a *app) printRanking(g *scan.Graph, n int) error {
	ds := g.RankDestinations()
	ds = ds[:min(n, len(ds))]
	if a.format == "json" {
		out := make([]destinationJSON, 0, len(ds))
		for _, d := range ds {
			out = append(out, destinationJSON{
				Region:  graphLabel(g, d.Region),
				Offset:  hexOffset(d.Offset),
				Address: d.Region.Add(d.Offset).String(),
				Count:   d.Count,
			})
		}
		return a.writeJSON(out)
	}
	t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "address\tdestination\tpointers\n")
	for _, d := range ds {
		fmt.Fprintf(t, "%x\t%s+%#x\t%d\n", uint64(d.Region.Add(d.Offset)), graphLabel(g, d.Region), d.Offset, d.Count)
	}
	return t.Flush()
}

type slotJSON struct {
	Source string `json:"source"`
	Region string `json:"region"`
	Offset string `json:"offset"`
}

// printPointersTo prints the slots that point at addr.
func (a *app) printPointersTo(cmd *cobra.Command, g *scan.Graph, addr core.Address) error {
	im, err := a.target(cmd.Context())
	if err != nil {
		return err
	}
	dst, ok := im.Regions.Lookup(addr)
	if !ok {
		return fmt.Errorf("address %x is not mapped", uint64(addr))
	}
	slots := g.PointersTo(dst.Min, addr.Sub(dst.Min))
	if a.format == "json" {
		out := make([]slotJSON, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotJSON{
				Source: s.Region.Add(s.Offset).String(),
				Region: graphLabel(g, s.Region),
				Offset: hexOffset(s.Offset),
			})
		}
		return a.writeJSON(out)
	}
	t := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "source\tsymbol\tregion\n")
	for _, s := range slots {
		src := s.Region.Add(s.Offset)
		fmt.Fprintf(t, "%x\t%s\t%s+%#x\n", uint64(src), symbolName(im, src), graphLabel(g, s.Region), s.Offset)
	}
	return t.Flush()
}

func writeDot(path string, g *scan.Graph) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "digraph {\n")
	for _, r := range g.Regions() {
		label := fmt.Sprintf("%s\n%s %s", regionLabel(r), r.Kind, r.Perm.Short())
		fmt.Fprintf(w, "r%x [label=%s,shape=box]\n", uint64(r.Min), strconv.Quote(label))
	}
	for _, src := range g.Regions() {
		for _, d := range g.Outward(src.Min) {
			fmt.Fprintf(w, "r%x -> r%x [label=\"%d\"]\n", uint64(src.Min), uint64(d), len(g.Edges(src.Min, d)))
		}
	}
	fmt.Fprintf(w, "}\n")
	return w.Close()
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <addr> [n]",
		Short: "read a chunk of memory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			n := 256
			if len(args) > 1 {
				if n, err = strconv.Atoi(args[1]); err != nil || n < 0 {
					return fmt.Errorf("can't parse %s as a byte count", args[1])
				}
			}
			im, err := a.target(cmd.Context())
			if err != nil {
				return err
			}
			if !im.Regions.Readable(addr) {
				return fmt.Errorf("address %x not readable", uint64(addr))
			}
			b, err := im.Read(addr, n)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return a.writeJSON(map[string]string{
					"address": addr.String(),
					"data":    fmt.Sprintf("%x", b),
				})
			}
			hexdump(a.stdout, addr, b)
			return nil
		},
	}
}

func hexdump(w io.Writer, a core.Address, b []byte) {
	for i, x := range b {
		if i%16 == 0 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%x:", uint64(a.Add(int64(i))))
		}
		fmt.Fprintf(w, " %02x", x)
	}
	fmt.Fprintln(w)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// symbolName returns "name+off" for the data object containing a, if any.
func symbolName(im *elfload.Image, a core.Address) string {
	if im == nil {
		return "-"
	}
	s, off, ok := im.Symbolize(a)
	if !ok {
		return "-"
	}
	if off == 0 {
		return s.Name
	}
	return fmt.Sprintf("%s+%d", s.Name, off)
}

func targetName(c *scan.Classification) string {
	if c.Target == nil {
		return "-"
	}
	return fmt.Sprintf("%s+%#x", regionLabel(*c.Target), c.TargetOffset())
}

func regionLabel(r core.Region) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s@%x", r.Kind, uint64(r.Min))
}

// graphLabel labels the region of g starting at a.
func graphLabel(g *scan.Graph, a core.Address) string {
	r, ok := g.Region(a)
	if !ok {
		return a.String()
	}
	return regionLabel(r)
}

func hexOffset(off int64) string {
	return "0x" + strconv.FormatInt(off, 16)
}
