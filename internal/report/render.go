/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/vakt/internal/engine"
	"github.com/friendsincode/vakt/internal/instance"
)

// Output formats accepted by Render and the run report endpoint.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
)

var ErrUnknownFormat = errors.New("unknown report format")

// Render writes the result in the requested format.
func Render(w io.Writer, format string, inst *instance.Instance, res *engine.Result) error {
	switch format {
	case FormatText, "":
		return RenderText(w, Build(inst, res))
	case FormatJSON:
		return RenderJSON(w, Build(inst, res))
	case FormatYAML:
		return RenderYAML(w, Build(inst, res))
	case FormatCSV:
		return RenderGrid(w, inst, res.Assignments)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// RenderText writes a plain-text summary for the CLI.
func RenderText(w io.Writer, s *Summary) error {
	verdict := "complete"
	if !s.Complete {
		verdict = "incomplete"
	}
	fmt.Fprintf(w, "roster %s: %d assignments, %d requirements (%d filled), %d checks in %s\n",
		verdict, s.Assignments, s.Stats.Requirements, s.Stats.Filled, s.Stats.Checks, s.Stats.Elapsed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTAFF\tSHIFTS\tMINUTES")
	for _, st := range s.Staff {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", st.StaffID, st.Shifts, st.Minutes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Shortfalls) > 0 {
		fmt.Fprintln(w, "\nunmet coverage:")
		for _, sf := range s.Shortfalls {
			fmt.Fprintf(w, "  day %d shift %s: %d missing\n", sf.Day, sf.ShiftID, sf.Missing)
		}
	}
	return nil
}

// RenderJSON writes the summary as indented JSON.
func RenderJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// RenderYAML writes the summary as YAML.
func RenderYAML(w io.Writer, s *Summary) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(s)
}

// RenderGrid writes the roster as a CSV grid, one row per day and one
// column per staff member. A cell holds the shift IDs that person works
// that day; a trailing totals row carries per-staff shift counts.
func RenderGrid(w io.Writer, inst *instance.Instance, assignments []engine.Assignment) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := make([]string, 0, len(inst.Staff)+1)
	header = append(header, "day")
	for _, st := range inst.Staff {
		header = append(header, st.ID)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	cells := make(map[string]map[int][]string, len(inst.Staff))
	totals := make(map[string]int, len(inst.Staff))
	for _, a := range assignments {
		if cells[a.StaffID] == nil {
			cells[a.StaffID] = make(map[int][]string)
		}
		cells[a.StaffID][a.Day] = append(cells[a.StaffID][a.Day], a.ShiftID)
		totals[a.StaffID]++
	}

	for day := 0; day < inst.Horizon; day++ {
		row := make([]string, 0, len(inst.Staff)+1)
		row = append(row, strconv.Itoa(day))
		for _, st := range inst.Staff {
			row = append(row, strings.Join(cells[st.ID][day], "+"))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	totalRow := make([]string, 0, len(inst.Staff)+1)
	totalRow = append(totalRow, "total")
	for _, st := range inst.Staff {
		totalRow = append(totalRow, strconv.Itoa(totals[st.ID]))
	}
	return cw.Write(totalRow)
}
