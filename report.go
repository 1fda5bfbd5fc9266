// Copyright 2025 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package callgas

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
)

// WriteReport renders res as a human-readable summary followed by one table
// row per frame, in the order the frames were opened. The output is
// deterministic for a given result.
func WriteReport(w io.Writer, res *Result) error {
	if !res.WindowOpened {
		_, err := fmt.Fprintln(w, "Window never opened; no gas attributed")
		return err
	}
	if _, err := fmt.Fprintf(w, "Execution gas used: %d\n", res.GasSum); err != nil {
		return err
	}
	if total, ok := res.TotalGas(); ok {
		if _, err := fmt.Fprintf(w, "Total gas used: %d (%d - %d)\n", total, res.GasStart, res.GasEnd); err != nil {
			return err
		}
		nonExec, _ := res.NonExecGas()
		if _, err := fmt.Fprintf(w, "Non-execution gas used: %d\n", nonExec); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "Total gas used: unknown (window never closed)\n"); err != nil {
			return err
		}
	}
	if len(res.Frames) == 0 {
		_, err := fmt.Fprintln(w, "No calls observed in window")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"pc", "depth", "op", "gas used", "return pc", "return depth"})
	for _, f := range res.Frames {
		if f.Resolved {
			t.AppendRow(table.Row{f.Pc, f.Depth, f.Op, f.GasUsed, f.ReturnPc, f.ReturnDepth})
		} else {
			t.AppendRow(table.Row{f.Pc, f.Depth, f.Op, "still active", "-", "-"})
		}
	}
	t.Render()
	return nil
}

// WriteJSON emits res as indented JSON for machine consumption.
func WriteJSON(w io.Writer, res *Result) error {
	out, err := jsoniter.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}
