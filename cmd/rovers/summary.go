package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"rovers/pkg/power"
	"rovers/pkg/sim"
)

// printSummary writes the end-of-run fleet and worksite tables. Styled output
// adds borders and colors; plain output is column-aligned text.
func printSummary(w io.Writer, s sim.Summary, runID string, reserve float64, styled bool) {
	th := DefaultTheme()
	title := lipgloss.NewStyle()
	if styled {
		title = title.Bold(true).Foreground(th.Primary)
	}

	day := "night"
	if s.Day {
		day = "day"
	}
	fmt.Fprintln(w, title.Render("Fleet summary"))
	fmt.Fprintf(w, "steps %d  background %d  sim time %s  %s  mode %s  queued %d  assigned %d\n",
		s.Steps, s.Background, s.Elapsed, day, s.Mode, s.Queued, s.Assigned)
	if runID != "" {
		fmt.Fprintf(w, "run %s\n", runID)
	}
	fmt.Fprintln(w)

	agents := make([][]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		agents = append(agents, []string{
			a.ID,
			string(a.Status),
			string(a.Power),
			strconv.FormatFloat(a.Battery, 'f', 1, 64),
			a.Position.String(),
			strconv.Itoa(a.Stats.Completed),
			strconv.Itoa(a.Stats.Failed),
			strconv.Itoa(a.Stats.Replans),
			strconv.Itoa(a.Stats.Discoveries),
		})
	}
	agentTable := newTable(styled, th, "AGENT", "STATUS", "POWER", "BATTERY", "POSITION", "DONE", "FAILED", "REPLANS", "FOUND").
		Rows(agents...)
	if styled {
		agentTable = agentTable.StyleFunc(func(row, col int) lipgloss.Style {
			st := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return st.Bold(true).Foreground(th.Primary)
			}
			a := s.Agents[row]
			switch {
			case col == 2 && a.Power == power.Charging:
				return st.Foreground(th.Success)
			case col == 3 && a.Battery <= power.Empty:
				return st.Foreground(th.Error)
			case col == 3 && a.Battery < reserve:
				return st.Foreground(th.Warning)
			case col == 6 && a.Stats.Failed > 0:
				return st.Foreground(th.Error)
			}
			return st
		})
	}
	fmt.Fprintln(w, agentTable.String())
	fmt.Fprintln(w)

	sites := make([][]string, 0, len(s.Worksites))
	for _, ws := range s.Worksites {
		sites = append(sites, []string{
			ws.Name,
			strconv.FormatFloat(ws.Readings.Moisture, 'f', 1, 64),
			strconv.FormatFloat(ws.Readings.Acidity, 'f', 2, 64),
			ws.Readings.Biome,
			ws.Position.String(),
		})
	}
	siteTable := newTable(styled, th, "WORKSITE", "MOISTURE", "PH", "BIOME", "POSITION").Rows(sites...)
	fmt.Fprintln(w, siteTable.String())
}

func newTable(styled bool, th Theme, headers ...string) *table.Table {
	t := table.New().Headers(headers...)
	if !styled {
		return t.Border(lipgloss.HiddenBorder()).
			StyleFunc(func(int, int) lipgloss.Style { return lipgloss.NewStyle().PaddingRight(2) })
	}
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(th.Muted)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			st := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return st.Bold(true).Foreground(th.Primary)
			}
			return st
		})
}
