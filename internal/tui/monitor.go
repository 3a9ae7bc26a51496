// Package tui implements the live dashboard behind `ufo monitor`.
package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"ufo/internal/ufo"
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// MonitorModel polls an engine's cache and object statistics and renders
// an occupancy gauge, per-object chunk byte counts, and a scrolling log
// tail. It sends no control messages of its own.
type MonitorModel struct {
	engine   *ufo.Engine
	gauge    progress.Model
	logLines []string
	width    int
}

// NewMonitorModel builds a dashboard over engine.
func NewMonitorModel(engine *ufo.Engine) MonitorModel {
	return MonitorModel{
		engine: engine,
		gauge:  progress.New(progress.WithDefaultGradient()),
		width:  80,
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return tick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.gauge.Width = msg.Width - 4
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		stats := m.engine.Stats()
		frac := 0.0
		if stats.CacheHigh > 0 {
			frac = float64(stats.CacheUsed) / float64(stats.CacheHigh)
		}
		line := fmt.Sprintf("used=%d/%d evictions=%d writebacks=%d objects=%d",
			stats.CacheUsed, stats.CacheHigh, stats.Evictions, stats.Writebacks, stats.ObjectCt)
		m.logLines = append(m.logLines, line)
		if len(m.logLines) > 10 {
			m.logLines = m.logLines[len(m.logLines)-10:]
		}
		cmd := m.gauge.SetPercent(frac)
		return m, tea.Batch(cmd, tick())
	case progress.FrameMsg:
		gm, cmd := m.gauge.Update(msg)
		m.gauge = gm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m MonitorModel) View() string {
	stats := m.engine.Stats()

	out := StyleTitle.Render("ufo monitor") + "\n\n"
	out += "cache occupancy\n"
	out += m.gauge.View() + "\n\n"
	out += StyleDim.Render(fmt.Sprintf("%d / %d bytes resident (low %d)", stats.CacheUsed, stats.CacheHigh, stats.CacheLow)) + "\n\n"

	out += "per-object resident bytes\n"
	ids := make([]ufo.ID, 0, len(stats.PerObjectBytes))
	for id := range stats.PerObjectBytes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out += fmt.Sprintf("  object %d: %d bytes\n", id, stats.PerObjectBytes[id])
	}
	if len(ids) == 0 {
		out += StyleDim.Render("  (none resident)") + "\n"
	}

	out += "\nrecent samples\n"
	for _, line := range m.logLines {
		out += StyleDim.Render(line) + "\n"
	}

	out += "\n" + StyleHelpBar.Render("q to quit")
	return out
}
