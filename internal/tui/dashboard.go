package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/graphdev/internal/orchestrator"
	"github.com/ShayCichocki/graphdev/internal/router"
)

// maxLogs bounds the activity log.
const maxLogs = 1000

// EventMsg carries one orchestrator event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the session's event stream has closed.
type DoneMsg struct {
	Err error
}

// SubgraphRow is one line of the subgraph table.
type SubgraphRow struct {
	Name       string
	RoutingURL string
	State      string
	LastError  string
	UpdatedAt  time.Time
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// Dashboard is the bubbletea model for a dev session.
type Dashboard struct {
	title     string
	subgraphs map[string]*SubgraphRow
	logs      []LogEntry
	logView   viewport.Model

	composition  string
	compErrors   []string
	routerStage  router.Stage
	routerHealth bool
	reloads      int

	width    int
	height   int
	quitting bool
	done     bool
	err      error

	headerStyle lipgloss.Style
	labelStyle  lipgloss.Style
	valueStyle  lipgloss.Style
	okStyle     lipgloss.Style
	warnStyle   lipgloss.Style
	errorStyle  lipgloss.Style
	dimStyle    lipgloss.Style
	boxStyle    lipgloss.Style
}

// NewDashboard creates a Dashboard titled with the manifest name.
func NewDashboard(title string) *Dashboard {
	return &Dashboard{
		title:     title,
		subgraphs: make(map[string]*SubgraphRow),
		logs:      make([]LogEntry, 0),
		logView:   viewport.New(80, 10),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		boxStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		}
		var cmd tea.Cmd
		d.logView, cmd = d.logView.Update(msg)
		return d, cmd

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.resizeLog()

	case EventMsg:
		d.apply(msg.Event)

	case DoneMsg:
		d.done = true
		d.err = msg.Err
	}
	return d, nil
}

// apply folds one event into the dashboard state.
func (d *Dashboard) apply(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventSubgraphLoaded, orchestrator.EventSubgraphUpdated:
		row := d.row(ev.Subgraph)
		row.State = "healthy"
		row.LastError = ""
		if ev.Message != "" {
			row.RoutingURL = ev.Message
		}
	case orchestrator.EventRoutingURLChanged:
		d.row(ev.Subgraph)
	case orchestrator.EventSubgraphFetchFailed:
		row := d.row(ev.Subgraph)
		row.State = "stale"
		if ev.Error != nil {
			row.LastError = ev.Error.Error()
		}
	case orchestrator.EventSubgraphEvicted:
		row := d.row(ev.Subgraph)
		row.State = "evicted"
		if ev.Error != nil {
			row.LastError = ev.Error.Error()
		}
	case orchestrator.EventSubgraphRemoved:
		delete(d.subgraphs, ev.Subgraph)
	case orchestrator.EventCompositionSucceeded:
		d.composition = "success"
		d.compErrors = nil
	case orchestrator.EventCompositionFailed:
		d.composition = "failed"
		d.compErrors = nil
		if ev.Outcome != nil {
			for _, be := range ev.Outcome.Errors {
				d.compErrors = append(d.compErrors, be.Error())
			}
		}
	case orchestrator.EventCompositionDeferred:
		d.composition = ev.Message
	case orchestrator.EventRouterStage:
		d.routerStage = ev.Stage
	case orchestrator.EventRouterHealthy:
		d.routerHealth = true
	case orchestrator.EventHotReload:
		if ev.Error == nil {
			d.reloads++
		}
	}
	d.appendLog(logEntryFor(ev))
}

func (d *Dashboard) row(name string) *SubgraphRow {
	row, ok := d.subgraphs[name]
	if !ok {
		row = &SubgraphRow{Name: name, State: "loading"}
		d.subgraphs[name] = row
	}
	row.UpdatedAt = time.Now()
	return row
}

func (d *Dashboard) appendLog(e LogEntry) {
	if e.Message == "" {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	d.logs = append(d.logs, e)
	if len(d.logs) > maxLogs {
		d.logs = d.logs[len(d.logs)-maxLogs:]
	}

	follow := d.logView.AtBottom()
	d.logView.SetContent(d.renderLogLines())
	if follow {
		d.logView.GotoBottom()
	}
}

func logEntryFor(ev orchestrator.Event) LogEntry {
	e := LogEntry{Timestamp: ev.Timestamp, Level: "INFO", Message: ev.Message}
	if ev.Error != nil {
		e.Level = "ERROR"
		if e.Message == "" {
			e.Message = ev.Error.Error()
		} else {
			e.Message += ": " + ev.Error.Error()
		}
	}
	if ev.Subgraph != "" && e.Message != "" {
		e.Message = ev.Subgraph + ": " + e.Message
	}
	switch ev.Type {
	case orchestrator.EventSubgraphFetchFailed, orchestrator.EventFederationVersion, orchestrator.EventCompositionDeferred:
		if e.Level != "ERROR" {
			e.Level = "WARN"
		}
	case orchestrator.EventRouterLog:
		if ev.Stream == router.Stderr {
			e.Level = "WARN"
		}
		e.Message = "router: " + ev.Message
	case orchestrator.EventSubgraphLoaded:
		e.Message = "loaded subgraph " + ev.Subgraph
	case orchestrator.EventSubgraphUpdated:
		e.Message = "subgraph " + ev.Subgraph + " changed"
	case orchestrator.EventCompositionSucceeded:
		e.Message = "supergraph composed"
	case orchestrator.EventCompositionFailed:
		e.Level = "ERROR"
		if e.Message == "" {
			e.Message = "composition failed"
		}
	case orchestrator.EventRouterHealthy:
		e.Message = "router is healthy"
	case orchestrator.EventHotReload:
		if ev.Error == nil {
			e.Message = "router reloaded " + ev.Message
		}
	}
	return e
}

func (d *Dashboard) resizeLog() {
	// Header, status block and subgraph table take the top of the screen.
	used := 8 + len(d.subgraphs) + len(d.compErrors)
	h := d.height - used - 4
	if h < 3 {
		h = 3
	}
	d.logView.Width = d.width - 4
	d.logView.Height = h
	d.logView.SetContent(d.renderLogLines())
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return "Shutting down dev session...\n"
	}

	var b strings.Builder
	b.WriteString(d.headerStyle.Render("=== graphdev: " + d.title + " ==="))
	b.WriteString("\n\n")

	b.WriteString(d.labelStyle.Render("Composition:"))
	b.WriteString(d.renderComposition())
	b.WriteString("\n")
	for _, e := range d.compErrors {
		b.WriteString("  ")
		b.WriteString(d.errorStyle.Render(e))
		b.WriteString("\n")
	}

	b.WriteString(d.labelStyle.Render("Router:"))
	b.WriteString(d.renderRouter())
	b.WriteString("\n\n")

	b.WriteString(d.renderSubgraphs())
	b.WriteString("\n")
	b.WriteString(d.boxStyle.Render(d.logView.View()))
	b.WriteString("\n")

	if d.done {
		if d.err != nil {
			b.WriteString(d.errorStyle.Bold(true).Render(fmt.Sprintf("Session ended: %v. Press q to exit.", d.err)))
		} else {
			b.WriteString(d.okStyle.Bold(true).Render("Session ended. Press q to exit."))
		}
	} else {
		b.WriteString(d.dimStyle.Render("↑/↓ scroll log · q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (d *Dashboard) renderComposition() string {
	switch d.composition {
	case "":
		return d.dimStyle.Render("waiting")
	case "success":
		return d.okStyle.Render("success")
	case "failed":
		return d.errorStyle.Render("failed, serving the previous supergraph")
	default:
		return d.warnStyle.Render(d.composition)
	}
}

func (d *Dashboard) renderRouter() string {
	switch {
	case d.routerHealth:
		return d.okStyle.Render(fmt.Sprintf("healthy (%d reloads)", d.reloads))
	case d.routerStage != "":
		return d.warnStyle.Render(string(d.routerStage))
	default:
		return d.dimStyle.Render("waiting for the first supergraph")
	}
}

func (d *Dashboard) renderSubgraphs() string {
	if len(d.subgraphs) == 0 {
		return d.dimStyle.Render("No subgraphs loaded yet") + "\n"
	}

	names := make([]string, 0, len(d.subgraphs))
	for name := range d.subgraphs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		row := d.subgraphs[name]
		style := d.warnStyle
		symbol := "…"
		switch row.State {
		case "healthy":
			style, symbol = d.okStyle, "✓"
		case "stale":
			symbol = "⚠"
		case "evicted":
			style, symbol = d.errorStyle, "✗"
		}
		line := fmt.Sprintf("  %s %-20s %s", style.Render(symbol), row.Name, d.dimStyle.Render(row.RoutingURL))
		b.WriteString(line)
		if row.LastError != "" {
			b.WriteString("  ")
			b.WriteString(style.Render(truncate(row.LastError, 60)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (d *Dashboard) renderLogLines() string {
	lines := make([]string, 0, len(d.logs))
	for _, e := range d.logs {
		style := d.valueStyle.UnsetBold()
		switch e.Level {
		case "WARN":
			style = d.warnStyle
		case "ERROR":
			style = d.errorStyle
		}
		lines = append(lines, fmt.Sprintf("%s %s",
			d.dimStyle.Render(e.Timestamp.Format("15:04:05")),
			style.Render(e.Message)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Subgraphs returns the rows sorted by name.
func (d *Dashboard) Subgraphs() []SubgraphRow {
	rows := make([]SubgraphRow, 0, len(d.subgraphs))
	for _, r := range d.subgraphs {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// Logs returns the activity log.
func (d *Dashboard) Logs() []LogEntry {
	return d.logs
}

// NewDashboardProgram creates a Bubbletea program for the dev dashboard.
func NewDashboardProgram(title string) (*tea.Program, *Dashboard) {
	d := NewDashboard(title)
	p := tea.NewProgram(d, tea.WithAltScreen())
	return p, d
}

// Forward sends events to the program until the stream closes, then sends a
// DoneMsg carrying the session error reported by the final event.
func Forward(p *tea.Program, events <-chan orchestrator.Event) {
	var last error
	for ev := range events {
		if ev.Type == orchestrator.EventSessionDone {
			last = ev.Error
		}
		p.Send(EventMsg{Event: ev})
	}
	p.Send(DoneMsg{Err: last})
}
