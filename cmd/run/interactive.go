package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/engine"
	"github.com/wippyai/wasm-guard/telemetry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	unhealthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const telemetryTail = 10

type dashboardModel struct {
	err       error
	env       *environment
	gov       *engine.Governor
	mod       *engine.Module
	filename  string
	subsystem wasmguard.SubsystemID
	bar       progress.Model
	events    []telemetry.Event
}

type tickMsg time.Time

type moduleLoadedMsg struct {
	err error
	mod *engine.Module
}

func newDashboardModel(env *environment, gov *engine.Governor, filename string, subsystem wasmguard.SubsystemID) *dashboardModel {
	return &dashboardModel{
		env:       env,
		gov:       gov,
		filename:  filename,
		subsystem: subsystem,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m *dashboardModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.filename != "" {
		cmds = append(cmds, m.loadModule)
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *dashboardModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return moduleLoadedMsg{err: err}
	}
	mod, err := m.gov.Load(context.Background(), m.subsystem, data)
	return moduleLoadedMsg{mod: mod, err: err}
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			ctx := context.Background()
			if m.mod != nil {
				m.mod.Close(ctx)
			}
			return m, tea.Quit
		}

	case tickMsg:
		for ev := range m.env.ring.Drain() {
			m.events = append(m.events, ev)
		}
		if n := len(m.events); n > telemetryTail {
			m.events = m.events[n-telemetryTail:]
		}
		return m, tick()

	case moduleLoadedMsg:
		m.err = msg.err
		m.mod = msg.mod
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Guard"))
	b.WriteString(fmt.Sprintf("  tier %s", m.env.tier))
	if m.filename != "" {
		b.WriteString("  " + m.filename)
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(unhealthyStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(labelStyle.Render("Budgets"))
	b.WriteString("\n")
	for _, st := range m.env.budgets.Snapshot() {
		ratio := 0.0
		if st.MaxBytes > 0 {
			ratio = float64(st.Consumed) / float64(st.MaxBytes)
		}
		b.WriteString(fmt.Sprintf("  %-16s %s %10d / %-10d\n",
			st.Subsystem, m.bar.ViewAs(ratio), st.Consumed, st.MaxBytes))
	}

	report := m.env.mon.Report()
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Safety"))
	b.WriteString("\n")
	health := fmt.Sprintf("  health %d/100", report.HealthScore)
	if m.env.mon.Healthy() {
		b.WriteString(healthyStyle.Render(health))
	} else {
		b.WriteString(unhealthyStyle.Render(health + "  UNHEALTHY"))
	}
	b.WriteString(fmt.Sprintf("\n  allocations %d (%d failed)   violations %d budget / %d capability / %d fatal\n",
		report.TotalAllocations, report.FailedAllocations,
		report.BudgetViolations, report.CapabilityViolations, report.FatalErrors))
	b.WriteString(fmt.Sprintf("  memory %d current / %d peak / %d largest\n",
		report.CurrentBytes, report.PeakBytes, report.PeakAllocation))

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Telemetry"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(helpStyle.Render("  (no events)"))
		b.WriteString("\n")
	}
	for _, ev := range m.events {
		line := fmt.Sprintf("  %s [%s] %s: %s",
			ev.Timestamp.Format("15:04:05"), ev.Category, ev.Subsystem, ev.Message)
		switch {
		case ev.Severity >= telemetry.SeverityError:
			b.WriteString(unhealthyStyle.Render(line))
		case ev.Severity == telemetry.SeverityWarning:
			b.WriteString(warnStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

func runInteractive(env *environment, wasmFile, subsystemName string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode requires a terminal")
	}

	sub, ok := wasmguard.ParseSubsystem(subsystemName)
	if !ok {
		return fmt.Errorf("unknown subsystem %q", subsystemName)
	}

	ctx := context.Background()
	gov, err := engine.NewGovernor(ctx, env.budgets, engine.WithDetector(env.det))
	if err != nil {
		return err
	}
	defer gov.Close(ctx)

	p := tea.NewProgram(newDashboardModel(env, gov, wasmFile, sub), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
