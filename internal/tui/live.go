package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/pidloop/internal/loop"
	"github.com/san-kum/pidloop/internal/pid"
)

const (
	historyCapacity = 240
	refreshRate     = time.Second / 20
)

// Feed carries readings from the loop goroutine to the UI without ever
// blocking the loop. Readings are dropped when the UI falls behind.
type Feed struct {
	ch chan loop.Reading
}

func NewFeed(capacity int) *Feed {
	return &Feed{ch: make(chan loop.Reading, capacity)}
}

// Observe is meant for loop.WithObserver.
func (f *Feed) Observe(r loop.Reading) {
	select {
	case f.ch <- r:
	default:
	}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type param int

const (
	paramP param = iota
	paramI
	paramD
	paramDeadzone
	paramSetpoint
	numParams
)

func (p param) String() string {
	return [...]string{"Kp", "Ki", "Kd", "deadzone", "setpoint"}[p]
}

// Model is a live tuning console for a running loop.Runner. Key presses
// act on the controller through its public API while the loop keeps
// running on its own goroutine.
type Model struct {
	runner *loop.Runner
	feed   *Feed
	name   string

	pv, sp, out []float64
	last        loop.Reading
	selected    param
	showHelp    bool
}

func NewModel(runner *loop.Runner, feed *Feed, name string) Model {
	return Model{
		runner: runner,
		feed:   feed,
		name:   name,
		pv:     make([]float64, 0, historyCapacity),
		sp:     make([]float64, 0, historyCapacity),
		out:    make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.drain()
		return m, tick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		m.selected = (m.selected + 1) % numParams
	case "shift+tab":
		m.selected = (m.selected + numParams - 1) % numParams
	case "up", "k":
		m.adjust(1)
	case "down", "j":
		m.adjust(-1)
	case "r":
		m.runner.Controller().Reset()
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

// adjust moves the selected parameter one step; gains step by a tenth of
// their value, at least 1, and stay within the range of uint32.
func (m *Model) adjust(dir int) {
	ctrl := m.runner.Controller()
	switch m.selected {
	case paramP:
		ctrl.UpdateProportionalGain(stepGain(ctrl.ProportionalGain(), dir))
	case paramI:
		ctrl.UpdateIntegralGain(stepGain(ctrl.IntegralGain(), dir))
	case paramD:
		ctrl.UpdateDerivativeGain(stepGain(ctrl.DerivativeGain(), dir))
	case paramDeadzone:
		dz := ctrl.Deadzone() + 0.1*float64(dir)
		if dz < 0 {
			dz = 0
		}
		ctrl.UpdateDeadzone(dz)
	case paramSetpoint:
		m.runner.SetSetpoint(m.runner.Setpoint() + float64(dir))
	}
}

func stepGain(g uint32, dir int) uint32 {
	step := g / 10
	if step == 0 {
		step = 1
	}
	if dir < 0 {
		if step > g {
			return 0
		}
		return g - step
	}
	if step > math.MaxUint32-g {
		return math.MaxUint32
	}
	return g + step
}

func (m *Model) drain() {
	for {
		select {
		case r := <-m.feed.ch:
			m.last = r
			m.pv = appendBounded(m.pv, r.PV)
			m.sp = appendBounded(m.sp, r.Setpoint)
			m.out = appendBounded(m.out, r.Output)
		default:
			return
		}
	}
}

func appendBounded(s []float64, v float64) []float64 {
	if len(s) == historyCapacity {
		copy(s, s[1:])
		s = s[:len(s)-1]
	}
	return append(s, v)
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.name)) + "\n")

	if len(m.pv) > 1 {
		chart := asciigraph.PlotMany([][]float64{m.sp, m.pv},
			asciigraph.Height(10),
			asciigraph.Width(60),
			asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green),
			asciigraph.Caption("setpoint (red) / process variable (green)"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	} else {
		s.WriteString(graphStyle.Render("waiting for samples...") + "\n")
	}

	st := m.runner.Controller().Status()
	stats := m.viewParams(st) + "\n" + m.viewSignals(st)
	s.WriteString(panelStyle.Render(stats) + "\n")

	if m.showHelp {
		s.WriteString(helpStyle.Render("tab/shift+tab: select  up/k: raise  down/j: lower  r: reset integral  q: quit"))
	} else {
		s.WriteString(helpStyle.Render("?: help"))
	}
	return s.String()
}

func (m Model) viewParams(st pid.Status) string {
	values := [numParams]string{
		fmt.Sprintf("%d", st.Gains.P),
		fmt.Sprintf("%d", st.Gains.I),
		fmt.Sprintf("%d", st.Gains.D),
		fmt.Sprintf("%.2f", st.Deadzone),
		fmt.Sprintf("%.2f", m.runner.Setpoint()),
	}

	lines := make([]string, numParams)
	for p := param(0); p < numParams; p++ {
		line := fmt.Sprintf("%-10s %s", p, values[p])
		if p == m.selected {
			lines[p] = activeParamStyle.Render("> " + line)
		} else {
			lines[p] = "  " + labelStyle.Render(line)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) viewSignals(st pid.Status) string {
	state := trackingStyle.Render("TRACKING")
	if m.last.Saturated {
		state = saturatedStyle.Render("SATURATED")
	}

	rows := []string{
		labelStyle.Render("pv") + valueStyle.Render(fmt.Sprintf("%.3f", m.last.PV)),
		labelStyle.Render("output") + valueStyle.Render(fmt.Sprintf("%.3f", m.last.Output)),
		labelStyle.Render("integral") + valueStyle.Render(fmt.Sprintf("%.3f", st.Integral)),
		labelStyle.Render("bounds") + valueStyle.Render(fmt.Sprintf("[%d, %d]", st.Lower, st.Upper)),
		labelStyle.Render("state") + state,
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Run starts the runner in the background and blocks in the UI until the
// user quits or ctx is done.
func Run(ctx context.Context, runner *loop.Runner, feed *Feed, name string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- runner.Run(ctx) }()

	p := tea.NewProgram(NewModel(runner, feed, name), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	cancel()
	<-errc

	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
