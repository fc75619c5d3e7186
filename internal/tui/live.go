package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/physync/internal/replication"
	"github.com/san-kum/physync/internal/sim"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const historyLen = 120

type model struct {
	name  string
	setup sim.Setup

	harness *sim.Harness
	info    sim.TickInfo
	history []float64
	err     error

	paused bool
	speed  float64
	frame  time.Duration

	width  int
	height int
}

// NewLive builds a live view over a fresh harness for setup.
func NewLive(name string, setup sim.Setup) (*model, error) {
	h, err := sim.NewHarness(setup)
	if err != nil {
		return nil, err
	}
	frame := time.Duration(setup.Replication.FixedDt * float64(time.Second))
	if frame < time.Millisecond {
		frame = time.Millisecond
	}
	return &model{
		name:    name,
		setup:   setup,
		harness: h,
		history: make([]float64, 0, historyLen),
		speed:   1,
		frame:   frame,
		width:   80,
		height:  24,
	}, nil
}

type tickMsg time.Time

func (m model) tick() tea.Cmd {
	return tea.Tick(m.frame, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd { return m.tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if !m.paused && m.err == nil {
			m.advance()
		}
		return m, m.tick()
	}
	return m, nil
}

func (m *model) advance() {
	steps := max(int(m.speed), 1)
	for i := 0; i < steps && !m.harness.Done(); i++ {
		info, err := m.harness.Step()
		if err != nil {
			m.err = err
			return
		}
		m.info = info
		m.history = append(m.history, info.Point.Error)
		if len(m.history) > historyLen {
			m.history = m.history[1:]
		}
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ", "p":
		m.paused = !m.paused
	case "r":
		h, err := sim.NewHarness(m.setup)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.harness = h
		m.info = sim.TickInfo{}
		m.history = m.history[:0]
		m.err = nil
		return m, tea.ClearScreen
	case "+", "=":
		m.speed = math.Min(m.speed*2, 16)
	case "-", "_":
		m.speed = math.Max(m.speed/2, 1)
	case "0":
		m.speed = 1
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	statusIcon := green.Render("●")
	statusText := green.Render("running")
	switch {
	case m.err != nil:
		statusIcon, statusText = red.Render("●"), red.Render("error")
	case m.harness.Done():
		statusIcon, statusText = dim.Render("●"), dim.Render("done")
	case m.paused:
		statusIcon, statusText = yellow.Render("○"), yellow.Render("paused")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s  %s\n",
		statusIcon, cyan.Render(m.name), dim.Render(m.setup.Sim.Mode), statusText))

	now := m.info.Point.Time
	progress := math.Min(now/m.setup.Sim.Duration, 1)
	barWidth := 36
	filled := int(progress * float64(barWidth))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s  %s\n\n", bar,
		dim.Render(fmt.Sprintf("%.1fs/%.0fs", now, m.setup.Sim.Duration)),
		dim.Render(fmt.Sprintf("x%.0f", m.speed))))

	p := m.info.Point
	b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("owner  "), white.Render(vec(p.Owner))))
	b.WriteString(fmt.Sprintf("   %s %s  %s %s\n\n", dim.Render("replica"), white.Render(vec(p.Replica)),
		dim.Render("err"), errorStyle(p.Error).Render(fmt.Sprintf("%.3f", p.Error))))

	b.WriteString(dim.Render(fmt.Sprintf("   %-4s %-7s %-11s %-14s %-4s %s", "id", "owner", "mode", "status", "buf", "correction")) + "\n")
	rows := m.height - 16
	for i, oi := range m.info.Objects {
		if rows > 0 && i >= rows {
			b.WriteString(dim.Render(fmt.Sprintf("   ... %d more", len(m.info.Objects)-i)) + "\n")
			break
		}
		b.WriteString(objectRow(oi) + "\n")
	}

	l := m.info.Link
	b.WriteString(fmt.Sprintf("\n   %s %d  %s %d  %s %d  %s %s\n",
		dim.Render("sent"), l.Sent, dim.Render("lost"), l.Lost,
		dim.Render("delivered"), l.Delivered, dim.Render("bytes"), white.Render(fmt.Sprint(l.Bytes))))

	if len(m.history) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("err"), cyan.Render(sparkline(m.history, 40))))
	}
	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + dim.Render("   space pause  ±speed  r restart  q quit") + "\n")
	return b.String()
}

func objectRow(oi replication.ObjectInfo) string {
	status := sim.ObjectStatus(oi)
	style := white
	switch {
	case oi.Starving:
		style = red
	case status == "following" || status == "correcting" || status == "extrapolating":
		style = yellow
	}
	correction := dimmer.Render("-")
	if oi.Correction.Active() {
		correction = fmt.Sprintf("%.3fm %.1f°", oi.Correction.PositionErrorMagnitude(), oi.Correction.RotationAngle)
	}
	return fmt.Sprintf("   %-4d %-7s %-11s %s %-4d %s",
		oi.ID, oi.Ownership, oi.Mode, style.Render(fmt.Sprintf("%-14s", status)), oi.Buffered, correction)
}

func errorStyle(e float64) lipgloss.Style {
	switch {
	case e < 0.05:
		return green
	case e < 0.5:
		return yellow
	}
	return red
}

func vec(v [3]float64) string {
	return fmt.Sprintf("%6.2f %6.2f %6.2f", v[0], v[1], v[2])
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := max(len(data)/width, 1)
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		sb.WriteRune(chars[min(max(idx, 0), 7)])
	}
	return sb.String()
}

// RunLive steps the harness in real time until the user quits.
func RunLive(name string, setup sim.Setup) error {
	m, err := NewLive(name, setup)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
