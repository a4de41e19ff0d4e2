// Package tui renders the pad grid in a terminal and maps the keyboard onto
// pad triggers and loop controls.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/padloop/internal/engine"
)

// Engine is the part of the pad engine the terminal UI drives.
type Engine interface {
	Snapshot() engine.Snapshot
	HandleKey(key string, modifier bool) (string, engine.VoiceID, error)
	StopAll()
	StartRecording() error
	StopRecording() (engine.RecordingResult, error)
	PlayLoop(id string) error
	StopLoop()
	ToggleRepeat() bool
}

type Model struct {
	Engine   Engine
	updates  <-chan struct{}
	interval time.Duration

	snap     engine.Snapshot
	cursor   int // index into snap.Loops
	ticking  bool
	status   string
	quitting bool
}

// UpdateMsg signals that the engine state changed.
type UpdateMsg struct{}

type tickMsg struct{}

// NewModel builds a model that redraws whenever updates fires and samples
// loop progress every interval while a loop plays.
func NewModel(e Engine, updates <-chan struct{}, interval time.Duration) Model {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return Model{
		Engine:   e,
		updates:  updates,
		interval: interval,
		snap:     e.Snapshot(),
	}
}

func ListenForUpdates(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return UpdateMsg{}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKey(msg.String()) {
			m.quitting = true
			return m, tea.Quit
		}
		m.refresh()
		return m, m.maybeTick()

	case UpdateMsg:
		m.refresh()
		return m, tea.Batch(ListenForUpdates(m.updates), m.maybeTick())

	case tickMsg:
		m.ticking = false
		m.refresh()
		return m, m.maybeTick()
	}
	return m, nil
}

// handleKey applies one key press and reports whether the UI should quit.
func (m *Model) handleKey(key string) bool {
	m.status = ""
	switch key {
	case "ctrl+c":
		m.Engine.StopAll()
		return true

	case "esc":
		m.Engine.StopAll()

	case " ":
		m.toggleRecording()

	case "enter":
		m.toggleLoop()

	case "tab":
		if m.Engine.ToggleRepeat() {
			m.status = "Repeat on"
		} else {
			m.status = "Repeat off"
		}

	case "up":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down":
		if m.cursor < len(m.snap.Loops)-1 {
			m.cursor++
		}

	default:
		modifier := false
		if k, ok := strings.CutPrefix(key, "ctrl+"); ok {
			key, modifier = k, true
		}
		if len([]rune(key)) != 1 {
			return false
		}
		if _, _, err := m.Engine.HandleKey(key, modifier); err != nil {
			m.status = err.Error()
		}
	}
	return false
}

func (m *Model) toggleRecording() {
	if !m.snap.Recording.Active {
		if err := m.Engine.StartRecording(); err != nil {
			m.status = err.Error()
		}
		return
	}
	res, err := m.Engine.StopRecording()
	if err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("Saved %s (%d events)", res.Loop.Name, res.Events)
	// The new loop is appended last; put the cursor on it.
	m.cursor = len(m.snap.Loops)
}

func (m *Model) toggleLoop() {
	if m.snap.Playback.LoopID != "" {
		m.Engine.StopLoop()
		return
	}
	if len(m.snap.Loops) == 0 {
		m.status = "No loops recorded"
		return
	}
	if err := m.Engine.PlayLoop(m.snap.Loops[m.cursor].ID); err != nil {
		m.status = err.Error()
	}
}

func (m *Model) refresh() {
	m.snap = m.Engine.Snapshot()
	if m.cursor >= len(m.snap.Loops) {
		m.cursor = max(len(m.snap.Loops)-1, 0)
	}
}

func (m *Model) maybeTick() tea.Cmd {
	if m.ticking || m.snap.Playback.LoopID == "" {
		return nil
	}
	m.ticking = true
	return m.tick()
}

var padColors = map[string]lipgloss.Color{
	"red": "#ef4444", "orange": "#f97316", "amber": "#f59e0b", "yellow": "#eab308",
	"lime": "#84cc16", "green": "#22c55e", "teal": "#14b8a6", "cyan": "#06b6d4",
	"sky": "#0ea5e9", "blue": "#3b82f6", "indigo": "#6366f1", "violet": "#8b5cf6",
	"purple": "#a855f7", "fuchsia": "#d946ef", "pink": "#ec4899", "rose": "#f43f5e",
}

const (
	gridColumns = 4
	cellWidth   = 14
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d946ef"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	recStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))

	var out strings.Builder
	out.WriteString(headerStyle.Render(fmt.Sprintf("padloop  rate:%.2fx  voices:%d", m.snap.PlaybackRate, m.snap.LiveVoices)))
	out.WriteString("\n\n")

	var rows []string
	for i := 0; i < len(m.snap.Pads); i += gridColumns {
		end := min(i+gridColumns, len(m.snap.Pads))
		cells := make([]string, 0, gridColumns)
		for _, p := range m.snap.Pads[i:end] {
			cells = append(cells, m.renderPad(p))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	out.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...))
	out.WriteString("\n")

	if m.snap.Recording.Active {
		out.WriteString(recStyle.Render(fmt.Sprintf("● REC  %d events", m.snap.Recording.Count)))
		out.WriteString("\n")
	}
	if pb := m.snap.Playback; pb.LoopID != "" {
		out.WriteString(fmt.Sprintf("▶ %s %s %3.0f%%", m.loopName(pb.LoopID), progressBar(pb.Progress, 20), pb.Progress*100))
		if pb.Repeat {
			out.WriteString("  repeat:" + pb.Policy)
		}
		out.WriteString("\n")
	}

	for i, l := range m.snap.Loops {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		line := fmt.Sprintf("%s%-16s %3d events  %5.1fs", marker, l.Name, l.Events, float64(l.DurationMillis)/1000)
		if l.ID == m.snap.Playback.LoopID {
			line = headerStyle.Render(line)
		}
		out.WriteString(line + "\n")
	}

	if m.status != "" {
		out.WriteString(dimStyle.Render(m.status) + "\n")
	}
	out.WriteString(dimStyle.Render("keys:trigger  ctrl+key:select  space:rec  enter:play/stop  ↑↓:loop  tab:repeat  esc:stop all  ctrl+c:quit"))
	return out.String()
}

func (m Model) renderPad(p engine.PadState) string {
	color, ok := padColors[p.Color]
	if !ok {
		color = "#9ca3af"
	}
	style := lipgloss.NewStyle().
		Width(cellWidth).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color)
	if p.ID == m.snap.Selected {
		style = style.Border(lipgloss.DoubleBorder())
	}
	if p.Active {
		style = style.Background(color).Foreground(lipgloss.Color("#000000")).Bold(true)
	}

	name := p.Name
	if r := []rune(name); len(r) > cellWidth-4 {
		name = string(r[:cellWidth-5]) + "…"
	}
	detail := p.Kind
	if p.Generating {
		detail = "generating…"
	}
	return style.Render(fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(p.Key), name, detail))
}

func (m Model) loopName(id string) string {
	for _, l := range m.snap.Loops {
		if l.ID == id {
			return l.Name
		}
	}
	return id
}

func progressBar(p float64, width int) string {
	filled := int(p*float64(width) + 0.5)
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
