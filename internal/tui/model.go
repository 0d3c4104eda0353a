package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/screenguard/internal/analysis"
	"github.com/loykin/screenguard/internal/event"
)

// DefaultRecent is how many errors the window keeps.
const DefaultRecent = 5

type keyMap struct {
	Capture key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Capture: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "capture now"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// eventMsg carries a session event into the program.
type eventMsg struct{ event.Event }

// triggerMsg reports the result of a manual capture request.
type triggerMsg struct{ started bool }

// Model is the Bubble Tea model of the session window.
type Model struct {
	trigger func() bool
	recent  int

	remaining    int
	hasCountdown bool
	screenshot   string
	analysis     string
	verdict      string
	errors       []string
	notice       string
	width        int
	quitting     bool
}

// NewModel returns a model. trigger may be nil, which disables the capture key.
func NewModel(trigger func() bool, recent int) Model {
	if recent <= 0 {
		recent = DefaultRecent
	}
	return Model{trigger: trigger, recent: recent}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Capture):
			if m.trigger == nil {
				return m, nil
			}
			trigger := m.trigger
			m.notice = "starting capture..."
			return m, func() tea.Msg { return triggerMsg{started: trigger()} }
		}

	case triggerMsg:
		if msg.started {
			m.notice = "capture started"
		} else {
			m.notice = "a capture is already running"
		}
		return m, nil

	case eventMsg:
		m.apply(msg.Event)
		return m, nil
	}

	return m, nil
}

func (m *Model) apply(e event.Event) {
	switch e.Type {
	case event.TypeCountdownUpdate:
		m.remaining, m.hasCountdown = e.Seconds()
	case event.TypeScreenshotTaken:
		m.screenshot = e.Path
		m.notice = ""
	case event.TypeScreenshotAnalysis:
		m.analysis = compact(e.Analysis)
		m.verdict, _ = analysis.Parse(e.Analysis).Verdict()
	case event.TypeScreenshotError:
		m.errors = append(m.errors, e.Message)
		if len(m.errors) > m.recent {
			m.errors = m.errors[len(m.errors)-m.recent:]
		}
	}
}

func compact(doc json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, doc); err != nil {
		return string(doc)
	}
	return b.String()
}

// Quitting reports whether the user closed the window.
func (m Model) Quitting() bool { return m.quitting }

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("screenguard"))
	b.WriteString("\n")

	next := "--"
	if m.hasCountdown {
		next = fmt.Sprintf("%ds", m.remaining)
	}
	b.WriteString(CountdownStyle.Render(
		LabelStyle.Width(0).Render("next capture") + "\n" + CountdownValueStyle.Render(next),
	))
	b.WriteString("\n\n")

	b.WriteString(m.row("Screenshot", orDash(m.screenshot)))
	if m.verdict != "" {
		b.WriteString(LabelStyle.Render("Verdict") + VerdictStyle(m.verdict).Render(m.verdict) + "\n")
	}
	b.WriteString(m.row("Analysis", orDash(m.truncate(m.analysis))))

	if len(m.errors) > 0 {
		b.WriteString("\n" + LabelStyle.Render("Errors") + "\n")
		for _, msg := range m.errors {
			b.WriteString(ErrorStyle.Render("  "+m.truncate(oneLine(msg))) + "\n")
		}
	}
	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice) + "\n")
	}

	help := keys.Quit.Help()
	hint := help.Key + " " + help.Desc
	if m.trigger != nil {
		c := keys.Capture.Help()
		hint = c.Key + " " + c.Desc + " • " + hint
	}
	b.WriteString(HelpStyle.Render(hint))
	return b.String()
}

func (m Model) row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value) + "\n"
}

func (m Model) truncate(s string) string {
	limit := m.width - 16
	if limit < 20 {
		limit = 80
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
