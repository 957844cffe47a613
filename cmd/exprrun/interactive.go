package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/expression"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateBrowse modelState = iota
	stateEdit
	stateRunning
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	session  *session
	last     *expression.Result
	report   string
	input    textinput.Model
	selected int
	state    modelState
}

type evalMsg struct {
	res *expression.Result
}

func newInteractiveModel(ctx context.Context, s *session) *interactiveModel {
	return &interactiveModel{ctx: ctx, session: s, state: stateBrowse}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) evaluate() tea.Msg {
	return evalMsg{res: m.session.evaluate(m.ctx)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case stateBrowse:
			return m.browse(msg)
		case stateEdit:
			return m.edit(msg)
		}

	case evalMsg:
		m.last = msg.res
		m.report = m.session.report(msg.res)
		m.state = stateBrowse
	}
	return m, nil
}

func (m *interactiveModel) browse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.session.vars)-1 {
			m.selected++
		}

	case "enter", "r":
		m.err = nil
		m.state = stateRunning
		return m, m.evaluate

	case "e":
		if len(m.session.vars) == 0 {
			return m, nil
		}
		sv := m.session.vars[m.selected]
		ti := textinput.New()
		ti.Prompt = sv.v.Name() + ": "
		ti.Placeholder = witTypeStr(sv.typ)
		ti.SetValue(m.session.varValue(m.selected))
		ti.Width = 40
		ti.Focus()
		m.input = ti
		m.state = stateEdit
	}
	return m, nil
}

func (m *interactiveModel) edit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateBrowse
		return m, nil
	case "enter":
		m.err = m.session.set(m.selected, m.input.Value())
		m.state = stateBrowse
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder
	s := m.session

	b.WriteString(titleStyle.Render("Expression Runner"))
	fmt.Fprintf(&b, " %s (%s)\n\n", s.label, s.mode)

	b.WriteString("Variables:\n\n")
	for i, sv := range s.vars {
		line := fmt.Sprintf("%s: %s = %s", nameStyle.Render(sv.v.Name()), typeStyle.Render(witTypeStr(sv.typ)), s.varValue(i))
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.state {
	case stateEdit:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter store • esc cancel"))
		return b.String()
	case stateRunning:
		b.WriteString("Evaluating...\n")
		return b.String()
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}
	if m.last != nil {
		style := errorStyle
		if m.last.Outcome == dbgexpr.Completed {
			style = resultStyle
		}
		b.WriteString(style.Render(m.report))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • e edit • enter evaluate • q quit"))
	return b.String()
}

func runInteractive(ctx context.Context, s *session) error {
	p := tea.NewProgram(newInteractiveModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
