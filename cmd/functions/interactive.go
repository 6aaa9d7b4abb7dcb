package main

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corvusdb/script-runtime/command"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 200

type consoleModel struct {
	h       *command.Handler
	input   textinput.Model
	history []string
	width   int
	height  int
}

func newConsoleModel(h *command.Handler) *consoleModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("functions> ")
	ti.Placeholder = "FUNCTION LIST"
	ti.Focus()

	return &consoleModel{
		h:     h,
		input: ti,
		history: []string{
			helpStyle.Render("Commands: FUNCTION LOAD|LIST|STATS|FLUSH|DELETE|DUMP|RESTORE|KILL, FCALL, FCALL_RO"),
			helpStyle.Render("Extras:   load <file>  (FUNCTION LOAD REPLACE from a file), quit"),
		},
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - len("functions> ") - 2

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.run(line)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) run(line string) {
	m.append(promptStyle.Render("> ") + line)

	argv := splitCommand(line)
	if len(argv) == 2 && strings.EqualFold(argv[0], "load") && !strings.EqualFold(argv[1], "load") {
		code, err := os.ReadFile(argv[1])
		if err != nil {
			m.append(errorStyle.Render("Error: " + err.Error()))
			return
		}
		argv = []string{"FUNCTION", "LOAD", "REPLACE", string(code)}
	}

	res, err := m.h.Execute(context.Background(), argv)
	if err != nil {
		m.append(errorStyle.Render("Error: " + err.Error()))
		return
	}
	reply := strings.TrimRight(formatReply(res), "\n")
	for _, l := range strings.Split(reply, "\n") {
		m.append(replyStyle.Render(l))
	}
}

func (m *consoleModel) append(line string) {
	m.history = append(m.history, line)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Functions Console"))
	b.WriteString("\n\n")

	visible := m.history
	if m.height > 0 && len(visible) > m.height-5 {
		visible = visible[len(visible)-(m.height-5):]
	}
	for _, line := range visible {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ctrl+c quit"))
	return b.String()
}

func runInteractive(h *command.Handler) error {
	p := tea.NewProgram(newConsoleModel(h), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
