package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/lifecycle"
	"github.com/wippyai/scriptbridge/value"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
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

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580")).
			Width(22)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxRecentErrors = 3

type interactiveModel struct {
	ctx      context.Context
	app      *app
	err      error
	result   string
	funcs    []function.Info
	inputs   []textinput.Model
	recent   []string
	scripts  []lifecycle.Snapshot
	loaded   int
	interval time.Duration
	selected int
	offset   int
	focusIdx int
	scriptAt int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
	stateScripts
)

const visibleFuncs = 15

func newInteractiveModel(ctx context.Context, a *app, interval time.Duration) *interactiveModel {
	m := &interactiveModel{
		ctx:      ctx,
		app:      a,
		funcs:    a.registry.List(),
		interval: interval,
		state:    stateSelectFunc,
	}
	m.refresh()
	return m
}

type tickMsg time.Time

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.scheduleTick()
}

func (m *interactiveModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh applies queued inputs and collects failures for the status line.
func (m *interactiveModel) refresh() {
	if err := m.app.tick(m.ctx); err != nil {
		m.pushError(err.Error())
	}
	for _, ev := range m.app.manager.Errors() {
		m.pushError(ev.Error())
	}
	m.scripts = m.app.manager.Snapshot()
	m.loaded = 0
	for _, s := range m.scripts {
		if s.State == lifecycle.StateLoaded {
			m.loaded++
		}
	}
	if m.scriptAt >= len(m.scripts) {
		m.scriptAt = max(len(m.scripts)-1, 0)
	}
}

func (m *interactiveModel) pushError(msg string) {
	m.recent = append(m.recent, msg)
	if len(m.recent) > maxRecentErrors {
		m.recent = m.recent[len(m.recent)-maxRecentErrors:]
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "s":
			switch m.state {
			case stateSelectFunc:
				m.state = stateScripts
			case stateScripts:
				m.state = stateSelectFunc
			}

		case "r":
			if m.state == stateScripts && len(m.scripts) > 0 {
				m.app.manager.Reload(m.scripts[m.scriptAt].Attachment.Script)
			}

		case "d":
			if m.state == stateScripts && len(m.scripts) > 0 {
				m.app.manager.Detach(m.scripts[m.scriptAt].Attachment)
			}

		case "up", "k":
			if m.state == stateScripts && m.scriptAt > 0 {
				m.scriptAt--
			}
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
				if m.selected < m.offset {
					m.offset = m.selected
				}
			}

		case "down", "j":
			if m.state == stateScripts && m.scriptAt < len(m.scripts)-1 {
				m.scriptAt++
			}
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
				if m.selected >= m.offset+visibleFuncs {
					m.offset = m.selected - visibleFuncs + 1
				}
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult, stateScripts:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case tickMsg:
		m.refresh()
		return m, m.scheduleTick()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	if f.Arity < 0 {
		ti := textinput.New()
		ti.Placeholder = "space separated values"
		ti.Prompt = "args: "
		ti.Width = 40
		ti.Focus()
		m.inputs = []textinput.Model{ti}
		m.focusIdx = 0
		return
	}

	m.inputs = make([]textinput.Model, len(f.ArgTypes))
	for i, t := range f.ArgTypes {
		ti := textinput.New()
		ti.Placeholder = function.TypeString(t)
		ti.Prompt = argName(f, i) + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]

	var args []value.Value
	if f.Arity < 0 {
		if len(m.inputs) == 1 {
			for _, field := range strings.Fields(m.inputs[0].Value()) {
				args = append(args, parseLiteral(field))
			}
		}
	} else {
		args = make([]value.Value, len(m.inputs))
		for i, input := range m.inputs {
			v, err := parseArg(input.Value(), f.ArgTypes[i])
			if err != nil {
				return callResultMsg{err: fmt.Errorf("%s: %w", argName(f, i), err)}
			}
			args[i] = v
		}
	}

	cc := function.NewCallContext(m.ctx, m.app.world, m.app.registry,
		function.WithIndexBase(m.app.cfg.Scripts.IndexBase))
	// the result is rendered before anything it allocated is freed
	defer cc.Release()
	out, err := m.app.registry.Call(cc, f.Namespace, f.Name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	if out.IsError() {
		return callResultMsg{err: out.Err()}
	}
	return callResultMsg{result: out.String()}
}

// parseArg converts typed input text to the value a parameter of type t
// accepts.
func parseArg(s string, t wit.Type) (value.Value, error) {
	switch t.(type) {
	case wit.String, wit.Char:
		return value.String(s), nil
	case wit.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case wit.S8, wit.S16, wit.S32, wit.S64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Integer(n), nil
	case wit.U8, wit.U16, wit.U32, wit.U64:
		n, err := strconv.ParseUint(s, 10, 63)
		if err != nil {
			return value.Value{}, err
		}
		return value.Integer(int64(n)), nil
	case wit.F32, wit.F64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(f), nil
	default:
		return parseLiteral(s), nil
	}
}

// parseLiteral guesses the kind of untyped input: integers, floats, bools
// and "()" are recognized, anything else is a string.
func parseLiteral(s string) value.Value {
	if s == "()" {
		return value.Unit()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Integer(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return value.Bool(b)
	}
	return value.String(strings.Trim(s, `"`))
}

func argName(f function.Info, i int) string {
	if i < len(f.ArgNames) && f.ArgNames[i] != "" {
		return f.ArgNames[i]
	}
	return fmt.Sprintf("arg%d", i)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Script Bridge"))
	b.WriteString(" ")
	b.WriteString(m.app.cfg.Scripts.Root)
	b.WriteString(fmt.Sprintf("  %d loaded, %d contexts\n\n", m.loaded, len(m.app.manager.Contexts())))

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		end := min(m.offset+visibleFuncs, len(m.funcs))
		for i := m.offset; i < end; i++ {
			f := m.funcs[i]
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • s scripts • q quit"))

	case stateScripts:
		b.WriteString("Attached scripts:\n\n")
		if len(m.scripts) == 0 {
			b.WriteString(helpStyle.Render("  nothing attached"))
			b.WriteString("\n")
		}
		for i, snap := range m.scripts {
			row := formatSnapshot(snap)
			if i == m.scriptAt {
				b.WriteString(selectedStyle.Render("> " + row))
			} else {
				b.WriteString("  " + row)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • r reload • d detach • s functions • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Signature())))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	if len(m.recent) > 0 {
		b.WriteString("\n\n")
		for _, e := range m.recent {
			b.WriteString(errorStyle.Render(e))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatFunc(f function.Info) string {
	var params []string
	for i, t := range f.ArgTypes {
		params = append(params, argName(f, i)+": "+typeStyle.Render(function.TypeString(t)))
	}
	if f.Arity < 0 {
		params = append(params, typeStyle.Render("..."))
	}
	name := f.Name
	if !f.Namespace.IsGlobal() {
		name = f.Namespace.String() + "." + name
	}
	result := ""
	if f.Return != nil {
		result = " -> " + typeStyle.Render(function.TypeString(f.Return))
	}
	return funcStyle.Render(name) + "(" + strings.Join(params, ", ") + ")" + result
}

func formatSnapshot(s lifecycle.Snapshot) string {
	row := stateStyle.Render(s.State.String()) + funcStyle.Render(s.Attachment.String())
	if s.State == lifecycle.StateLoaded {
		row += typeStyle.Render(fmt.Sprintf("  context %d", s.Context))
	}
	return row
}

func runInteractive(ctx context.Context, a *app, interval time.Duration) error {
	p := tea.NewProgram(newInteractiveModel(ctx, a, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
