// Package tui is the interactive live view of a bench run.
package tui

import (
	"context"
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"mqttwrk/internal/stats"
	"mqttwrk/internal/tui/live"
	"mqttwrk/internal/tui/result"
	"mqttwrk/internal/tui/styles"
)

// DoneMsg carries the outcome of the run into the view.
type DoneMsg struct {
	Report *stats.Report
	Err    error
}

// Expect is what the result view compares the report against.
type Expect struct {
	Publish  uint64
	Incoming uint64
}

type Model struct {
	Title  string
	Header []string

	Live   live.Model
	Result *result.Model
	Expect Expect

	Updates  stats.UpdateChan
	Quitting bool

	width, height int
}

func NewModel(title string, header []string, updates stats.UpdateChan, expect Expect) Model {
	return Model{
		Title:   title,
		Header:  header,
		Live:    live.NewModel(),
		Expect:  expect,
		Updates: updates,
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.Updates)
}

func waitForUpdate(sub stats.UpdateChan) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		if m.Result != nil {
			r, _ := m.Result.Update(msg)
			m.Result = &r
		}
		return m, cmd

	case stats.Snapshot:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		if msg.Done {
			return m, cmd
		}
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))

	case DoneMsg:
		r := result.NewModel(msg.Report, m.Expect.Publish, m.Expect.Incoming, msg.Err)
		r.Width, r.Height = m.width, m.height
		m.Result = &r
		return m, nil
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("🚀 " + m.Title))
	s.WriteString("\n")
	for _, h := range m.Header {
		s.WriteString(styles.Subtle.Render(h))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	if m.Result != nil {
		s.WriteString(m.Result.View())
		return s.String()
	}
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "stop and quit"))
	return s.String()
}

// Run shows the live view while run executes. Quitting early cancels run; the
// report is returned either way once run has returned.
func Run(ctx context.Context, m Model, run func(context.Context) (*stats.Report, error)) (*stats.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan DoneMsg, 1)
	go func() {
		report, err := run(ctx)
		msg := DoneMsg{Report: report, Err: err}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil && !isKilled(err) {
		cancel()
		<-done
		return nil, err
	}
	cancel()
	msg := <-done
	return msg.Report, msg.Err
}

func isKilled(err error) bool {
	return errors.Is(err, tea.ErrProgramKilled)
}
