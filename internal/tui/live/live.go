package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mqttwrk/internal/stats"
	"mqttwrk/internal/tui/components"
	"mqttwrk/internal/tui/styles"
)

// Model shows a running bench from aggregator snapshots.
type Model struct {
	Stats    stats.Snapshot
	Progress progress.Model

	RateLine    components.Sparkline
	SessionLine components.Sparkline

	LastElapsed   time.Duration
	LastConfirmed uint64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RateLine:    components.NewSparkline(40, "Confirmed", "msg/s", styles.Active),
		SessionLine: components.NewSparkline(40, "Sessions done", "", styles.Warn),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stats.Snapshot:
		dt := (msg.Elapsed - m.LastElapsed).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		rate := float64(msg.Confirmed-m.LastConfirmed) / dt
		if msg.Confirmed < m.LastConfirmed {
			rate = 0
		}

		m.RateLine.Add(rate)
		m.SessionLine.Add(float64(msg.Sessions))

		m.Stats = msg
		m.LastConfirmed = msg.Confirmed
		m.LastElapsed = msg.Elapsed

		return m, m.Progress.SetPercent(Fraction(msg))

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max((msg.Width/2)-6, 10)
		m.RateLine.Width = half
		m.SessionLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

// Fraction is how far along a run is, by messages when a message target is
// known and by sessions otherwise.
func Fraction(s stats.Snapshot) float64 {
	pct := 0.0
	switch {
	case s.ExpectedMessages > 0:
		pct = float64(s.Confirmed) / float64(s.ExpectedMessages)
	case s.ExpectedSessions > 0:
		pct = float64(s.Sessions) / float64(s.ExpectedSessions)
	}
	return min(pct, 1.0)
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	col1 := fmt.Sprintf("CONFIRMED: %d\nEXPECTED:  %d", st.Confirmed, st.ExpectedMessages)
	col2 := fmt.Sprintf("SESSIONS: %d/%d\nELAPSED:  %s", st.Sessions, st.ExpectedSessions, st.Elapsed.Round(time.Second))
	col3 := styles.Level(st.Reconnects).Render(fmt.Sprintf("RECONNECTS: %d", st.Reconnects))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RateLine.View()),
		styles.Box.Render(m.SessionLine.View()),
	))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())

	return s.String()
}
