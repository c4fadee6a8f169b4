package result

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mqttwrk/internal/stats"
	"mqttwrk/internal/tui/styles"
)

// Model shows the final report of a run.
type Model struct {
	Report           *stats.Report
	ExpectedPublish  uint64
	ExpectedIncoming uint64
	Err              error

	Width  int
	Height int
}

func NewModel(r *stats.Report, expectedPublish, expectedIncoming uint64, err error) Model {
	return Model{Report: r, ExpectedPublish: expectedPublish, ExpectedIncoming: expectedIncoming, Err: err}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("📊 Run Complete"))
	s.WriteString("\n\n")

	if m.Err != nil {
		s.WriteString(styles.Error.Render("Error: " + m.Err.Error()))
		s.WriteString("\n\n")
	}
	r := m.Report
	if r == nil {
		s.WriteString(styles.Subtle.Render("Press q to quit"))
		return s.String()
	}

	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	overview := fmt.Sprintf(
		"Sessions:         %d/%d\nOutgoing Publish: %s\nIncoming Publish: %s\nPubAcks:          %d\nReconnects:       %s\nDuration:         %s",
		r.Sessions, r.ExpectedSessions,
		ratio(r.OutgoingPublish, m.ExpectedPublish),
		ratio(r.PublishCount, m.ExpectedIncoming),
		r.AckCount,
		styles.Level(r.Reconnects).Render(fmt.Sprint(r.Reconnects)),
		r.Elapsed.Round(time.Millisecond),
	)
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	if r.Latency != nil && r.Latency.Count() > 0 {
		s.WriteString(styles.Active.Render("Publish Latency"))
		s.WriteString("\n")
		p := r.Latency.Percentiles()
		latency := fmt.Sprintf(
			"P50:     %s\nP90:     %s\nP99.99:  %s\nP99.999: %s\nMax:     %s\nSamples: %d",
			p.P50, p.P90, p.P9999, p.P99999, p.Max, p.Count,
		)
		s.WriteString(styles.Box.Render(latency))
		s.WriteString("\n\n")
	}

	s.WriteString(styles.Subtle.Render("Press q to quit"))
	return s.String()
}

func ratio(got, want uint64) string {
	v := fmt.Sprintf("%d/%d", got, want)
	if got < want {
		return styles.Warn.Render(v)
	}
	return styles.Value.Render(v)
}
