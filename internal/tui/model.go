package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"landmarkload/internal/report"
	"landmarkload/internal/runner"
	"landmarkload/internal/stats"
	"landmarkload/internal/tui/components"
	"landmarkload/internal/tui/styles"
)

const (
	tickInterval   = 200 * time.Millisecond
	sparklineWidth = 50
)

type tickMsg time.Time

// ProgressMsg is sent once per completed user.
type ProgressMsg struct {
	Done  int
	Total int
}

// DoneMsg carries the finished run.
type DoneMsg struct {
	Result *runner.RunResult
	Report *report.Report
	Err    error
}

type Model struct {
	Cfg      runner.Config
	Stats    *stats.Stats
	Progress progress.Model
	Cancel   context.CancelFunc

	Done      int
	Total     int
	Snapshot  stats.Snapshot
	StartTime time.Time

	// Attempts finished per tick.
	Throughput   components.Sparkline
	lastRequests uint64

	Final    *DoneMsg
	Quitting bool
	Width    int
	Height   int
}

func NewModel(cfg runner.Config, s *stats.Stats, cancel context.CancelFunc) Model {
	return Model{
		Cfg:        cfg,
		Stats:      s,
		Progress:   progress.New(progress.WithDefaultGradient()),
		Cancel:     cancel,
		Total:      cfg.Users,
		StartTime:  time.Now(),
		Throughput: components.NewSparkline(sparklineWidth, "attempts / tick", styles.Subtle),
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			if m.Cancel != nil {
				m.Cancel()
			}
			// Keep running until the runner drains and sends DoneMsg.
			if m.Final != nil {
				return m, tea.Quit
			}
		}
		return m, nil

	case ProgressMsg:
		m.Done = msg.Done
		m.Total = msg.Total
		pct := 0.0
		if msg.Total > 0 {
			pct = float64(msg.Done) / float64(msg.Total)
		}
		return m, m.Progress.SetPercent(pct)

	case tickMsg:
		if m.Stats != nil {
			m.Snapshot = m.Stats.Snapshot()
			m.Throughput.Push(m.Snapshot.Requests - m.lastRequests)
			m.lastRequests = m.Snapshot.Requests
		}
		if m.Final != nil {
			return m, nil
		}
		return m, tickCmd()

	case DoneMsg:
		m.Final = &msg
		if m.Stats != nil {
			m.Snapshot = m.Stats.Snapshot()
		}
		return m, tea.Quit

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("Landmark Inference Load Test"))
	s.WriteString("\n\n")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s  |  %d users x %d requests",
		m.Cfg.URL, m.Cfg.Users, m.Cfg.RequestsPerUser)))
	s.WriteString("\n\n")

	snap := m.Snapshot
	errStyle := styles.Active
	if snap.Fail > 0 {
		errStyle = styles.Error
	}

	col1 := fmt.Sprintf("USERS: %d/%d\nINF:   %d", m.Done, m.Total, snap.Inflight)
	col2 := fmt.Sprintf("OK:   %d\nFAIL: %d", snap.Success, snap.Fail)
	col3 := fmt.Sprintf("P50: %s\nP99: %s", snap.P50.Round(time.Millisecond), snap.P99.Round(time.Millisecond))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(errStyle.Render(col2)),
		styles.Box.Render(col3),
	))
	s.WriteString("\n")
	s.WriteString(m.Throughput.View())
	s.WriteString("\n\n")
	s.WriteString(m.Progress.View())
	s.WriteString("\n")

	if m.Final != nil {
		if m.Final.Report != nil {
			var b strings.Builder
			_ = report.Render(&b, m.Final.Report)
			s.WriteString(b.String())
		}
		if m.Final.Err != nil && !report.IsNoData(m.Final.Err) {
			s.WriteString(styles.Error.Render("run error: " + m.Final.Err.Error()))
			s.WriteString("\n")
		}
		return s.String()
	}

	if m.Quitting {
		s.WriteString(styles.Warn.Render("Canceling, waiting for in-flight requests..."))
	} else {
		s.WriteString(styles.RenderKey("q", "cancel run"))
	}
	s.WriteString("\n")
	return s.String()
}

// Run drives r under a bubbletea program and returns once the run has
// finished and the final frame is drawn.
func Run(ctx context.Context, cfg runner.Config, opts ...runner.Option) (*DoneMsg, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	opts = append(opts, runner.WithProgress(func(done, total int) {
		p.Send(ProgressMsg{Done: done, Total: total})
	}))
	r := runner.NewRunner(cfg, opts...)

	p = tea.NewProgram(NewModel(cfg, r.Stats, cancel))

	go func() {
		res, err := r.Run(ctx)
		msg := DoneMsg{Result: res, Err: err}
		if res != nil {
			rep, repErr := report.Build(res)
			msg.Report = rep
			if msg.Err == nil {
				msg.Err = repErr
			}
		}
		p.Send(msg)
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	m := final.(Model)
	if m.Final == nil {
		return nil, fmt.Errorf("tui exited before the run finished")
	}
	return m.Final, nil
}
