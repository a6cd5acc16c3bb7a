// Package progress renders a live terminal table of source purges while
// their jobs run.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/jobs"
)

const maxVisibleRows = 20

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // Green
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // Blue
)

var columns = []table.Column{
	{Title: "Source", Width: 28},
	{Title: "Stage", Width: 10},
	{Title: "Job", Width: 24},
	{Title: "Status", Width: 22},
	{Title: "Polls", Width: 6},
	{Title: "Error", Width: 40},
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type row struct {
	source string
	stage  jobs.Stage
	jobID  string
	status catalog.JobStatus
	polls  int
	err    string
}

// state is the health of a row as shown in the footer.
func (r row) state() string {
	switch {
	case r.err != "":
		return "failed"
	case r.stage != jobs.StageDone:
		return "active"
	case r.status == catalog.JobCompleted:
		return "completed"
	default:
		return "unclean"
	}
}

type eventMsg jobs.Event

type pollMsg jobs.Poll

type finishMsg struct{}

type model struct {
	spinner  spinner.Model
	table    table.Model
	rows     map[string]*row
	order    []string
	started  time.Time
	now      func() time.Time
	finished bool
}

func newModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithStyles(styles),
	)

	return model{
		spinner: s,
		table:   t,
		rows:    make(map[string]*row),
		started: time.Now(),
		now:     time.Now,
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		r := m.row(msg.Source)
		r.stage = msg.Stage
		if msg.JobID != "" {
			r.jobID = msg.JobID
		}
		if o := msg.Outcome; o != nil {
			if o.Status != "" {
				r.status = o.Status
			}
			r.err = o.ErrText()
		}
		m.refresh()

	case pollMsg:
		r := m.row(msg.Label)
		r.polls = msg.N
		if msg.JobID != "" {
			r.jobID = msg.JobID
		}
		if msg.Err == nil {
			r.status = msg.Status
		}
		m.refresh()

	case finishMsg:
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *model) row(source string) *row {
	r, ok := m.rows[source]
	if !ok {
		r = &row{source: source, stage: jobs.StageQueued}
		m.rows[source] = r
		m.order = append(m.order, source)
	}
	return r
}

func (m *model) refresh() {
	rows := make([]table.Row, 0, len(m.order))
	for _, name := range m.order {
		r := m.rows[name]
		polls := ""
		if r.polls > 0 {
			polls = strconv.Itoa(r.polls)
		}
		rows = append(rows, table.Row{r.source, string(r.stage), r.jobID, string(r.status), polls, r.err})
	}
	m.table.SetHeight(min(len(rows), maxVisibleRows) + 2)
	m.table.SetRows(rows)
}

func (m model) counts() map[string]int {
	c := make(map[string]int)
	for _, r := range m.rows {
		c[r.state()]++
	}
	return c
}

func (m model) View() string {
	var sb strings.Builder

	header := m.spinner.View() + " Purging catalog sources"
	if m.finished {
		header = "Source purge finished"
	}
	elapsed := m.now().Sub(m.started).Truncate(time.Second)
	sb.WriteString(titleStyle.Render(header) + subtleStyle.Render(fmt.Sprintf("  %s", elapsed)) + "\n\n")

	if len(m.order) == 0 {
		sb.WriteString(subtleStyle.Render("Listing sources...") + "\n")
		return sb.String()
	}
	sb.WriteString(m.table.View() + "\n\n")

	c := m.counts()
	status := strings.Join([]string{
		okStyle.Render(fmt.Sprintf("%d completed", c["completed"])),
		warnStyle.Render(fmt.Sprintf("%d unclean", c["unclean"])),
		errorStyle.Render(fmt.Sprintf("%d failed", c["failed"])),
		infoStyle.Render(fmt.Sprintf("%d active", c["active"])),
	}, subtleStyle.Render(" • "))
	sb.WriteString(status + "\n")
	return sb.String()
}

// Board is a running progress view. Its methods are safe to call from
// any goroutine, and become no-ops once the view has stopped.
type Board struct {
	p    *tea.Program
	done chan error
}

// Start renders the board on out until Stop is called or ctx ends. The
// board never reads from the terminal.
func Start(ctx context.Context, out io.Writer) *Board {
	p := tea.NewProgram(newModel(),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	b := &Board{p: p, done: make(chan error, 1)}
	go func() {
		_, err := p.Run()
		b.done <- err
	}()
	return b
}

// Event feeds a source stage change. It matches jobs.SourceConfig.OnEvent.
func (b *Board) Event(e jobs.Event) { b.p.Send(eventMsg(e)) }

// Poll feeds a job status read. It matches jobs.WithPollHook.
func (b *Board) Poll(p jobs.Poll) { b.p.Send(pollMsg(p)) }

// Stop draws the final table and waits for the view to exit.
func (b *Board) Stop() error {
	b.p.Send(finishMsg{})
	err := <-b.done
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
