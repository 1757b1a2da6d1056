// Package progress renders an inline download indicator for update runs.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	textColor      = lipgloss.Color("#F8F8F2")
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	nameStyle    = lipgloss.NewStyle().Foreground(textColor).Bold(true)
	countStyle   = lipgloss.NewStyle().Foreground(dimColor)
	barStyle     = lipgloss.NewStyle().Foreground(primaryColor)
)

const barWidth = 30

type model struct {
	spinner  spinner.Model
	progress progress.Model

	name    string
	current int64
	total   int64
	active  bool
	done    bool

	updates chan update
}

type update struct {
	name    string
	current int64
	total   int64
	active  bool
	done    bool
}

type updateMsg update

func newModel() *model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)

	return &model{
		spinner:  s,
		progress: p,
		updates:  make(chan update, 64),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

func (m *model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-m.updates)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.name = msg.name
		m.current = msg.current
		m.total = msg.total
		m.active = msg.active
		if msg.done {
			m.done = true
			return m, tea.Quit
		}
		cmds := []tea.Cmd{m.waitForUpdate()}
		if m.total > 0 {
			cmds = append(cmds, m.progress.SetPercent(m.fraction()))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *model) fraction() float64 {
	if m.total <= 0 {
		return 0
	}
	f := float64(m.current) / float64(m.total)
	if f > 1 {
		return 1
	}
	return f
}

func (m *model) View() string {
	if m.done || !m.active {
		return ""
	}

	var b strings.Builder
	b.WriteString(nameStyle.Render(m.name))
	b.WriteString(" ")
	if m.total > 0 {
		b.WriteString(barStyle.Render(m.progress.ViewAs(m.fraction())))
		b.WriteString(" ")
		b.WriteString(countStyle.Render(fmt.Sprintf("%s / %s",
			humanize.Bytes(uint64(m.current)), humanize.Bytes(uint64(m.total)))))
	} else {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(countStyle.Render(humanize.Bytes(uint64(m.current))))
	}
	return b.String()
}

// send drops the update when the program is behind; the next one carries
// the running total anyway.
func (m *model) send(u update) {
	select {
	case m.updates <- u:
	default:
	}
}

// Display shows one download at a time below the console output. It
// satisfies the syncer's progress reporter.
type Display struct {
	program *tea.Program
	model   *model
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
	name    string
	current int64
	total   int64
}

// New starts an inline display writing to w.
func New(w io.Writer) *Display {
	m := newModel()
	program := tea.NewProgram(
		m,
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	d := &Display{
		program: program,
		model:   m,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(d.done)
	}()
	return d
}

// Start begins tracking a download. total is -1 when the size is unknown.
func (d *Display) Start(name string, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.name, d.current, d.total = name, 0, total
	d.model.send(update{name: name, total: total, active: true})
}

// Advance adds n downloaded bytes.
func (d *Display) Advance(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.current += n
	d.model.send(update{name: d.name, current: d.current, total: d.total, active: true})
}

// Finish clears the indicator for the current download.
func (d *Display) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.model.send(update{})
}

// Writer returns a writer whose lines are printed above the indicator, so
// console output and the progress bar do not overwrite each other. Writes
// after Stop are dropped.
func (d *Display) Writer() io.Writer {
	return lineWriter{d: d}
}

type lineWriter struct {
	d *Display
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.d.mu.Lock()
	stopped := w.d.stopped
	w.d.mu.Unlock()
	if !stopped {
		w.d.program.Println(strings.TrimSuffix(string(p), "\n"))
	}
	return len(p), nil
}

// Stop shuts the program down and waits briefly for it to restore the
// terminal. It is safe to call more than once.
func (d *Display) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	// the channel may be full; blocking here would race with Run exiting
	select {
	case d.model.updates <- update{done: true}:
	default:
		d.program.Quit()
	}

	select {
	case <-d.done:
	case <-time.After(time.Second):
		d.program.Kill()
	}
}
