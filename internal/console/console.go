// Package console prints leveled, styled status lines for the CLI.
//
// A Logger is a plain value handed to whoever needs to report progress; it
// holds no global state beyond its writer and styles. Every line is also
// mirrored to the debug log.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"mmu/internal/debug"
)

// Level classifies a console line.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelSuccess
	LevelFatal
)

// String returns the lowercase label for the level.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelSuccess:
		return "success"
	case LevelFatal:
		return "fatal"
	default:
		return "info"
	}
}

var (
	cCyan   = lipgloss.Color("39")
	cOrange = lipgloss.Color("208")
	cGreen  = lipgloss.Color("118")
	cRed    = lipgloss.Color("196")
	cGray   = lipgloss.Color("240")
)

// Logger writes leveled lines to an io.Writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	labels map[Level]lipgloss.Style
	dim    lipgloss.Style
}

// Option configures a Logger.
type Option func(*loggerSettings)

type loggerSettings struct {
	plain bool
}

// WithPlain disables colors regardless of the terminal.
func WithPlain(plain bool) Option {
	return func(s *loggerSettings) {
		s.plain = plain
	}
}

// New creates a Logger writing to w. A nil writer means stdout.
func New(w io.Writer, opts ...Option) *Logger {
	if w == nil {
		w = os.Stdout
	}
	settings := loggerSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	r := lipgloss.NewRenderer(w)
	if settings.plain {
		r.SetColorProfile(termenv.Ascii)
	}

	label := func(c lipgloss.TerminalColor) lipgloss.Style {
		return r.NewStyle().Foreground(c).Bold(true)
	}
	return &Logger{
		out: w,
		labels: map[Level]lipgloss.Style{
			LevelInfo:    label(cCyan),
			LevelWarning: label(cOrange),
			LevelSuccess: label(cGreen),
			LevelFatal:   label(cRed),
		},
		dim: r.NewStyle().Foreground(cGray),
	}
}

// Writer exposes the current writer for block output such as tables.
func (l *Logger) Writer() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out
}

// Redirect sends every line to w until restore is called. Styles keep the
// color profile detected for the original writer.
func (l *Logger) Redirect(w io.Writer) (restore func()) {
	l.mu.Lock()
	prev := l.out
	l.out = w
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.out = prev
		l.mu.Unlock()
	}
}

// Infof prints an informational line.
func (l *Logger) Infof(format string, args ...any) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...))
}

// Warningf prints a warning line. Warnings never stop the run.
func (l *Logger) Warningf(format string, args ...any) {
	l.emit(LevelWarning, fmt.Sprintf(format, args...))
}

// Successf prints a success line.
func (l *Logger) Successf(format string, args ...any) {
	l.emit(LevelSuccess, fmt.Sprintf(format, args...))
}

// Fatalf prints a fatal line. Exiting is left to the caller.
func (l *Logger) Fatalf(format string, args ...any) {
	l.emit(LevelFatal, fmt.Sprintf(format, args...))
}

// Detailf prints an indented, dimmed continuation line.
func (l *Logger) Detailf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, "    %s\n", l.dim.Render(msg))
}

// Print writes a block of text verbatim, adding a trailing newline if missing.
func (l *Logger) Print(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, _ = io.WriteString(l.out, text)
}

func (l *Logger) emit(level Level, msg string) {
	debug.Event().Str("level", level.String()).Msg(msg)

	tag := l.labels[level].Render(fmt.Sprintf("%-7s", level.String()))
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, "%s %s\n", tag, msg)
}
