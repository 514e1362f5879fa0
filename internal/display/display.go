// Package display prints received log entries to a terminal.
package display

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/akave-ai/devlog/internal/model"
)

// Printer writes one line per entry, plus metadata lines in verbose mode.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	levels map[model.Level]lipgloss.Style
	source lipgloss.Style
	muted  lipgloss.Style
}

// New returns a Printer whose color profile is detected from out.
func New(out io.Writer, verbose bool) *Printer {
	r := lipgloss.NewRenderer(out)
	style := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return &Printer{
		out:     out,
		verbose: verbose,
		levels: map[model.Level]lipgloss.Style{
			model.LevelTrace:    style("8"),
			model.LevelDebug:    style("8"),
			model.LevelInfo:     style("2"),
			model.LevelNotice:   style("4"),
			model.LevelWarning:  style("3"),
			model.LevelError:    style("1"),
			model.LevelCritical: style("5").Bold(true),
		},
		source: style("6"),
		muted:  style("8"),
	}
}

// Print renders entry as
//
//	[15:04:05.000] LEVEL [source] message
//
// with a [file:line] column and metadata lines when verbose.
func (p *Printer) Print(entry model.LogEntry) {
	var b strings.Builder
	b.WriteString("[" + entry.Timestamp.Local().Format("15:04:05.000") + "] ")
	b.WriteString(p.levels[entry.Rank()].Render(strings.ToUpper(entry.Level)))
	b.WriteByte(' ')
	b.WriteString(p.source.Render("[" + entry.Source + "]"))
	b.WriteByte(' ')
	if p.verbose && entry.File != "" {
		b.WriteString(p.muted.Render(fmt.Sprintf("[%s:%d]", filepath.Base(entry.File), entry.Line)))
		b.WriteByte(' ')
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')

	if p.verbose && len(entry.Metadata) > 0 {
		keys := make([]string, 0, len(entry.Metadata))
		for k := range entry.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(p.muted.Render("  "+k+"="+entry.Metadata[k]) + "\n")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, b.String())
}
