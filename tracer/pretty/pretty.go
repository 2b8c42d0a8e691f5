// Package pretty renders spans as human-readable console lines, meant for
// watching an agent run live in a terminal.
package pretty

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/logrusorgru/aurora"

	"github.com/deepaksharma/agenttrace/tracer"
)

// Printer writes one line per completed span, with tool input and output
// indented underneath. It implements the persistence contract, so it can be
// wired directly as a backend or as a tee member.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	au  aurora.Aurora
	ids bool
}

var _ tracer.Persister = (*Printer)(nil)

// New creates a printer writing to w. Colors are off unless enabled.
func New(w io.Writer) *Printer {
	return &Printer{w: w, au: aurora.NewAurora(false), ids: true}
}

// WithColors toggles ANSI colors. Returns the printer for chaining.
func (p *Printer) WithColors(enabled bool) *Printer {
	p.mu.Lock()
	p.au = aurora.NewAurora(enabled)
	p.mu.Unlock()
	return p
}

// WithIDs toggles the identifier prefix on each line. Returns the printer for
// chaining.
func (p *Printer) WithIDs(enabled bool) *Printer {
	p.mu.Lock()
	p.ids = enabled
	p.mu.Unlock()
	return p
}

// Persist renders the completed record.
func (p *Printer) Persist(tc *tracer.Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var line strings.Builder
	if p.ids {
		parent := tc.ParentSpanID
		if parent == "" {
			parent = "root"
		}
		fmt.Fprintf(&line, "%s ", p.au.Gray(12, fmt.Sprintf("[%s/%s/%s]", tc.TraceID, parent, tc.SpanID)))
	}
	fmt.Fprintf(&line, "%s %s %s (%s)",
		p.statusBadge(tc.Status),
		p.au.Bold(tc.Name),
		p.au.Faint(tc.Kind.String()),
		tc.Duration().Round(durationPrecision(tc)))
	line.WriteByte('\n')

	if v, ok := tc.Attr(tracer.AttrToolInput); ok {
		fmt.Fprintf(&line, "    %s %s\n", p.au.Cyan("in: "), indentTail(fmt.Sprint(v)))
	}
	if v, ok := tc.Attr(tracer.AttrToolOutput); ok {
		fmt.Fprintf(&line, "    %s %s\n", p.au.Green("out:"), indentTail(fmt.Sprint(v)))
	}
	if v, ok := tc.Attr(tracer.AttrError); ok {
		fmt.Fprintf(&line, "    %s %s\n", p.au.Red("err:"), indentTail(fmt.Sprint(v)))
	}

	_, err := io.WriteString(p.w, line.String())
	return err
}

func (p *Printer) statusBadge(status tracer.SpanStatus) aurora.Value {
	switch status {
	case tracer.StatusOK:
		return p.au.Green("✓")
	case tracer.StatusError:
		return p.au.Red("✗")
	default:
		return p.au.Yellow("·")
	}
}

// indentTail keeps multi-line values aligned under their label.
func indentTail(s string) string {
	return strings.ReplaceAll(s, "\n", "\n         ")
}

func durationPrecision(tc *tracer.Trace) time.Duration {
	if tc.Duration() >= time.Second {
		return 10 * time.Millisecond
	}
	return time.Microsecond
}
