package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ashureev/sidekick/internal/domain"
)

// Printer is a classifier sink that writes every batch and activation as it
// happens, stamped with the offset from the session start.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	start  time.Time
	now    func() time.Time
	asJSON bool
	plain  bool

	batches int
	events  map[domain.TriggerType]int
}

// NewPrinter creates a printer. now reports the replay clock.
func NewPrinter(w io.Writer, start time.Time, now func() time.Time, asJSON, plain bool) *Printer {
	return &Printer{
		w:      w,
		start:  start,
		now:    now,
		asJSON: asJSON,
		plain:  plain,
		events: make(map[domain.TriggerType]int),
	}
}

type jsonLine struct {
	Offset     string                  `json:"offset"`
	Batch      *domain.TriggerBatch    `json:"batch,omitempty"`
	Activation domain.ActivationSource `json:"activation,omitempty"`
}

// DeliverBatch implements classifier.Sink.
func (p *Printer) DeliverBatch(b domain.TriggerBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches++
	for _, ev := range b.Events {
		p.events[ev.Type]++
	}

	if p.asJSON {
		p.writeJSON(jsonLine{Offset: p.offset(), Batch: &b})
		return
	}

	prio := b.HighestPriority()
	header := p.paint(priorityColor(prio), fmt.Sprintf("%-3s batch", prio))
	fmt.Fprintf(p.w, "%s  %s %s (%d events)\n", p.offset(), header, shortID(b.ID), len(b.Events))
	for _, ev := range b.Events {
		fmt.Fprintf(p.w, "          %s %s [%s]%s\n",
			p.paint(priorityColor(ev.Priority), ev.Priority.String()),
			ev.Type, ev.Source, formatData(ev.Data))
	}
}

// Activated implements classifier.Sink.
func (p *Printer) Activated(src domain.ActivationSource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asJSON {
		p.writeJSON(jsonLine{Offset: p.offset(), Activation: src})
		return
	}
	fmt.Fprintf(p.w, "%s  %s via %s\n", p.offset(), p.paint(color.New(color.FgHiGreen, color.Bold), "ACTIVE"), src)
}

// Note writes an informational line, such as a command result.
func (p *Printer) Note(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		return
	}
	fmt.Fprintf(p.w, "%s  %s\n", p.offset(), p.paint(color.New(color.FgHiBlack), fmt.Sprintf(format, args...)))
}

// Counts returns the number of batches and events seen per trigger type.
func (p *Printer) Counts() (int, map[domain.TriggerType]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.TriggerType]int, len(p.events))
	for k, v := range p.events {
		out[k] = v
	}
	return p.batches, out
}

func (p *Printer) offset() string {
	d := p.now().Sub(p.start).Round(time.Second)
	return fmt.Sprintf("+%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func (p *Printer) paint(c *color.Color, s string) string {
	if p.plain {
		return s
	}
	return c.Sprint(s)
}

func (p *Printer) writeJSON(v jsonLine) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(p.w, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(p.w, string(data))
}

func priorityColor(prio domain.TriggerPriority) *color.Color {
	switch prio {
	case domain.P1:
		return color.New(color.FgRed, color.Bold)
	case domain.P2:
		return color.New(color.FgYellow)
	case domain.P3:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgHiBlack)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}
