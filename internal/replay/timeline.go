// Package replay drives a recorded session timeline through the classifier on
// a manual clock, so trigger behaviour can be inspected offline.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// Offset is a position in the timeline relative to the session start. It
// decodes from a Go duration string ("1m30s") or a number of seconds.
type Offset time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (o *Offset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", s, err)
		}
		*o = Offset(d)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("offset must be a duration string or seconds: %s", data)
	}
	*o = Offset(time.Duration(secs * float64(time.Second)))
	return nil
}

// Entry is one line of a timeline. At most one of Segments, Event and
// Command is set; an entry with none of them only advances the clock.
type Entry struct {
	At       Offset                     `json:"at"`
	Segments []domain.TranscriptSegment `json:"segments,omitempty"`
	Event    *domain.GameEvent          `json:"event,omitempty"`
	Command  string                     `json:"command,omitempty"`

	line int
}

var errOutOfOrder = errors.New("timeline entries must be in time order")

// ParseTimeline reads newline-delimited JSON entries. Blank lines and lines
// starting with '#' are skipped.
func ParseTimeline(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		last    Offset
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if e.At < 0 {
			return nil, fmt.Errorf("line %d: negative offset", lineNo)
		}
		if e.At < last {
			return nil, fmt.Errorf("line %d: %w", lineNo, errOutOfOrder)
		}
		if kinds := e.kinds(); kinds > 1 {
			return nil, fmt.Errorf("line %d: entry mixes segments, event and command", lineNo)
		}
		if e.Event != nil && e.Event.EventType == "" {
			return nil, fmt.Errorf("line %d: event.event_type is required", lineNo)
		}
		if e.Command != "" {
			if _, ok := domain.ParseCommand(e.Command); !ok {
				return nil, fmt.Errorf("line %d: %q is not a slash command", lineNo, e.Command)
			}
		}
		e.line = lineNo
		last = e.At
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return entries, nil
}

func (e Entry) kinds() int {
	n := 0
	if len(e.Segments) > 0 {
		n++
	}
	if e.Event != nil {
		n++
	}
	if e.Command != "" {
		n++
	}
	return n
}
