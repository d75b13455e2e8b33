// Package sse implements the server-sent-event framing used on the wire
// between the gateway and both its clients and the upstream dialect
// providers: a lossless, lazy parser and its inverse serializer.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

// doneMarker is the synthetic terminal payload used by every dialect
// this gateway speaks.
const doneMarker = "[DONE]"

// Event is one parsed SSE record. Data holds the parsed JSON payload
// when the record is neither the [DONE] marker nor unparseable; Raw is
// set instead when json.Unmarshal failed, so parse failures are never
// silently dropped.
type Event struct {
	EventName string
	ID        string
	Retry     string
	Data      json.RawMessage
	Done      bool
	Raw       bool
	RawData   string
}

// Parser reads a byte stream and exposes a lazy sequence of Events,
// splitting records on blank lines per the SSE framing rules.
type Parser struct {
	sc *bufio.Scanner
}

// NewParser wraps r for event-at-a-time consumption.
func NewParser(r io.Reader) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Parser{sc: sc}
}

func trimFieldValue(s string) string {
	if strings.HasPrefix(s, " ") {
		return s[1:]
	}
	return s
}

// Next returns the next event, or ok=false at clean end of stream. An
// incomplete terminal record (no trailing blank line before EOF) is
// still flushed as a final event, per §4.B.
func (p *Parser) Next() (ev *Event, ok bool, err error) {
	var dataLines []string
	var any bool
	var out Event

	for p.sc.Scan() {
		line := p.sc.Text()
		if line == "" {
			if !any {
				continue
			}
			finalize(&out, dataLines)
			return &out, true, nil
		}
		any = true
		switch {
		case strings.HasPrefix(line, "event:"):
			out.EventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			out.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "retry:"):
			out.Retry = strings.TrimSpace(strings.TrimPrefix(line, "retry:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment line, ignored per the SSE framing rules
		default:
			// unrecognized field name: ignored rather than rejected
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, false, fmt.Errorf("sse: scan: %w", err)
	}
	if any {
		finalize(&out, dataLines)
		return &out, true, nil
	}
	return nil, false, nil
}

func finalize(out *Event, dataLines []string) {
	if len(dataLines) == 0 {
		return
	}
	data := strings.Join(dataLines, "\n")
	if data == doneMarker {
		out.Done = true
		return
	}
	if !json.Valid([]byte(data)) {
		out.Raw = true
		out.RawData = data
		return
	}
	out.Data = json.RawMessage(data)
}

// Serialize writes ev back out in standard SSE framing. Serialize is the
// inverse of Parser.Next: parsing the bytes it writes reproduces an
// equivalent Event, modulo whitespace inside the data payload.
func Serialize(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.EventName != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.EventName)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Retry != "" {
		fmt.Fprintf(&b, "retry: %s\n", ev.Retry)
	}
	switch {
	case ev.Done:
		b.WriteString("data: " + doneMarker + "\n")
	case ev.Raw:
		fmt.Fprintf(&b, "data: %s\n", ev.RawData)
	default:
		fmt.Fprintf(&b, "data: %s\n", string(ev.Data))
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// ParseMessage decodes a canonical MessageEvent out of ev's data payload.
// Callers should check ev.Done / ev.Raw before calling this.
func ParseMessage(ev Event) (*canonical.MessageEvent, error) {
	var msg canonical.MessageEvent
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		return nil, fmt.Errorf("sse: decode message event: %w", err)
	}
	return &msg, nil
}

// WriteMessage serializes a canonical MessageEvent as an SSE record
// whose event name mirrors the payload's type field, matching §6.
func WriteMessage(w io.Writer, msg canonical.MessageEvent) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sse: encode message event: %w", err)
	}
	return Serialize(w, Event{EventName: string(msg.Type), Data: data})
}

// WriteDone writes the terminal [DONE] record.
func WriteDone(w io.Writer) error {
	return Serialize(w, Event{Done: true})
}
