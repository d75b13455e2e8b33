// Package memtag implements the <remember> memory-tag wire format
// (§6) and the streaming-safe tag-stripping transform described in §9:
// a tag may straddle chunk boundaries, so a naive per-delta regex strip
// would either leak a partial tag to the client or silently drop text
// that turns out not to be a tag.
package memtag

import (
	"regexp"
	"strings"
)

// Tag is one extracted <remember> element.
type Tag struct {
	Scope    string
	Category string
	Content  string
}

// openTagRe matches the opening <remember ...> tag and its attribute
// blob; attribute order, quoting, and name case are all flexible per §6.
var openTagRe = regexp.MustCompile(`(?i)<remember([^>]*)>`)

var closeTagRe = regexp.MustCompile(`(?i)</remember\s*>`)

var attrRe = regexp.MustCompile(`(?i)([a-z]+)\s*=\s*(?:"([^"]*)"|'([^']*)'|(\S+))`)

func parseAttrs(blob string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(blob, -1) {
		name := strings.ToLower(m[1])
		val := m[2]
		if val == "" {
			val = m[3]
		}
		if val == "" {
			val = m[4]
		}
		out[name] = val
	}
	return out
}

// Extract scans text for complete <remember>...</remember> elements,
// returning the text with every matched element removed and the tags
// found, in order of appearance. Used for one-shot (non-streaming)
// extraction over a whole response body.
func Extract(text string) (string, []Tag) {
	var tags []Tag
	var out strings.Builder
	rest := text

	for {
		openLoc := openTagRe.FindStringSubmatchIndex(rest)
		if openLoc == nil {
			out.WriteString(rest)
			break
		}
		openStart, openEnd := openLoc[0], openLoc[1]
		attrsBlob := rest[openLoc[2]:openLoc[3]]

		closeLoc := closeTagRe.FindStringIndex(rest[openEnd:])
		if closeLoc == nil {
			// No matching close tag anywhere ahead: not a complete
			// element, leave the rest untouched.
			out.WriteString(rest)
			break
		}
		contentStart := openEnd
		contentEnd := openEnd + closeLoc[0]
		closeEnd := openEnd + closeLoc[1]

		out.WriteString(rest[:openStart])
		attrs := parseAttrs(attrsBlob)
		tags = append(tags, Tag{
			Scope:    attrs["scope"],
			Category: attrs["category"],
			Content:  strings.TrimSpace(rest[contentStart:contentEnd]),
		})
		rest = rest[closeEnd:]
	}

	return out.String(), tags
}

// maxPendingTail bounds how much unresolved suffix a Stripper holds
// back while waiting for more input: longer than the longest tag name
// and attribute blob this wire format defines, short enough that a
// stuck stream can't accumulate unbounded memory.
const maxPendingTail = 4096

// Stripper incrementally strips <remember> tags from a stream of text
// deltas, buffering only as much as necessary to avoid ever emitting a
// partial tag or a partial piece of tag content to the client (§9).
type Stripper struct {
	buf strings.Builder
}

// NewStripper returns a fresh per-content-block stripper.
func NewStripper() *Stripper { return &Stripper{} }

// Feed appends delta to the block buffered so far and returns the
// portion of text now safe to emit to the client (with any complete
// tags removed) plus any tags that were completed by this feed.
//
// "Safe to emit" means: text before the start of any open tag that
// hasn't yet seen its closing </remember>, and text before a trailing
// fragment that could still grow into the literal "<remember". The
// unsafe remainder stays buffered for the next Feed or for Flush.
func (s *Stripper) Feed(delta string) (emit string, tags []Tag) {
	s.buf.WriteString(delta)
	buf := s.buf.String()

	var out strings.Builder
	for {
		openLoc := openTagRe.FindStringSubmatchIndex(buf)
		if openLoc == nil {
			break
		}
		closeLoc := closeTagRe.FindStringIndex(buf[openLoc[1]:])
		if closeLoc == nil {
			// Opening tag complete but no close yet: emit everything
			// before it and hold the tag (and anything after) back.
			out.WriteString(buf[:openLoc[0]])
			buf = buf[openLoc[0]:]
			s.buf.Reset()
			s.buf.WriteString(buf)
			return out.String(), tags
		}
		attrs := parseAttrs(buf[openLoc[2]:openLoc[3]])
		contentStart := openLoc[1]
		contentEnd := openLoc[1] + closeLoc[0]
		closeEnd := openLoc[1] + closeLoc[1]

		out.WriteString(buf[:openLoc[0]])
		tags = append(tags, Tag{
			Scope:    attrs["scope"],
			Category: attrs["category"],
			Content:  strings.TrimSpace(buf[contentStart:contentEnd]),
		})
		buf = buf[closeEnd:]
	}

	// No open tag found in the remainder. Two risks remain: a literal
	// "<remember" that's spelled out in full but still missing its
	// closing '>' (openTagRe can't match yet), and a trailing prefix of
	// "<remember" that could still grow into one on the next delta.
	var safeLen int
	if idx := strings.Index(strings.ToLower(buf), "<remember"); idx >= 0 {
		safeLen = idx
	} else {
		safeLen = len(buf) - longestOpenTagPrefixSuffix(buf)
	}
	if safeLen < 0 {
		safeLen = 0
	}
	if safeLen > len(buf) {
		safeLen = len(buf)
	}
	out.WriteString(buf[:safeLen])
	held := buf[safeLen:]
	if len(held) > maxPendingTail {
		// Pathological input: give up holding back and flush it all,
		// rather than growing the buffer without bound.
		out.WriteString(held)
		held = ""
	}
	s.buf.Reset()
	s.buf.WriteString(held)

	return out.String(), tags
}

// Flush ends the block: whatever remains buffered is emitted as-is
// (tags stripped whole where they completed, otherwise left untouched
// since a dangling unclosed tag at end-of-block is not this format).
func (s *Stripper) Flush() (emit string, tags []Tag) {
	remaining := s.buf.String()
	s.buf.Reset()
	stripped, trailing := Extract(remaining)
	return stripped, trailing
}

// longestOpenTagPrefixSuffix returns the length of the longest suffix
// of buf that is a proper prefix of the literal "<remember" (so it
// might still grow into an opening tag with more input).
func longestOpenTagPrefixSuffix(buf string) int {
	const needle = "<remember"
	maxLen := len(needle) - 1
	if maxLen > len(buf) {
		maxLen = len(buf)
	}
	for l := maxLen; l > 0; l-- {
		if strings.EqualFold(buf[len(buf)-l:], needle[:l]) {
			return l
		}
	}
	return 0
}
