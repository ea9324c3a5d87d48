// ABOUTME: TurnExtractor turns raw generated continuation text into one attributed reply line
// ABOUTME: The first roster-attributed line that is not the player wins

package turn

import (
	"fmt"
	"strings"
)

// Extractor scans generated text for speaker-attributed lines.
type Extractor struct {
	// Player is the name inbound messages are attributed to; it never wins.
	Player string
	Roster []string
	// StopToken truncates generated text at its first occurrence when set.
	StopToken string
}

// Reply is one accepted line.
type Reply struct {
	Speaker string
	// Line is the full accepted line, as committed to history.
	Line string
	// Text is Line with its "Name: " prefix removed.
	Text string
}

// Trace records what each candidate looked like after the prompt was removed.
type Trace struct {
	Candidates [][]string
}

// String renders the trace the way the Debug reply shows it.
func (t Trace) String() string {
	var b strings.Builder
	for _, lines := range t.Candidates {
		b.WriteString("\n\nDEBUG -\nAI OUTPUT LINES:")
		b.WriteString(formatLines(lines))
	}
	return b.String()
}

// Extract returns the first acceptable reply in text. promptLen is the number
// of leading bytes that echo the prompt. ok is false when nothing matched,
// which is a normal outcome.
func (e Extractor) Extract(text string, promptLen int) (Reply, Trace, bool) {
	lines := e.continuation(text, promptLen)
	trace := Trace{Candidates: [][]string{lines}}
	reply, ok := e.scan(lines)
	return reply, trace, ok
}

// ExtractAll scans every candidate independently and collects the accepted
// line of each one, in candidate order.
func (e Extractor) ExtractAll(candidates []string, promptLen int) ([]Reply, Trace) {
	var replies []Reply
	var trace Trace
	for _, text := range candidates {
		lines := e.continuation(text, promptLen)
		trace.Candidates = append(trace.Candidates, lines)
		if reply, ok := e.scan(lines); ok {
			replies = append(replies, reply)
		}
	}
	return replies, trace
}

// continuation cuts the stop token and the echoed prompt, then splits lines.
func (e Extractor) continuation(text string, promptLen int) []string {
	if e.StopToken != "" {
		if i := strings.Index(text, e.StopToken); i >= 0 {
			text = text[:i]
		}
	}
	switch {
	case promptLen >= len(text):
		text = ""
	case promptLen > 0:
		text = text[promptLen:]
	}
	return splitLines(text)
}

func (e Extractor) scan(lines []string) (Reply, bool) {
	if len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for _, line := range lines {
		for _, name := range e.Roster {
			if name == e.Player || !strings.HasPrefix(line, name) {
				continue
			}
			return Reply{Speaker: name, Line: line, Text: stripSpeaker(line)}, true
		}
	}
	return Reply{}, false
}

// stripSpeaker drops everything up to and including the first ": ".
func stripSpeaker(line string) string {
	if _, rest, ok := strings.Cut(line, ": "); ok {
		return rest
	}
	return line
}

// splitLines splits on \n, \r\n and \r. A trailing line break does not
// produce an empty final line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func formatLines(lines []string) string {
	quoted := make([]string, len(lines))
	for i, l := range lines {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
