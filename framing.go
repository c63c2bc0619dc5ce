package serial

import "strings"

// lineFramer turns decoded text into lines. Text after the last line feed is
// carried over to the next push. A line longer than maxLine is dropped up to
// and including its line feed, whether or not it completes within one push.
type lineFramer struct {
	pending    strings.Builder
	maxLine    int
	discarding bool
}

func newLineFramer(maxLine int) *lineFramer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &lineFramer{maxLine: maxLine}
}

// push frames text and returns the completed lines in order. dropped counts
// the overlong lines discarded, or started being discarded, by this push.
func (f *lineFramer) push(text string) (lines []string, dropped int) {
	parts := splitLines(text)
	for _, part := range parts[:len(parts)-1] {
		if f.discarding {
			f.discarding = false
			continue
		}
		f.pending.WriteString(part)
		line := strings.TrimSuffix(f.pending.String(), "\r")
		f.pending.Reset()
		if len(line) > f.maxLine {
			dropped++
			continue
		}
		lines = append(lines, line)
	}

	if f.discarding {
		return lines, dropped
	}
	f.pending.WriteString(parts[len(parts)-1])
	if len(strings.TrimSuffix(f.pending.String(), "\r")) > f.maxLine {
		f.pending.Reset()
		f.discarding = true
		dropped++
	}
	return lines, dropped
}

// reset discards any partial line.
func (f *lineFramer) reset() {
	f.pending.Reset()
	f.discarding = false
}
