package subtitle

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Cue is one subtitle block. Times are seconds from the start of the media.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

const utf8BOM = "\uFEFF"

// Parse reads SRT text into cues. It is tolerant of CRLF line endings, a
// leading BOM, and out-of-order indices; the incoming index numbers are
// discarded.
func Parse(content string) ([]Cue, error) {
	content = strings.TrimPrefix(content, utf8BOM)
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		lines := []string{}
		for _, l := range strings.Split(block, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		if len(lines) == 0 {
			continue
		}

		// index line is optional; the timing line is what identifies a block
		timingIdx := -1
		for i, l := range lines {
			if strings.Contains(l, "-->") {
				timingIdx = i
				break
			}
		}
		if timingIdx < 0 || timingIdx > 1 {
			return nil, fmt.Errorf("malformed srt block: %q", block)
		}

		timing := strings.SplitN(lines[timingIdx], "-->", 2)
		start, err := ParseTimecode(strings.TrimSpace(timing[0]))
		if err != nil {
			return nil, fmt.Errorf("bad cue start: %w", err)
		}
		end, err := ParseTimecode(strings.TrimSpace(timing[1]))
		if err != nil {
			return nil, fmt.Errorf("bad cue end: %w", err)
		}

		cues = append(cues, Cue{
			Start: start,
			End:   end,
			Text:  strings.Join(lines[timingIdx+1:], "\n"),
		})
	}
	return cues, nil
}

// Format renders cues as SRT: UTF-8 with BOM, cues numbered from 1, blocks
// separated by a blank line.
func Format(cues []Cue) string {
	var sb strings.Builder
	sb.WriteString(utf8BOM)
	for i, cue := range cues {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d\n%s --> %s\n%s\n",
			i+1, FormatTimecode(cue.Start), FormatTimecode(cue.End), cue.Text))
	}
	return sb.String()
}

// Sanitize drops cues with non-positive duration or negative times and merges
// adjacent duplicate cues (same text, touching or overlapping intervals).
func Sanitize(cues []Cue) []Cue {
	var out []Cue
	for _, cue := range cues {
		if cue.Start < 0 || cue.End <= cue.Start {
			continue
		}
		if strings.TrimSpace(cue.Text) == "" {
			continue
		}
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Text == cue.Text && cue.Start <= prev.End {
				if cue.End > prev.End {
					prev.End = cue.End
				}
				continue
			}
		}
		out = append(out, cue)
	}
	return out
}

// Shift offsets every cue by delta seconds. Used when SRT was produced from a
// cut sub-interval and timestamps must land on the parent timeline.
func Shift(cues []Cue, delta float64) []Cue {
	shifted := make([]Cue, len(cues))
	for i, cue := range cues {
		shifted[i] = Cue{Start: cue.Start + delta, End: cue.End + delta, Text: cue.Text}
	}
	return shifted
}

// CountBlocks is a cheap segment count for task output without a full parse.
func CountBlocks(content string) int {
	cues, err := Parse(content)
	if err != nil {
		return 0
	}
	return len(cues)
}

// DecodeBytes interprets subtitle bytes of unknown origin. Tries UTF-8 (with
// or without BOM), then GBK, then Latin-1, in that order.
func DecodeBytes(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte(utf8BOM))
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
		return string(decoded), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("undecodable subtitle content: %w", err)
	}
	return string(decoded), nil
}
