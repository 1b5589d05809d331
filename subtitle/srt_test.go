package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimecodeRoundTrip(t *testing.T) {
	for _, tc := range []string{
		"00:00:00,000",
		"00:00:05,500",
		"00:02:00,000",
		"01:59:59,999",
		"12:34:56,789",
	} {
		secs, err := ParseTimecode(tc)
		require.NoError(t, err)
		require.Equal(t, tc, FormatTimecode(secs), "round trip of %s", tc)
	}
}

func TestParseTimecodeDotSeparator(t *testing.T) {
	secs, err := ParseTimecode("00:01:30.250")
	require.NoError(t, err)
	require.Equal(t, 90.25, secs)
}

func TestParseTimecodeRejectsGarbage(t *testing.T) {
	for _, tc := range []string{"", "1:2", "00:99:00,000", "00:00:61,000", "aa:bb:cc,ddd"} {
		_, err := ParseTimecode(tc)
		require.Error(t, err, tc)
	}
}

func TestFormatTimecodeClampsNegative(t *testing.T) {
	require.Equal(t, "00:00:00,000", FormatTimecode(-3))
}

const sampleSRT = "1\n00:00:01,000 --> 00:00:03,000\nhello\n\n2\n00:00:03,000 --> 00:00:05,000\nworld\n"

func TestParseFormatRoundTrip(t *testing.T) {
	cues, err := Parse(sampleSRT)
	require.NoError(t, err)
	require.Len(t, cues, 2)
	require.Equal(t, 1.0, cues[0].Start)
	require.Equal(t, "world", cues[1].Text)

	out := Format(cues)
	require.True(t, strings.HasPrefix(out, "\uFEFF"), "output must carry a UTF-8 BOM")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, cues, reparsed)
}

func TestParseHandlesCRLFAndBOM(t *testing.T) {
	crlf := "\uFEFF" + strings.ReplaceAll(sampleSRT, "\n", "\r\n")
	cues, err := Parse(crlf)
	require.NoError(t, err)
	require.Len(t, cues, 2)
}

func TestSanitize(t *testing.T) {
	cues := []Cue{
		{Start: -1, End: 2, Text: "negative start"},
		{Start: 5, End: 5, Text: "zero duration"},
		{Start: 7, End: 6, Text: "inverted"},
		{Start: 10, End: 12, Text: "dup"},
		{Start: 12, End: 14, Text: "dup"},
		{Start: 20, End: 22, Text: "kept"},
		{Start: 23, End: 24, Text: "   "},
	}
	out := Sanitize(cues)
	require.Len(t, out, 2)
	require.Equal(t, Cue{Start: 10, End: 14, Text: "dup"}, out[0])
	require.Equal(t, "kept", out[1].Text)
}

func TestShift(t *testing.T) {
	cues := Shift([]Cue{{Start: 0, End: 2, Text: "a"}}, 90)
	require.Equal(t, 90.0, cues[0].Start)
	require.Equal(t, 92.0, cues[0].End)
}

func TestFormatNumbersCuesFromOne(t *testing.T) {
	out := Format([]Cue{{Start: 0, End: 1, Text: "a"}, {Start: 1, End: 2, Text: "b"}})
	require.Contains(t, out, "1\n00:00:00,000 --> 00:00:01,000\na\n")
	require.Contains(t, out, "2\n00:00:01,000 --> 00:00:02,000\nb\n")
}

func TestDecodeBytes(t *testing.T) {
	// plain UTF-8
	got, err := DecodeBytes([]byte("hello 世界"))
	require.NoError(t, err)
	require.Equal(t, "hello 世界", got)

	// UTF-8 with BOM
	got, err = DecodeBytes([]byte("\uFEFFhello"))
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	// GBK bytes for 中文
	got, err = DecodeBytes([]byte{0xd6, 0xd0, 0xce, 0xc4})
	require.NoError(t, err)
	require.Equal(t, "中文", got)
}
