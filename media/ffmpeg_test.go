package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatSeekTime(t *testing.T) {
	require.Equal(t, "00:00:00.000", formatSeekTime(0))
	require.Equal(t, "00:00:05.500", formatSeekTime(5.5))
	require.Equal(t, "00:02:00.000", formatSeekTime(120))
	require.Equal(t, "01:01:01.250", formatSeekTime(3661.25))
}

func TestCutRejectsInvertedRange(t *testing.T) {
	tb := NewToolbox()
	err := tb.Cut("t1", "/tmp/in.mp4", "/tmp/out.mp4", 10, 10)
	require.Error(t, err)
	err = tb.Cut("t1", "/tmp/in.mp4", "/tmp/out.mp4", 10, 5)
	require.Error(t, err)
}
