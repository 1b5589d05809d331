package callback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractSRTPlainText(t *testing.T) {
	srt, err := ExtractSRT([]byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"))
	require.NoError(t, err)
	require.Contains(t, srt, "hi")
}

func TestExtractSRTJSONEnvelope(t *testing.T) {
	srt, err := ExtractSRT([]byte(`{"code":0,"data":"1\n00:00:00,000 --> 00:00:01,000\nhello\n"}`))
	require.NoError(t, err)
	require.Contains(t, srt, "hello")
}

func TestExtractSRTEnvelopeError(t *testing.T) {
	_, err := ExtractSRT([]byte(`{"code":7,"data":""}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "error code 7")
}

func TestExtractSRTStripsBOM(t *testing.T) {
	srt, err := ExtractSRT([]byte("\uFEFF1\n00:00:00,000 --> 00:00:01,000\nbom\n"))
	require.NoError(t, err)
	require.NotContains(t, srt, "\uFEFF")
}

func TestExtractSRTGBK(t *testing.T) {
	srt, err := ExtractSRT([]byte{0xd6, 0xd0, 0xce, 0xc4})
	require.NoError(t, err)
	require.Equal(t, "中文", srt)
}
