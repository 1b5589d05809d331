package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDownloadLine(t *testing.T) {
	ev := ParseProgressLine("[download]  25.8% of ~959.74MiB at    2.67MiB/s ETA 05:44 (frag 24/893)")
	require.NotNil(t, ev)
	require.Equal(t, StageDownloading, ev.Stage)
	require.Equal(t, "959.74MiB", ev.TotalSize)
	require.Equal(t, "2.67MiB", ev.Speed)
	require.Equal(t, "05:44", ev.ETA)
	require.Equal(t, 24, ev.Frag)
	require.Equal(t, 893, ev.TotalFrags)
	// 24/893 is ~2.7%: far from the printed 25.8, so the fragment count wins
	require.InDelta(t, 2.69, ev.Percent, 0.01)
}

func TestParseDownloadLinePrintedPercentWinsWhenClose(t *testing.T) {
	ev := ParseProgressLine("[download]  50.0% of ~100.00MiB at 2.00MiB/s ETA 00:25 (frag 450/893)")
	require.NotNil(t, ev)
	// 450/893 is ~50.4%: within 5 points of the printed value
	require.Equal(t, 50.0, ev.Percent)
}

func TestParseDownloadLineNoFragments(t *testing.T) {
	ev := ParseProgressLine("[download]  12.5% of 48.00MiB at 1.00MiB/s ETA 00:42")
	require.NotNil(t, ev)
	require.Equal(t, 12.5, ev.Percent)
	require.Zero(t, ev.TotalFrags)
}

func TestParseStageLines(t *testing.T) {
	cases := map[string]DownloadStage{
		"[youtube] abc: Extracting URL":                     StageAnalyzing,
		"[youtube] abc: Downloading webpage":                StageAnalyzing,
		"[info] abc: Downloading 1 format(s): 22":           StagePreparing,
		"[hlsnative] Downloading m3u8 manifest":             StagePreparing,
		"[hlsnative] Total fragments: 893":                  StageStarting,
		"[download] Destination: /tmp/video.mp4":            StageStarting,
		"[Merger] Merging formats into \"/tmp/video.mp4\"":  StageMerging,
		"[VideoConvertor] Converting video":                 StageConverting,
		"[download] 100% of 959.74MiB in 05:44":             StageCompleted,
		"[download] /tmp/v.mp4 has already been downloaded": StageCompleted,
		"ERROR: Did not get any data blocks":                StageError,
		"WARNING: nsig extraction failed":                   StageWarning,
	}
	for line, stage := range cases {
		ev := ParseProgressLine(line)
		require.NotNil(t, ev, line)
		require.Equal(t, stage, ev.Stage, line)
	}
}

func TestParseTotalFragments(t *testing.T) {
	ev := ParseProgressLine("[hlsnative] Total fragments: 893")
	require.Equal(t, 893, ev.TotalFrags)
}

func TestIgnoredLines(t *testing.T) {
	require.Nil(t, ParseProgressLine(""))
	require.Nil(t, ParseProgressLine("random noise"))
}

func TestIsRecoverableDownloadError(t *testing.T) {
	require.True(t, IsRecoverableDownloadError("ERROR: Did not get any data blocks"))
	require.True(t, IsRecoverableDownloadError("ERROR: unable to download video data: HTTP Error 404: Not Found"))
	require.True(t, IsRecoverableDownloadError("WARNING: [youtube] nsig extraction failed: Some formats may be missing"))
	require.False(t, IsRecoverableDownloadError("ERROR: This video is private"))
}
