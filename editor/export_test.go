package editor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickEffectsDrawsFromFixedSets(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		open, close := pickEffects(r)
		require.Contains(t, openEffects, open)
		require.Contains(t, closeEffects, close)
	}
}

func TestBackendStylesDiverge(t *testing.T) {
	capcut := styleFor("capcut")
	jianying := styleFor("jianying")

	require.Equal(t, "挥墨体", capcut.TitleFont)
	require.Equal(t, 8.0, capcut.TitleFontSize)
	require.Equal(t, "HarmonyOS_Sans_SC_Regular", capcut.SubtitleFont)

	require.Equal(t, "默认字体", jianying.TitleFont)
	require.Equal(t, 12.0, jianying.TitleFontSize)
	require.Equal(t, "默认字体", jianying.SubtitleFont)

	require.NotEqual(t, capcut.TitleFont, jianying.TitleFont)
	require.NotEqual(t, capcut.TitleFontSize, jianying.TitleFontSize)

	// unknown backends fall back to the jianying defaults
	require.Equal(t, jianying, styleFor("unknown"))
}

func TestSubtitleKeyForPrefersRecordedKey(t *testing.T) {
	key := subtitleKeyFor("users/1/projects/2/slices/abc/subtitles.srt", "users/1/projects/2/slices/abc/media.mp4", 0)
	require.Equal(t, "users/1/projects/2/slices/abc/subtitles.srt", key)
}

func TestSubtitleKeyForDerivesFromMedia(t *testing.T) {
	key := subtitleKeyFor("", "users/1/projects/2/slices/abc/media.mp4", 0)
	require.Equal(t, "users/1/projects/2/slices/abc/subtitles.srt", key)

	key = subtitleKeyFor("", "users/1/projects/2/slices/abc/media.mp4", 7)
	require.Equal(t, "users/1/projects/2/slices/abc/sub_slice_7.srt", key)
}

func TestSubtitleKeyForIgnoresForeignURL(t *testing.T) {
	// a full http URL recorded in srt_url is not a schema key; derive instead
	key := subtitleKeyFor("https://cdn.example.com/x.srt", "users/1/projects/2/slices/abc/media.mp4", 0)
	require.Equal(t, "users/1/projects/2/slices/abc/subtitles.srt", key)

	// nothing derivable
	require.Empty(t, subtitleKeyFor("", "/tmp/local.mp4", 0))
}
