package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathSchema(t *testing.T) {
	p := Paths{UserID: 7, ProjectID: 42}

	require.Equal(t, "users/7/projects/42/videos/clip.mp4", p.Video("clip.mp4"))
	require.Equal(t, "users/7/projects/42/thumbnails/abc123.webp", p.Thumbnail("abc123", "webp"))
	require.Equal(t, "users/7/projects/42/audio/9.wav", p.Audio(9))
	require.Equal(t, "users/7/projects/42/subtitles/9.srt", p.Subtitle(9))
	require.Equal(t, "users/7/projects/42/slices/u-u-i-d/part.mp4", p.SliceMedia("u-u-i-d", "part.mp4"))
	require.Equal(t, "users/7/projects/42/slices/u-u-i-d/subtitles.srt", p.SliceSubtitle("u-u-i-d"))
	require.Equal(t, "users/7/projects/42/slices/u-u-i-d/sub_slice_3.srt", p.SubSliceSubtitle("u-u-i-d", 3))
	require.Equal(t, "default_resources/水波纹_ab12.mp3", DefaultResourceKey("水波纹", "ab12", ".mp3"))
}

func TestParseKeyRoundTrip(t *testing.T) {
	p := Paths{UserID: 3, ProjectID: 11}

	for _, key := range []string{
		p.Video("a.mp4"),
		p.Audio(5),
		p.Subtitle(5),
		p.Thumbnail("xyz", "jpg"),
		p.SliceMedia("0f8fad5b-d9cb-469f-a165-70867728950e", "media.mp4"),
		p.SliceSubtitle("0f8fad5b-d9cb-469f-a165-70867728950e"),
	} {
		parsed, err := ParseKey(key)
		require.NoError(t, err, key)
		require.Equal(t, int64(3), parsed.UserID)
		require.Equal(t, int64(11), parsed.ProjectID)
	}

	parsed, err := ParseKey(p.SliceSubtitle("0f8fad5b-d9cb-469f-a165-70867728950e"))
	require.NoError(t, err)
	require.Equal(t, "slices", parsed.Category)
	require.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", parsed.SliceUUID)
	require.Equal(t, "subtitles.srt", parsed.Filename)
}

func TestParseKeyRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{
		"",
		"foo/bar",
		"users/x/projects/1/videos/a.mp4",
		"users/1/projects/1/unknown/a.mp4",
		"users/1/projects/1/slices/missing-filename",
	} {
		_, err := ParseKey(key)
		require.Error(t, err, key)
	}
}

func TestSliceUUIDFromKey(t *testing.T) {
	uuid, ok := SliceUUIDFromKey("users/1/projects/2/slices/deadbeef/media.mp4")
	require.True(t, ok)
	require.Equal(t, "deadbeef", uuid)

	_, ok = SliceUUIDFromKey("users/1/projects/2/videos/a.mp4")
	require.False(t, ok)
}
