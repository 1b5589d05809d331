package asr

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRegistrar struct{ available bool }

func (s stubRegistrar) RegisterTUSTask(context.Context, string, string) error { return nil }
func (s stubRegistrar) Available() bool                                       { return s.available }

func TestPickStrategyBoundary(t *testing.T) {
	const threshold = 50 * 1024 * 1024
	r := &Router{
		Threshold:  threshold,
		TusEnabled: true,
		Registrar:  stubRegistrar{available: true},
		TUS:        &TUSClient{},
	}

	// exactly at the threshold stays synchronous
	strategy, reason := r.pickStrategy(threshold)
	require.Equal(t, StrategySync, strategy)
	require.Empty(t, reason)

	// one byte over goes through TUS
	strategy, _ = r.pickStrategy(threshold + 1)
	require.Equal(t, StrategyTUS, strategy)
}

func TestPickStrategyFallsBackWhenTUSUnavailable(t *testing.T) {
	r := &Router{
		Threshold:  100,
		TusEnabled: true,
		Registrar:  stubRegistrar{available: false},
		TUS:        &TUSClient{},
	}
	strategy, reason := r.pickStrategy(101)
	require.Equal(t, StrategySync, strategy)
	require.Contains(t, reason, "tus unavailable")

	r.Registrar = stubRegistrar{available: true}
	r.TusEnabled = false
	strategy, reason = r.pickStrategy(101)
	require.Equal(t, StrategySync, strategy)
	require.NotEmpty(t, reason)
}

func TestOutputKeySelection(t *testing.T) {
	r := &Router{}

	base := Request{VideoID: 9, ProjectID: 2, UserID: 1}
	require.Equal(t, "users/1/projects/2/subtitles/9.srt", r.OutputKey(base))

	withSlice := base
	withSlice.SliceID = 5
	withSlice.SliceUUID = "abc-def"
	require.Equal(t, "users/1/projects/2/slices/abc-def/subtitles.srt", r.OutputKey(withSlice))

	withSub := withSlice
	withSub.SubSliceID = 7
	require.Equal(t, "users/1/projects/2/slices/abc-def/sub_slice_7.srt", r.OutputKey(withSub))
}

func TestShortCutRejected(t *testing.T) {
	r := &Router{Threshold: 1}
	_, err := r.GenerateSRT(context.Background(), Request{
		WorkerTaskID: "t1",
		LocalAudio:   "/nonexistent.wav",
		Start:        10,
		End:          14.5,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "5s floor")
}

func TestResolveCallbackURLPrefersConfiguredIP(t *testing.T) {
	url := ResolveCallbackURL("203.0.113.9", 9090)
	require.Equal(t, "http://203.0.113.9:9090/callback", url)

	auto := ResolveCallbackURL("", 9090)
	require.True(t, strings.HasPrefix(auto, "http://"))
	require.True(t, strings.HasSuffix(auto, ":9090/callback"))
}
