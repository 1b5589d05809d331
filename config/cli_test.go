package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageWeightMapSet(t *testing.T) {
	m := StageWeightMap{}
	require.NoError(t, m.Set("download=0.5,extract_audio=0.25,generate_srt=0.25"))
	require.Equal(t, 0.5, m["download"])
	require.Equal(t, 0.25, m["generate_srt"])
	require.Error(t, m.Set("download"))
}

func TestCommaMapFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var dest map[string]string
	CommaMapFlag(fs, &dest, "pairs", map[string]string{}, "")
	require.NoError(t, fs.Parse([]string{"-pairs", "a=1,b=2"}))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, dest)
}

func TestAddrFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var addr string
	AddrFlag(fs, &addr, "addr", "0.0.0.0:8000", "")
	require.Equal(t, "0.0.0.0:8000", addr)
	require.NoError(t, fs.Parse([]string{"-addr", "9090"}))
	require.Equal(t, ":9090", addr)
}
