package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"audio_path": "users/1/projects/2/audio/3.wav", "count": float64(7)}
	v, err := m.Value()
	require.NoError(t, err)

	var scanned JSONMap
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	require.Equal(t, m, scanned)
}

func TestJSONMapScanNil(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(nil))
	require.NotNil(t, m)
	require.Empty(t, m)
}

func TestTaskRoutingIDs(t *testing.T) {
	t1 := Task{InputData: JSONMap{"slice_id": float64(5)}}
	id, ok := t1.SliceID()
	require.True(t, ok)
	require.Equal(t, int64(5), id)
	_, ok = t1.SubSliceID()
	require.False(t, ok)

	t2 := Task{InputData: JSONMap{"sub_slice_id": float64(9)}}
	id, ok = t2.SubSliceID()
	require.True(t, ok)
	require.Equal(t, int64(9), id)

	t3 := Task{InputData: JSONMap{}}
	_, ok = t3.SliceID()
	require.False(t, ok)
}

func TestTaskStatusTerminal(t *testing.T) {
	require.True(t, TaskSuccess.IsTerminal())
	require.True(t, TaskFailure.IsTerminal())
	require.True(t, TaskRevoked.IsTerminal())
	require.False(t, TaskRunning.IsTerminal())
	require.False(t, TaskPending.IsTerminal())
	require.False(t, TaskRetry.IsTerminal())
}

func TestStageForTaskType(t *testing.T) {
	require.Equal(t, StageDownload, StageForTaskType(TaskDownload))
	require.Equal(t, StageGenerateSRT, StageForTaskType(TaskGenerateSRT))
	require.Equal(t, StageJianyingExport, StageForTaskType(TaskJianyingExport))
}
