package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreGetRemove(t *testing.T) {
	c := New[int]()
	c.Store("a", 1)
	c.Store("b", 2)

	require.Equal(t, 1, c.Get("a"))
	require.Equal(t, 0, c.Get("missing"))
	require.ElementsMatch(t, []string{"a", "b"}, c.GetKeys())

	c.Remove("a")
	require.Zero(t, c.Get("a"))
	require.ElementsMatch(t, []string{"b"}, c.GetKeys())
}
