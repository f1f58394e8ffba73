package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDHCacheKnownLengths(t *testing.T) {
	c := newDHCache()
	for _, kl := range []int{1024, 2048, 4096} {
		g, err := c.group(kl)
		require.NoError(t, err)
		assert.Equal(t, kl, g.KeyLength)
		assert.Equal(t, int64(2), g.G.Int64())
		assert.Equal(t, kl, g.P.BitLen(), "P for key length %d must actually be %d bits", kl, kl)
	}
}

func TestDHCacheUnknownLength(t *testing.T) {
	c := newDHCache()
	_, err := c.group(512)
	require.Error(t, err)
	errno, ok := Errno(err)
	require.True(t, ok)
	assert.Equal(t, ErrNoMem, errno)
}

func TestDHCacheReturnsSameGroupOnRepeatedCalls(t *testing.T) {
	c := newDHCache()
	g1, err := c.group(2048)
	require.NoError(t, err)
	g2, err := c.group(2048)
	require.NoError(t, err)
	assert.Same(t, g1, g2)
}
