package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM:80/a?b=2&a=1#frag", "http://example.com/a?a=1&b=2"},
		{"https://example.com:443/fightcenter", "https://example.com/fightcenter"},
		{"https://example.com:8443/x", "https://example.com:8443/x"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestDupFilter(t *testing.T) {
	t.Parallel()

	f := newDupFilter()
	assert.True(t, f.admit("https://example.com/a?x=1&y=2"))
	assert.False(t, f.admit("https://EXAMPLE.com/a?y=2&x=1"))
	f.mark("https://example.com/b")
	assert.False(t, f.admit("https://example.com/b"))
}
