package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"hello world": "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		"":            "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	h := New()
	for in, want := range cases {
		got, err := h.Hash([]byte(in))
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Len(t, got, HexSize)
	}
}
