//go:build !tinygo

package sqlitekv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-go/nvs"
)

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("lorawan", "count", []byte{0, 0, 1, 0}))
	require.NoError(t, s.Put("lorawan", "count", []byte{0, 0, 1, 1}))
	require.NoError(t, s.Put("rtc", "boots", []byte{5}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("lorawan", "count")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1, 1}, v)

	require.NoError(t, s.EraseNamespace("lorawan"))
	_, err = s.Get("lorawan", "count")
	assert.ErrorIs(t, err, nvs.ErrNotFound)

	v, err = s.Get("rtc", "boots")
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, v)
}
