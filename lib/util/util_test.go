package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserHomeFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	assert.NotEmpty(t, UserHome())
}

func TestExpandHome(t *testing.T) {
	home := UserHome()
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, "keys.yaml"), ExpandHome("~/keys.yaml"))
	assert.Equal(t, "/etc/msgrouter", ExpandHome("/etc/msgrouter"))
	assert.Equal(t, "~other/x", ExpandHome("~other/x"))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	assert.False(t, FileExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.True(t, FileExists(path))
}

func TestClosersReverseOrderAndJoin(t *testing.T) {
	var order []string
	boom := errors.New("boom")

	var cl Closers
	cl.Register("first", CloserFunc(func() error { order = append(order, "first"); return nil }))
	cl.Register("second", CloserFunc(func() error { order = append(order, "second"); return boom }))
	cl.Register("nil", nil)
	cl.Register("third", CloserFunc(func() error { order = append(order, "third"); return nil }))

	err := cl.CloseAll()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"third", "second", "first"}, order)

	// Already drained.
	assert.NoError(t, cl.CloseAll())
	assert.Len(t, order, 3)
}
