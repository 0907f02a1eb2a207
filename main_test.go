package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdlvd/mfscat/fsys/part"
	"github.com/lvdlvd/mfscat/internal/minixtest"
)

func writeImage(t *testing.T, partitioned bool) string {
	t.Helper()

	root := minixtest.Dir("", 0755,
		minixtest.File("hello.txt", 0644, []byte("hello\n")),
		minixtest.Dir("bin", 0755, minixtest.Symlink("sh", "ash")),
	)
	img, err := minixtest.Build(root, minixtest.Options{Version: 1, NameLen: 30})
	require.NoError(t, err)
	if partitioned {
		img = minixtest.WithMBR(img, part.TypeMinix)
	}

	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, img, 0644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{"mfscat"}, args...))
	return out.String(), err
}

func TestCat(t *testing.T) {
	img := writeImage(t, false)

	out, err := runApp(t, "cat", img, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = runApp(t, "cat", img, "/nope")
	assert.Error(t, err)
}

func TestPartitionedImage(t *testing.T) {
	img := writeImage(t, true)

	out, err := runApp(t, "readlink", img, "bin/sh")
	require.NoError(t, err)
	assert.Equal(t, "ash\n", out)

	out, err = runApp(t, "--partition", "0", "ls", img, "/")
	require.NoError(t, err)
	assert.Equal(t, "bin/\nhello.txt\n", out)

	out, err = runApp(t, "info", img)
	require.NoError(t, err)
	assert.Contains(t, out, "name: p0")
	assert.Contains(t, out, "version: 1\n")

	_, err = runApp(t, "--partition", "3", "ls", img)
	assert.Error(t, err)
}

func TestPartitionFlagOnBareImage(t *testing.T) {
	img := writeImage(t, false)

	_, err := runApp(t, "--partition", "0", "ls", img)
	assert.Error(t, err)
}

func TestExtractCommand(t *testing.T) {
	img := writeImage(t, false)
	dest := t.TempDir()

	_, err := runApp(t, "-v", "extract", "--squash", img, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	target, err := os.Readlink(filepath.Join(dest, "bin", "sh"))
	require.NoError(t, err)
	assert.Equal(t, "ash", target)
}

func TestCopyCommand(t *testing.T) {
	img := writeImage(t, false)
	dst := filepath.Join(t.TempDir(), "hello")

	_, err := runApp(t, "copy", "--squash", img, "hello.txt", dst)
	require.NoError(t, err)
	assert.FileExists(t, dst)
}

func TestMissingArguments(t *testing.T) {
	img := writeImage(t, false)

	_, err := runApp(t, "stat", img)
	assert.Error(t, err)

	_, err = runApp(t, "cat")
	assert.Error(t, err)
}

func TestNotMinix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0644))

	_, err := runApp(t, "ls", path)
	assert.Error(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = openFilesystem(f, -1)
	assert.ErrorContains(t, err, "unknown")
}
