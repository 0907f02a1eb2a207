package extract

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/lvdlvd/mfscat/fsys/minix"
	"github.com/lvdlvd/mfscat/internal/minixtest"
)

type tree struct {
	root   *minixtest.Node
	sparse []byte // expected content of /sparse
}

func sampleTree() tree {
	hello := minixtest.File("hello.txt", 0644, []byte("hello\n"))
	hello.Atime, hello.Mtime, hello.Ctime = 1000, 2000, 3000

	content := patterned(3*minix.BlockSize + 5)
	sparse := minixtest.File("sparse", 0600, content)
	sparse.Holes = []int{1, 3}

	sub := minixtest.Dir("sub", 0700,
		minixtest.Symlink("link", "../hello.txt"),
		minixtest.HardLink("again", hello),
	)
	sub.Mtime = 5000

	ro := minixtest.Dir("ro", 0555, minixtest.File("inner", 0444, []byte("x")))

	return tree{
		root: minixtest.Dir("", 0755,
			hello,
			sparse,
			sub,
			ro,
			minixtest.CharDevice("tty", 0620, 0x0401),
		),
		sparse: zeroBlocks(content, 1, 3),
	}
}

// unlockDir makes a read-only extracted directory removable again
func unlockDir(t *testing.T, path string) {
	t.Cleanup(func() { os.Chmod(path, 0755) })
}

func TestExtract(t *testing.T) {
	for _, opts := range []minixtest.Options{
		{Version: 1, NameLen: 14},
		{Version: 2, NameLen: 30},
	} {
		tr := sampleTree()
		img := openImage(t, tr.root, opts)
		dest := t.TempDir()
		unlockDir(t, filepath.Join(dest, "ro"))

		hook := test.NewGlobal()
		summary, err := Extract(img, dest, Options{})
		require.NoError(t, err)

		assert.Equal(t, 3, summary.Dirs)
		assert.Equal(t, 3, summary.Files)
		assert.Equal(t, 1, summary.HardLinks)
		assert.Equal(t, 1, summary.Symlinks)
		assert.Equal(t, []string{"/tty"}, summary.Skipped)

		data, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(data))

		data, err = os.ReadFile(filepath.Join(dest, "sparse"))
		require.NoError(t, err)
		assert.Equal(t, tr.sparse, data)

		data, err = os.ReadFile(filepath.Join(dest, "ro", "inner"))
		require.NoError(t, err)
		assert.Equal(t, "x", string(data))

		target, err := os.Readlink(filepath.Join(dest, "sub", "link"))
		require.NoError(t, err)
		assert.Equal(t, "../hello.txt", target)

		first, err := os.Stat(filepath.Join(dest, "hello.txt"))
		require.NoError(t, err)
		again, err := os.Stat(filepath.Join(dest, "sub", "again"))
		require.NoError(t, err)
		assert.True(t, os.SameFile(first, again))

		_, err = os.Lstat(filepath.Join(dest, "tty"))
		assert.True(t, os.IsNotExist(err))

		var skipped []*log.Entry
		for _, e := range hook.AllEntries() {
			if e.Level == log.WarnLevel {
				skipped = append(skipped, e)
			}
		}
		require.Len(t, skipped, 1)
		assert.Equal(t, filepath.Join(dest, "tty"), skipped[0].Data["path"])
		assert.Equal(t, ErrUnsupportedKind, skipped[0].Data[log.ErrorKey])
		hook.Reset()
	}
}

func TestExtractMetadata(t *testing.T) {
	tr := sampleTree()
	img := openImage(t, tr.root, minixtest.Options{})
	dest := t.TempDir()
	unlockDir(t, filepath.Join(dest, "ro"))

	_, err := Extract(img, dest, Options{})
	require.NoError(t, err)

	tests := []struct {
		path  string
		perm  os.FileMode
		mtime int64
	}{
		{"", 0755, 0},
		{"hello.txt", 0644, 2000},
		{"sparse", 0600, 0},
		{"sub", 0700, 5000},
		{"ro", 0555, 0},
		{"ro/inner", 0444, 0},
	}
	for _, tt := range tests {
		info, err := os.Lstat(filepath.Join(dest, tt.path))
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.perm, info.Mode().Perm(), tt.path)
		assert.Equal(t, tt.mtime, info.ModTime().Unix(), tt.path)
	}

	info, err := os.Lstat(filepath.Join(dest, "sub", "link"))
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, info.Mode().Type())
	assert.Equal(t, int64(0), info.ModTime().Unix())
}

func TestExtractDirectoryEntryFiltering(t *testing.T) {
	img := newFakeImage()
	img.addDir(minix.RootInode,
		minix.DirEntry{Inode: 0, Name: "deleted"},
		minix.DirEntry{Inode: 5, Name: "."},
		minix.DirEntry{Inode: 6, Name: ".."},
		minix.DirEntry{Inode: 7, Name: "child"},
	)
	img.add(7, minix.KindRegular, 0640, 3, []byte("abc"))

	dest := t.TempDir()
	summary, err := Extract(img, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "child", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dest, "child"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestExtractDeepTree(t *testing.T) {
	leaf := minixtest.File("leaf", 0644, []byte("deep"))
	root := minixtest.Dir("", 0755,
		minixtest.Dir("a", 0755,
			minixtest.Dir("b", 0755,
				minixtest.Dir("c", 0755,
					minixtest.Dir("d", 0755,
						minixtest.Dir("e", 0755, leaf))))))
	img := openImage(t, root, minixtest.Options{})

	dest := t.TempDir()
	summary, err := Extract(img, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Dirs)
	assert.Equal(t, 1, summary.Files)

	data, err := os.ReadFile(filepath.Join(dest, "a", "b", "c", "d", "e", "leaf"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestExtractDestinationNotEmpty(t *testing.T) {
	img := openImage(t, sampleTree().root, minixtest.Options{})

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "existing"), nil, 0644))

	_, err := Extract(img, dest, Options{})
	assert.ErrorIs(t, err, ErrDestinationNotEmpty)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Extract(img, filepath.Join(dest, "missing"), Options{})
	assert.ErrorIs(t, err, ErrDestinationNotEmpty)

	_, err = Extract(img, filepath.Join(dest, "existing"), Options{})
	assert.ErrorIs(t, err, ErrDestinationNotEmpty)
}

func TestExtractDirectoryCycle(t *testing.T) {
	img := newFakeImage()
	img.addDir(minix.RootInode, minix.DirEntry{Inode: 2, Name: "sub"})
	img.addDir(2, minix.DirEntry{Inode: minix.RootInode, Name: "loop"})

	_, err := Extract(img, t.TempDir(), Options{})
	assert.ErrorIs(t, err, minix.ErrFormatInconsistency)
}

func TestExtractSlashInName(t *testing.T) {
	img := newFakeImage()
	img.addDir(minix.RootInode, minix.DirEntry{Inode: 2, Name: "../escape"})
	img.add(2, minix.KindRegular, 0644, 1, []byte("x"))

	dest := t.TempDir()
	_, err := Extract(img, dest, Options{})
	assert.ErrorIs(t, err, minix.ErrFormatInconsistency)

	_, err = os.Lstat(filepath.Join(filepath.Dir(dest), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractDirectoryHole(t *testing.T) {
	img := newFakeImage()
	img.addDir(3, minix.DirEntry{Inode: 2, Name: "kept"})
	dirBlock := img.blocks[3][0]
	padded := append(dirBlock, make([]byte, minix.BlockSize-len(dirBlock))...)

	img.add(minix.RootInode, minix.KindDirectory, 0755, 2*minix.BlockSize, nil, padded)
	img.add(2, minix.KindRegular, 0644, 0)

	dest := t.TempDir()
	summary, err := Extract(img, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files)
	assert.FileExists(t, filepath.Join(dest, "kept"))
}

func TestExtractEmptySymlink(t *testing.T) {
	root := minixtest.Dir("", 0755,
		minixtest.Symlink("empty", ""),
		minixtest.Symlink("nul", "\x00rest"),
		minixtest.File("f", 0644, []byte("kept")),
	)
	img := openImage(t, root, minixtest.Options{})

	dest := t.TempDir()
	hook := test.NewGlobal()
	defer hook.Reset()

	summary, err := Extract(img, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/empty", "/nul"}, summary.Skipped)
	assert.Equal(t, 0, summary.Symlinks)
	assert.Equal(t, 1, summary.Files)

	data, err := os.ReadFile(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))

	_, err = os.Lstat(filepath.Join(dest, "empty"))
	assert.True(t, os.IsNotExist(err))

	var warned int
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warned++
			assert.ErrorIs(t, e.Data[log.ErrorKey].(error), minix.ErrFormatInconsistency)
		}
	}
	assert.Equal(t, 2, warned)
}

func TestExtractRestoresOwnership(t *testing.T) {
	if unix.Geteuid() != 0 {
		t.Skip("restoring ownership needs root")
	}

	file := minixtest.File("owned", 0644, []byte("data"))
	file.UID, file.GID = 1000, 1001
	link := minixtest.Symlink("link", "owned")
	link.UID, link.GID = 1002, 1003
	dir := minixtest.Dir("dir", 0750, minixtest.File("inner", 0600, []byte("i")))
	dir.UID, dir.GID = 1004, 1005
	img := openImage(t, minixtest.Dir("", 0755, file, link, dir), minixtest.Options{})

	dest := t.TempDir()
	_, err := Extract(img, dest, Options{RestoreOwnership: true})
	require.NoError(t, err)

	tests := []struct {
		path     string
		uid, gid uint32
	}{
		{"owned", 1000, 1001},
		{"link", 1002, 1003},
		{"dir", 1004, 1005},
	}
	for _, tt := range tests {
		var st unix.Stat_t
		require.NoError(t, unix.Lstat(filepath.Join(dest, tt.path), &st), tt.path)
		assert.Equal(t, tt.uid, st.Uid, tt.path)
		assert.Equal(t, tt.gid, st.Gid, tt.path)
	}
}
