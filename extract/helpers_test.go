package extract

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lvdlvd/mfscat/fsys/minix"
	"github.com/lvdlvd/mfscat/internal/minixtest"
)

func openImage(t *testing.T, root *minixtest.Node, opts minixtest.Options) *minix.FS {
	t.Helper()
	img, err := minixtest.Build(root, opts)
	require.NoError(t, err)
	f, err := minix.Open(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	return f
}

// patterned returns n bytes where every block has its own fill value
func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i/minix.BlockSize + 1)
	}
	return data
}

// zeroBlocks clears the listed blocks of a copy of data
func zeroBlocks(data []byte, blocks ...int) []byte {
	out := append([]byte(nil), data...)
	for _, b := range blocks {
		start := b * minix.BlockSize
		end := min(start+minix.BlockSize, len(out))
		clear(out[start:end])
	}
	return out
}

// fakeImage serves hand-made inodes and blocks. A nil block is a hole.
type fakeImage struct {
	inodes map[uint32]minix.Inode
	blocks map[uint32][][]byte
}

func newFakeImage() *fakeImage {
	return &fakeImage{
		inodes: make(map[uint32]minix.Inode),
		blocks: make(map[uint32][][]byte),
	}
}

var fakeTime = time.Unix(1_000_000_000, 0)

func (f *fakeImage) add(num uint32, kind minix.Kind, mode uint16, size int64, blocks ...[]byte) {
	f.inodes[num] = minix.Inode{
		Number: num,
		Kind:   kind,
		Mode:   mode,
		Size:   size,
		Nlinks: 1,
		Atime:  fakeTime,
		Mtime:  fakeTime,
		Ctime:  fakeTime,
	}
	f.blocks[num] = blocks
}

// addDir stores a single block directory with 16 byte entries
func (f *fakeImage) addDir(num uint32, entries ...minix.DirEntry) {
	block := make([]byte, 0, len(entries)*16)
	for _, e := range entries {
		rec := make([]byte, 16)
		binary.LittleEndian.PutUint16(rec, e.Inode)
		copy(rec[2:], e.Name)
		block = append(block, rec...)
	}
	f.add(num, minix.KindDirectory, 0755, int64(len(block)), block)
}

func (f *fakeImage) Lookup(name string) (uint32, error) {
	if name == "/" {
		return minix.RootInode, nil
	}
	return 0, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
}

func (f *fakeImage) Inode(num uint32) (minix.Inode, error) {
	ino, ok := f.inodes[num]
	if !ok {
		return minix.Inode{}, minix.ErrFormatInconsistency
	}
	return ino, nil
}

func (f *fakeImage) ReadBlock(num, index uint32) ([]byte, bool, error) {
	blocks := f.blocks[num]
	if int(index) >= len(blocks) {
		return nil, false, fs.ErrInvalid
	}
	if blocks[index] == nil {
		return nil, true, nil
	}
	return blocks[index], false, nil
}

func (f *fakeImage) DirEntrySize() int { return 16 }

// seekBuffer is an in-memory io.WriteSeeker without Truncate
type seekBuffer struct {
	data  []byte
	pos   int64
	seeks int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		s.data = append(s.data, make([]byte, end-int64(len(s.data)))...)
	}
	copy(s.data[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	s.seeks++
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}
	return s.pos, nil
}
