package minix

import (
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// fs.FS implementation. Symbolic links are never followed: opening one
// reads its target as file content.

func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	num, err := f.Lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: unwrapPathError(err)}
	}

	ino, err := f.Inode(num)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	base := path.Base(name)
	if ino.Kind == KindDirectory {
		return &minixDir{fs: f, inode: ino, name: base}, nil
	}
	return &minixFile{fs: f, inode: ino, name: base}, nil
}

func unwrapPathError(err error) error {
	if pe, ok := err.(*fs.PathError); ok {
		return pe.Err
	}
	return err
}

// ReadDir returns the entries of a directory sorted by name, without "."
// and "..". Opening the directory and reading it keeps on-disk order.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return file.Stat()
}

// minixFile implements fs.File for non-directories
type minixFile struct {
	fs     *FS
	inode  Inode
	name   string
	offset int64
}

func (f *minixFile) Stat() (fs.FileInfo, error) {
	return &minixFileInfo{inode: f.inode, name: f.name}, nil
}

// Read returns at most one block per call; holes read as zeros.
func (f *minixFile) Read(b []byte) (int, error) {
	if f.offset >= f.inode.Size {
		return 0, io.EOF
	}

	index := f.offset / BlockSize
	within := int(f.offset % BlockSize)
	data, hole, err := f.fs.readInodeBlock(&f.inode, index)
	if err != nil {
		return 0, err
	}

	var n int
	if hole {
		n = BlockLen(f.inode.Size, index) - within
		if n > len(b) {
			n = len(b)
		}
		clear(b[:n])
	} else {
		n = copy(b, data[within:])
	}

	f.offset += int64(n)
	return n, nil
}

func (f *minixFile) Close() error {
	return nil
}

// minixDir implements fs.File and fs.ReadDirFile for directories
type minixDir struct {
	fs      *FS
	inode   Inode
	name    string
	entries []fs.DirEntry
	offset  int
}

func (d *minixDir) Stat() (fs.FileInfo, error) {
	return &minixFileInfo{inode: d.inode, name: d.name}, nil
}

func (d *minixDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *minixDir) Close() error {
	d.entries = nil
	return nil
}

func (d *minixDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		rawEntries, err := d.fs.readDirectory(&d.inode)
		if err != nil {
			return nil, err
		}

		d.entries = make([]fs.DirEntry, 0, len(rawEntries))
		for _, e := range rawEntries {
			if e.Inode == 0 || e.Name == "." || e.Name == ".." {
				continue
			}
			ino, err := d.fs.Inode(uint32(e.Inode))
			if err != nil {
				return nil, err
			}
			d.entries = append(d.entries, &minixDirEntry{inode: ino, name: e.Name})
		}
	}

	if n <= 0 {
		entries := d.entries[d.offset:]
		d.offset = len(d.entries)
		return entries, nil
	}

	if d.offset >= len(d.entries) {
		return nil, io.EOF
	}

	end := d.offset + n
	if end > len(d.entries) {
		end = len(d.entries)
	}

	entries := d.entries[d.offset:end]
	d.offset = end
	return entries, nil
}

// minixDirEntry implements fs.DirEntry
type minixDirEntry struct {
	inode Inode
	name  string
}

func (e *minixDirEntry) Name() string      { return e.name }
func (e *minixDirEntry) IsDir() bool       { return e.inode.Kind == KindDirectory }
func (e *minixDirEntry) Type() fs.FileMode { return e.inode.FileMode().Type() }

func (e *minixDirEntry) Info() (fs.FileInfo, error) {
	return &minixFileInfo{inode: e.inode, name: e.name}, nil
}

// minixFileInfo implements fs.FileInfo and fsys.FileInfo
type minixFileInfo struct {
	inode Inode
	name  string
}

func (i *minixFileInfo) Name() string       { return i.name }
func (i *minixFileInfo) Size() int64        { return i.inode.Size }
func (i *minixFileInfo) Mode() fs.FileMode  { return i.inode.FileMode() }
func (i *minixFileInfo) ModTime() time.Time { return i.inode.Mtime }
func (i *minixFileInfo) IsDir() bool        { return i.inode.Kind == KindDirectory }
func (i *minixFileInfo) Sys() any           { return i.inode }
func (i *minixFileInfo) Inode() uint64      { return uint64(i.inode.Number) }
