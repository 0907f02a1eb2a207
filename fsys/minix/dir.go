package minix

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"path"
	"strings"
)

// DirEntry is one fixed-size directory record. Inode 0 marks an unused slot.
type DirEntry struct {
	Inode uint16
	Name  string
}

// DecodeDirEntries splits a directory block into records of size bytes.
// Unused slots are returned too; a trailing partial record is ignored.
func DecodeDirEntries(block []byte, size int) []DirEntry {
	if size <= 2 {
		return nil
	}

	entries := make([]DirEntry, 0, len(block)/size)
	for off := 0; off+size <= len(block); off += size {
		rec := block[off : off+size]
		name := rec[2:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		entries = append(entries, DirEntry{
			Inode: binary.LittleEndian.Uint16(rec[0:2]),
			Name:  string(name),
		})
	}
	return entries
}

// readDirectory returns every record of a directory, unused slots included
func (f *FS) readDirectory(ino *Inode) ([]DirEntry, error) {
	var entries []DirEntry
	for i := int64(0); i < BlockCount(ino.Size); i++ {
		data, hole, err := f.readInodeBlock(ino, i)
		if err != nil {
			return nil, err
		}
		if hole {
			continue
		}
		entries = append(entries, DecodeDirEntries(data, f.dirEntrySize)...)
	}
	return entries, nil
}

// Lookup resolves a slash separated path from the root directory.
// A leading slash is optional.
func (f *FS) Lookup(name string) (uint32, error) {
	clean := cleanPath(name)
	if clean == "." {
		return RootInode, nil
	}

	current := uint32(RootInode)
	for _, part := range strings.Split(clean, "/") {
		ino, err := f.Inode(current)
		if err != nil {
			return 0, &fs.PathError{Op: "lookup", Path: name, Err: err}
		}

		if ino.Kind != KindDirectory {
			return 0, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
		}

		next, err := f.findEntry(&ino, part)
		if err != nil {
			return 0, &fs.PathError{Op: "lookup", Path: name, Err: err}
		}
		if next == 0 {
			return 0, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
		}
		current = next
	}

	return current, nil
}

func (f *FS) findEntry(dir *Inode, name string) (uint32, error) {
	if len(name) > f.MaxNameLen() {
		return 0, nil
	}

	entries, err := f.readDirectory(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Inode != 0 && e.Name == name {
			return uint32(e.Inode), nil
		}
	}
	return 0, nil
}

func cleanPath(p string) string {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}
