// Package minix implements read-only Minix v1/v2 filesystem support.
//
// Both on-disk inode layouts are decoded here and normalised into one
// version-independent Inode; callers never branch on the version.
package minix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lvdlvd/mfscat/detect"
)

const (
	// BlockSize is the block size of Minix v1/v2 filesystems.
	BlockSize = 1024

	// RootInode is the inode number of the root directory.
	RootInode = 1

	superblockOffset = 1024
	superblockSize   = 1024

	// Superblock state flags
	stateValid = 0x0001
	stateError = 0x0002
)

var (
	// ErrNotMinix is returned by Open when the superblock magic does not
	// match any Minix variant.
	ErrNotMinix = errors.New("not a minix filesystem")

	// ErrUnsupportedVersion is returned for Minix v3 images.
	ErrUnsupportedVersion = errors.New("unsupported minix version")

	// ErrFormatInconsistency marks on-disk structures that contradict
	// each other or the image geometry.
	ErrFormatInconsistency = errors.New("filesystem format inconsistency")
)

// FS implements a read-only Minix v1/v2 filesystem
type FS struct {
	r       io.ReaderAt
	size    int64
	sb      superblock
	typ     detect.Type
	version int

	dirEntrySize int // bytes per directory entry: 16 or 32
	inodeSize    int // bytes per on-disk inode: 32 or 64
	ptrSize      int // bytes per zone pointer in indirect blocks: 2 or 4

	inodeTable int64 // first block of the inode table
}

type superblock struct {
	ninodes       uint32
	nzones        uint32
	imapBlocks    uint16
	zmapBlocks    uint16
	firstDataZone uint16
	logZoneSize   uint16
	maxSize       uint32
	magic         uint16
	state         uint16
}

// Open opens a Minix v1/v2 filesystem from the given reader
func Open(r io.ReaderAt, size int64) (*FS, error) {
	sbData := make([]byte, superblockSize)
	if _, err := r.ReadAt(sbData, superblockOffset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}

	f := &FS{r: r, size: size}
	if err := f.parseSuperblock(sbData); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *FS) parseSuperblock(data []byte) error {
	f.sb.magic = binary.LittleEndian.Uint16(data[16:18])
	f.typ = detect.FromMagic(f.sb.magic)

	switch f.typ {
	case detect.MinixV1, detect.MinixV1L:
		f.version = 1
		f.inodeSize = inodeSizeV1
		f.ptrSize = 2
	case detect.MinixV2, detect.MinixV2L:
		f.version = 2
		f.inodeSize = inodeSizeV2
		f.ptrSize = 4
	case detect.MinixV3:
		return fmt.Errorf("%s: %w", f.typ, ErrUnsupportedVersion)
	default:
		if binary.LittleEndian.Uint16(data[24:26]) == 0x4D5A {
			return fmt.Errorf("%s: %w", detect.MinixV3, ErrUnsupportedVersion)
		}
		return fmt.Errorf("bad magic %#04x: %w", f.sb.magic, ErrNotMinix)
	}

	f.dirEntrySize = 16
	if f.typ == detect.MinixV1L || f.typ == detect.MinixV2L {
		f.dirEntrySize = 32
	}

	f.sb.ninodes = uint32(binary.LittleEndian.Uint16(data[0:2]))
	f.sb.imapBlocks = binary.LittleEndian.Uint16(data[4:6])
	f.sb.zmapBlocks = binary.LittleEndian.Uint16(data[6:8])
	f.sb.firstDataZone = binary.LittleEndian.Uint16(data[8:10])
	f.sb.logZoneSize = binary.LittleEndian.Uint16(data[10:12])
	f.sb.maxSize = binary.LittleEndian.Uint32(data[12:16])
	f.sb.state = binary.LittleEndian.Uint16(data[18:20])

	// v2 moved the zone count to a 32-bit field
	if f.version == 1 {
		f.sb.nzones = uint32(binary.LittleEndian.Uint16(data[2:4]))
	} else {
		f.sb.nzones = binary.LittleEndian.Uint32(data[20:24])
	}

	f.inodeTable = 2 + int64(f.sb.imapBlocks) + int64(f.sb.zmapBlocks)

	switch {
	case f.sb.ninodes == 0:
		return fmt.Errorf("superblock has no inodes: %w", ErrFormatInconsistency)
	case f.sb.logZoneSize > 8:
		return fmt.Errorf("log zone size %d: %w", f.sb.logZoneSize, ErrFormatInconsistency)
	case uint32(f.sb.firstDataZone) >= f.sb.nzones:
		return fmt.Errorf("first data zone %d beyond %d zones: %w",
			f.sb.firstDataZone, f.sb.nzones, ErrFormatInconsistency)
	}

	inodeTableEnd := f.inodeTable*BlockSize + int64(f.sb.ninodes)*int64(f.inodeSize)
	if inodeTableEnd > f.size {
		return fmt.Errorf("inode table ends at %d, image is %d bytes: %w",
			inodeTableEnd, f.size, ErrFormatInconsistency)
	}

	return nil
}

// Type returns the filesystem variant name
func (f *FS) Type() string { return f.typ.String() }

// Close releases resources held by the filesystem
func (f *FS) Close() error { return nil }

// Version returns the on-disk format version, 1 or 2
func (f *FS) Version() int { return f.version }

// DirEntrySize returns the stride of directory entry records
func (f *FS) DirEntrySize() int { return f.dirEntrySize }

// MaxNameLen returns the longest name a directory entry can hold
func (f *FS) MaxNameLen() int { return f.dirEntrySize - 2 }

// zoneSize returns the size of one zone in bytes
func (f *FS) zoneSize() int64 {
	return int64(BlockSize) << f.sb.logZoneSize
}

// Info describes the superblock of an opened image
type Info struct {
	Type          string `yaml:"type"`
	Version       int    `yaml:"version"`
	NameLength    int    `yaml:"name_length"`
	Inodes        uint32 `yaml:"inodes"`
	Zones         uint32 `yaml:"zones"`
	FirstDataZone uint32 `yaml:"first_data_zone"`
	ZoneSize      int64  `yaml:"zone_size"`
	MaxFileSize   uint32 `yaml:"max_file_size"`
	State         string `yaml:"state"`
}

// Info returns superblock facts
func (f *FS) Info() Info {
	state := "not cleanly unmounted"
	switch {
	case f.sb.state&stateError != 0:
		state = "errors"
	case f.sb.state&stateValid != 0:
		state = "clean"
	}

	return Info{
		Type:          f.Type(),
		Version:       f.version,
		NameLength:    f.MaxNameLen(),
		Inodes:        f.sb.ninodes,
		Zones:         f.sb.nzones,
		FirstDataZone: uint32(f.sb.firstDataZone),
		ZoneSize:      f.zoneSize(),
		MaxFileSize:   f.sb.maxSize,
		State:         state,
	}
}
