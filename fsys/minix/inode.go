package minix

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"
)

const (
	inodeSizeV1 = 32
	inodeSizeV2 = 64

	// directZones is the number of direct zone pointers in both layouts
	directZones = 7

	// Mode format bits
	modeFmt     = 0170000
	modeSocket  = 0140000
	modeSymlink = 0120000
	modeRegular = 0100000
	modeBlock   = 0060000
	modeDir     = 0040000
	modeChar    = 0020000
	modeFIFO    = 0010000

	// PermMask selects the 12 permission bits of a mode
	PermMask = 07777
)

// Kind is the type of a filesystem object
type Kind int

const (
	KindOther Kind = iota
	KindRegular
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symbolic link"
	default:
		return "special file"
	}
}

func kindOf(mode uint16) Kind {
	switch mode & modeFmt {
	case modeRegular:
		return KindRegular
	case modeDir:
		return KindDirectory
	case modeSymlink:
		return KindSymlink
	default:
		return KindOther
	}
}

// Inode is the version-independent view of an on-disk inode
type Inode struct {
	Number uint32
	Kind   Kind
	Mode   uint16 // permission bits, PermMask
	Size   int64
	UID    uint32
	GID    uint32
	Nlinks uint16
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time

	format uint16   // raw modeFmt bits
	zones  []uint32 // direct zones followed by one pointer per indirection level
}

// FileMode converts the inode mode to an fs.FileMode
func (i Inode) FileMode() fs.FileMode {
	mode := fs.FileMode(i.Mode & 0777)
	if i.Mode&04000 != 0 {
		mode |= fs.ModeSetuid
	}
	if i.Mode&02000 != 0 {
		mode |= fs.ModeSetgid
	}
	if i.Mode&01000 != 0 {
		mode |= fs.ModeSticky
	}
	switch i.format {
	case modeDir:
		mode |= fs.ModeDir
	case modeSymlink:
		mode |= fs.ModeSymlink
	case modeBlock:
		mode |= fs.ModeDevice
	case modeChar:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case modeFIFO:
		mode |= fs.ModeNamedPipe
	case modeSocket:
		mode |= fs.ModeSocket
	}
	return mode
}

// diskInode is one of the two on-disk inode layouts
type diskInode interface {
	normalize(num uint32) Inode
}

// inodeV1 is the 32 byte v1 layout. It keeps a single timestamp.
type inodeV1 struct {
	mode   uint16
	uid    uint16
	size   uint32
	time   uint32
	gid    uint8
	nlinks uint8
	zones  [9]uint16
}

func decodeInodeV1(data []byte) inodeV1 {
	ino := inodeV1{
		mode:   binary.LittleEndian.Uint16(data[0:2]),
		uid:    binary.LittleEndian.Uint16(data[2:4]),
		size:   binary.LittleEndian.Uint32(data[4:8]),
		time:   binary.LittleEndian.Uint32(data[8:12]),
		gid:    data[12],
		nlinks: data[13],
	}
	for i := range ino.zones {
		ino.zones[i] = binary.LittleEndian.Uint16(data[14+i*2:])
	}
	return ino
}

func (d inodeV1) normalize(num uint32) Inode {
	t := time.Unix(int64(d.time), 0)
	ino := Inode{
		Number: num,
		Kind:   kindOf(d.mode),
		Mode:   d.mode & PermMask,
		Size:   int64(d.size),
		UID:    uint32(d.uid),
		GID:    uint32(d.gid),
		Nlinks: uint16(d.nlinks),
		Atime:  t,
		Mtime:  t,
		Ctime:  t,
		format: d.mode & modeFmt,
		zones:  make([]uint32, len(d.zones)),
	}
	for i, z := range d.zones {
		ino.zones[i] = uint32(z)
	}
	return ino
}

// inodeV2 is the 64 byte v2 layout
type inodeV2 struct {
	mode   uint16
	nlinks uint16
	uid    uint16
	gid    uint16
	size   uint32
	atime  uint32
	mtime  uint32
	ctime  uint32
	zones  [10]uint32
}

func decodeInodeV2(data []byte) inodeV2 {
	ino := inodeV2{
		mode:   binary.LittleEndian.Uint16(data[0:2]),
		nlinks: binary.LittleEndian.Uint16(data[2:4]),
		uid:    binary.LittleEndian.Uint16(data[4:6]),
		gid:    binary.LittleEndian.Uint16(data[6:8]),
		size:   binary.LittleEndian.Uint32(data[8:12]),
		atime:  binary.LittleEndian.Uint32(data[12:16]),
		mtime:  binary.LittleEndian.Uint32(data[16:20]),
		ctime:  binary.LittleEndian.Uint32(data[20:24]),
	}
	for i := range ino.zones {
		ino.zones[i] = binary.LittleEndian.Uint32(data[24+i*4:])
	}
	return ino
}

func (d inodeV2) normalize(num uint32) Inode {
	return Inode{
		Number: num,
		Kind:   kindOf(d.mode),
		Mode:   d.mode & PermMask,
		Size:   int64(d.size),
		UID:    uint32(d.uid),
		GID:    uint32(d.gid),
		Nlinks: d.nlinks,
		Atime:  time.Unix(int64(d.atime), 0),
		Mtime:  time.Unix(int64(d.mtime), 0),
		Ctime:  time.Unix(int64(d.ctime), 0),
		format: d.mode & modeFmt,
		zones:  append([]uint32(nil), d.zones[:]...),
	}
}

// Inode reads and normalises inode num
func (f *FS) Inode(num uint32) (Inode, error) {
	if num == 0 || num > f.sb.ninodes {
		return Inode{}, fmt.Errorf("inode %d outside 1..%d: %w", num, f.sb.ninodes, ErrFormatInconsistency)
	}

	offset := f.inodeTable*BlockSize + int64(num-1)*int64(f.inodeSize)
	data := make([]byte, f.inodeSize)
	if _, err := f.r.ReadAt(data, offset); err != nil {
		return Inode{}, fmt.Errorf("reading inode %d: %w", num, err)
	}

	var d diskInode
	if f.version == 1 {
		d = decodeInodeV1(data)
	} else {
		d = decodeInodeV2(data)
	}
	return d.normalize(num), nil
}
