// Package minixtest builds small Minix v1/v2 images in memory for tests.
package minixtest

import (
	"encoding/binary"
	"fmt"
)

const (
	blockSize   = 1024
	directZones = 7

	// InodeTableBlock is the first block of the inode table in built
	// images: boot, superblock, one inode bitmap and one zone bitmap block.
	InodeTableBlock = 4
)

// Node describes one object of the tree to build
type Node struct {
	Name     string
	Mode     uint16 // format bits included
	UID      uint16
	GID      uint16
	Atime    uint32
	Mtime    uint32
	Ctime    uint32
	Data     []byte // file contents or symlink target
	Holes    []int  // logical blocks of Data left unallocated
	Children []*Node
	Deleted  []string // unused slots (inode 0) written before the children
	LinkTo   *Node    // hard link: this entry names LinkTo's inode
	Rdev     uint16   // device number for device nodes, kept in zone 0
}

// Dir returns a directory node
func Dir(name string, perm uint16, children ...*Node) *Node {
	return &Node{Name: name, Mode: 0040000 | perm, Children: children}
}

// File returns a regular file node
func File(name string, perm uint16, data []byte) *Node {
	return &Node{Name: name, Mode: 0100000 | perm, Data: data}
}

// Symlink returns a symbolic link node
func Symlink(name, target string) *Node {
	return &Node{Name: name, Mode: 0120777, Data: []byte(target)}
}

// CharDevice returns a character device node
func CharDevice(name string, perm, rdev uint16) *Node {
	return &Node{Name: name, Mode: 0020000 | perm, Rdev: rdev}
}

// HardLink returns an entry naming the inode of target
func HardLink(name string, target *Node) *Node {
	return &Node{Name: name, LinkTo: target}
}

// Options selects the image variant
type Options struct {
	Version   int // 1 or 2, default 2
	NameLen   int // 14 or 30, default 30
	Inodes    int // default 64
	FreeZones int // unallocated zones appended after the data
}

func (o Options) withDefaults() Options {
	if o.Version == 0 {
		o.Version = 2
	}
	if o.NameLen == 0 {
		o.NameLen = 30
	}
	if o.Inodes == 0 {
		o.Inodes = 64
	}
	return o
}

func (o Options) inodeSize() int {
	if o.withDefaults().Version == 1 {
		return 32
	}
	return 64
}

// InodeOffset returns the byte offset of inode num in a built image
func (o Options) InodeOffset(num uint32) int64 {
	return InodeTableBlock*blockSize + int64(num-1)*int64(o.inodeSize())
}

// FirstDataZone returns the first data zone of a built image
func (o Options) FirstDataZone() uint32 {
	o = o.withDefaults()
	return uint32(InodeTableBlock + (o.Inodes*o.inodeSize()+blockSize-1)/blockSize)
}

func (o Options) magic() uint16 {
	switch {
	case o.Version == 1 && o.NameLen == 14:
		return 0x137F
	case o.Version == 1:
		return 0x138F
	case o.NameLen == 14:
		return 0x2468
	default:
		return 0x2478
	}
}

type builder struct {
	opts      Options
	dentsz    int
	ptrSize   int
	firstData int
	blocks    [][]byte
	inodes    map[uint32][]byte
	numbers   map[*Node]uint32
	nlinks    map[uint32]int
	next      uint32
}

// Build lays out root and its descendants as a Minix image. Inode numbers
// are assigned depth first, root first, so root is inode 1.
func Build(root *Node, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if opts.Version != 1 && opts.Version != 2 {
		return nil, fmt.Errorf("unsupported version %d", opts.Version)
	}
	if opts.NameLen != 14 && opts.NameLen != 30 {
		return nil, fmt.Errorf("unsupported name length %d", opts.NameLen)
	}

	b := &builder{
		opts:      opts,
		dentsz:    opts.NameLen + 2,
		ptrSize:   4,
		firstData: int(opts.FirstDataZone()),
		inodes:    make(map[uint32][]byte),
		numbers:   make(map[*Node]uint32),
		nlinks:    make(map[uint32]int),
		next:      1,
	}
	if opts.Version == 1 {
		b.ptrSize = 2
	}

	b.assign(root)
	if int(b.next-1) > opts.Inodes {
		return nil, fmt.Errorf("%d inodes needed, %d available", b.next-1, opts.Inodes)
	}
	b.countLinks(root)

	if err := b.layout(root, root); err != nil {
		return nil, err
	}

	return b.image()
}

func (b *builder) assign(n *Node) {
	if n.LinkTo == nil {
		b.numbers[n] = b.next
		b.next++
	}
	for _, c := range n.Children {
		b.assign(c)
	}
}

func (b *builder) countLinks(root *Node) {
	// "." and ".." of the root both name the root
	b.nlinks[b.number(root)] += 2

	var walk func(d *Node)
	walk = func(d *Node) {
		for _, c := range d.Children {
			num := b.number(c)
			b.nlinks[num]++
			if c.LinkTo == nil && isDir(c) {
				b.nlinks[num]++         // "."
				b.nlinks[b.number(d)]++ // ".."
				walk(c)
			}
		}
	}
	walk(root)
}

func isDir(n *Node) bool {
	return n.Mode&0170000 == 0040000
}

func (b *builder) number(n *Node) uint32 {
	if n.LinkTo != nil {
		return b.numbers[n.LinkTo]
	}
	return b.numbers[n]
}

func (b *builder) layout(n, parent *Node) error {
	if n.LinkTo != nil {
		return nil
	}

	data := n.Data
	if isDir(n) {
		var err error
		if data, err = b.directory(n, parent); err != nil {
			return err
		}
	}

	var zones []uint32
	if n.Mode&0170000 == 0020000 || n.Mode&0170000 == 0060000 {
		zones = []uint32{uint32(n.Rdev)}
		data = nil
	} else {
		zones = b.allocate(data, n.Holes)
	}

	if err := b.encodeInode(n, len(data), zones); err != nil {
		return err
	}

	for _, c := range n.Children {
		if err := b.layout(c, n); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) directory(n, parent *Node) ([]byte, error) {
	var data []byte
	add := func(num uint32, name string) error {
		if len(name) > b.opts.NameLen {
			return fmt.Errorf("name %q longer than %d", name, b.opts.NameLen)
		}
		rec := make([]byte, b.dentsz)
		binary.LittleEndian.PutUint16(rec[0:2], uint16(num))
		copy(rec[2:], name)
		data = append(data, rec...)
		return nil
	}

	if err := add(b.number(n), "."); err != nil {
		return nil, err
	}
	if err := add(b.number(parent), ".."); err != nil {
		return nil, err
	}
	for _, name := range n.Deleted {
		if err := add(0, name); err != nil {
			return nil, err
		}
	}
	for _, c := range n.Children {
		if err := add(b.number(c), c.Name); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// allocate stores data block by block and returns the inode zone array
func (b *builder) allocate(data []byte, holes []int) []uint32 {
	isHole := make(map[int]bool, len(holes))
	for _, h := range holes {
		isHole[h] = true
	}

	nblocks := (len(data) + blockSize - 1) / blockSize
	ptrs := make([]uint32, nblocks)
	for i := range ptrs {
		if isHole[i] {
			continue
		}
		end := (i + 1) * blockSize
		if end > len(data) {
			end = len(data)
		}
		ptrs[i] = b.allocBlock(data[i*blockSize : end])
	}

	levels := 2
	if b.opts.Version == 2 {
		levels = 3
	}
	zones := make([]uint32, directZones+levels)
	copy(zones[:directZones], ptrs)

	rest := ptrs[min(len(ptrs), directZones):]
	perBlock := blockSize / b.ptrSize
	span := perBlock
	for level := 1; level <= levels && len(rest) > 0; level++ {
		chunk := rest[:min(len(rest), span)]
		zones[directZones+level-1] = b.indirect(chunk, level)
		rest = rest[len(chunk):]
		span *= perBlock
	}
	return zones
}

func (b *builder) indirect(ptrs []uint32, level int) uint32 {
	if allZero(ptrs) {
		return 0
	}

	perBlock := blockSize / b.ptrSize
	stride := 1
	for i := 1; i < level; i++ {
		stride *= perBlock
	}

	blk := make([]byte, blockSize)
	for slot := 0; slot*stride < len(ptrs); slot++ {
		chunk := ptrs[slot*stride : min((slot+1)*stride, len(ptrs))]
		var zone uint32
		if level == 1 {
			zone = chunk[0]
		} else {
			zone = b.indirect(chunk, level-1)
		}
		if b.ptrSize == 2 {
			binary.LittleEndian.PutUint16(blk[slot*2:], uint16(zone))
		} else {
			binary.LittleEndian.PutUint32(blk[slot*4:], zone)
		}
	}
	return b.allocBlock(blk)
}

func allZero(ptrs []uint32) bool {
	for _, p := range ptrs {
		if p != 0 {
			return false
		}
	}
	return true
}

func (b *builder) allocBlock(data []byte) uint32 {
	blk := make([]byte, blockSize)
	copy(blk, data)
	b.blocks = append(b.blocks, blk)
	return uint32(b.firstData + len(b.blocks) - 1)
}

func (b *builder) encodeInode(n *Node, size int, zones []uint32) error {
	num := b.numbers[n]
	nlinks := b.nlinks[num]

	if b.opts.Version == 1 {
		rec := make([]byte, 32)
		binary.LittleEndian.PutUint16(rec[0:2], n.Mode)
		binary.LittleEndian.PutUint16(rec[2:4], n.UID)
		binary.LittleEndian.PutUint32(rec[4:8], uint32(size))
		binary.LittleEndian.PutUint32(rec[8:12], n.Mtime)
		rec[12] = byte(n.GID)
		rec[13] = byte(nlinks)
		for i, z := range zones {
			if z > 0xFFFF {
				return fmt.Errorf("zone %d does not fit a v1 inode", z)
			}
			binary.LittleEndian.PutUint16(rec[14+i*2:], uint16(z))
		}
		b.inodes[num] = rec
		return nil
	}

	rec := make([]byte, 64)
	binary.LittleEndian.PutUint16(rec[0:2], n.Mode)
	binary.LittleEndian.PutUint16(rec[2:4], uint16(nlinks))
	binary.LittleEndian.PutUint16(rec[4:6], n.UID)
	binary.LittleEndian.PutUint16(rec[6:8], n.GID)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(size))
	binary.LittleEndian.PutUint32(rec[12:16], n.Atime)
	binary.LittleEndian.PutUint32(rec[16:20], n.Mtime)
	binary.LittleEndian.PutUint32(rec[20:24], n.Ctime)
	for i, z := range zones {
		binary.LittleEndian.PutUint32(rec[24+i*4:], z)
	}
	b.inodes[num] = rec
	return nil
}

func (b *builder) image() ([]byte, error) {
	nzones := b.firstData + len(b.blocks) + b.opts.FreeZones
	dataZones := nzones - b.firstData
	if dataZones >= 8*blockSize {
		return nil, fmt.Errorf("%d data zones do not fit one bitmap block", dataZones)
	}
	if b.opts.Version == 1 && nzones > 0xFFFF {
		return nil, fmt.Errorf("%d zones do not fit a v1 superblock", nzones)
	}

	img := make([]byte, nzones*blockSize)

	sb := img[blockSize : 2*blockSize]
	binary.LittleEndian.PutUint16(sb[0:2], uint16(b.opts.Inodes))
	binary.LittleEndian.PutUint16(sb[4:6], 1) // inode bitmap blocks
	binary.LittleEndian.PutUint16(sb[6:8], 1) // zone bitmap blocks
	binary.LittleEndian.PutUint16(sb[8:10], uint16(b.firstData))
	binary.LittleEndian.PutUint16(sb[16:18], b.opts.magic())
	binary.LittleEndian.PutUint16(sb[18:20], 1) // valid
	if b.opts.Version == 1 {
		binary.LittleEndian.PutUint16(sb[2:4], uint16(nzones))
		binary.LittleEndian.PutUint32(sb[12:16], (7+512+512*512)*blockSize)
	} else {
		binary.LittleEndian.PutUint32(sb[12:16], 0x7FFFFFFF)
		binary.LittleEndian.PutUint32(sb[20:24], uint32(nzones))
	}

	// Bitmaps: bit 0 reserved, bits past the end marked in use.
	imap := img[2*blockSize : 3*blockSize]
	for bit := 0; bit < 8*blockSize; bit++ {
		if bit < int(b.next) || bit > b.opts.Inodes {
			imap[bit/8] |= 1 << (bit % 8)
		}
	}
	zmap := img[3*blockSize : 4*blockSize]
	for bit := 0; bit < 8*blockSize; bit++ {
		if bit <= len(b.blocks) || bit > dataZones {
			zmap[bit/8] |= 1 << (bit % 8)
		}
	}

	for num, rec := range b.inodes {
		copy(img[b.opts.InodeOffset(num):], rec)
	}
	for i, blk := range b.blocks {
		copy(img[(b.firstData+i)*blockSize:], blk)
	}

	return img, nil
}

// WithMBR wraps a filesystem image in a disk with one MBR partition of
// type ptype starting at sector 63.
func WithMBR(fsImage []byte, ptype byte) []byte {
	const start = 63
	disk := make([]byte, start*512+len(fsImage))
	entry := disk[446:462]
	entry[4] = ptype
	binary.LittleEndian.PutUint32(entry[8:12], start)
	binary.LittleEndian.PutUint32(entry[12:16], uint32((len(fsImage)+511)/512))
	disk[510] = 0x55
	disk[511] = 0xAA
	copy(disk[start*512:], fsImage)
	return disk
}
