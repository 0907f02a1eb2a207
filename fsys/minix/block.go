package minix

import (
	"encoding/binary"
	"fmt"
	"io/fs"

	"github.com/lvdlvd/mfscat/fsys"
)

// BlockCount returns the number of logical blocks covering size bytes
func BlockCount(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize
}

// BlockLen returns the number of valid bytes in logical block index of a
// file of the given size: BlockSize for all but the final block, which
// holds the remainder (BlockSize again when size is an exact multiple).
func BlockLen(size, index int64) int {
	remaining := size - index*BlockSize
	switch {
	case remaining <= 0:
		return 0
	case remaining < BlockSize:
		return int(remaining)
	default:
		return BlockSize
	}
}

// ReadBlock returns logical block index of inode num. Materialized blocks
// are trimmed to BlockLen; hole is true when no zone is allocated.
func (f *FS) ReadBlock(num, index uint32) (data []byte, hole bool, err error) {
	ino, err := f.Inode(num)
	if err != nil {
		return nil, false, err
	}
	return f.readInodeBlock(&ino, int64(index))
}

func (f *FS) readInodeBlock(ino *Inode, index int64) ([]byte, bool, error) {
	if index < 0 || index >= BlockCount(ino.Size) {
		return nil, false, fmt.Errorf("block %d past end of inode %d (%d bytes): %w",
			index, ino.Number, ino.Size, fs.ErrInvalid)
	}

	shift := f.sb.logZoneSize
	zone, err := f.zoneFor(ino, uint64(index)>>shift)
	if err != nil {
		return nil, false, fmt.Errorf("inode %d block %d: %w", ino.Number, index, err)
	}
	if zone == 0 {
		return nil, true, nil
	}

	block := uint64(zone)<<shift + uint64(index)&(1<<shift-1)
	data := make([]byte, BlockLen(ino.Size, index))
	if _, err := f.r.ReadAt(data, int64(block)*BlockSize); err != nil {
		return nil, false, fmt.Errorf("reading block %d: %w", block, err)
	}
	return data, false, nil
}

// zoneFor maps a logical zone index of ino to a zone number, or 0 for a
// hole. zones[7:] hold one pointer per indirection level.
func (f *FS) zoneFor(ino *Inode, lzone uint64) (uint32, error) {
	if lzone < directZones {
		zone := ino.zones[lzone]
		return zone, f.checkZone(zone)
	}
	lzone -= directZones

	perBlock := uint64(BlockSize / f.ptrSize)
	span := perBlock
	for level := 1; directZones+level-1 < len(ino.zones); level++ {
		if lzone < span {
			return f.walkIndirect(ino.zones[directZones+level-1], level, lzone, span/perBlock)
		}
		lzone -= span
		span *= perBlock
	}

	return 0, fmt.Errorf("logical zone beyond maximum file size: %w", ErrFormatInconsistency)
}

// walkIndirect follows level indirect blocks starting at zone. stride is
// the number of data zones each pointer of the current block covers.
func (f *FS) walkIndirect(zone uint32, level int, index, stride uint64) (uint32, error) {
	perBlock := uint64(BlockSize / f.ptrSize)
	for ; level > 0; level-- {
		if zone == 0 {
			return 0, nil
		}
		if err := f.checkZone(zone); err != nil {
			return 0, err
		}

		data, err := f.readBlock(uint64(zone) << f.sb.logZoneSize)
		if err != nil {
			return 0, err
		}

		slot := index / stride
		index %= stride
		if f.ptrSize == 2 {
			zone = uint32(binary.LittleEndian.Uint16(data[slot*2:]))
		} else {
			zone = binary.LittleEndian.Uint32(data[slot*4:])
		}
		if stride > 1 {
			stride /= perBlock
		}
	}
	return zone, f.checkZone(zone)
}

// checkZone rejects zone numbers outside the data area. Zero is a hole.
func (f *FS) checkZone(zone uint32) error {
	if zone == 0 {
		return nil
	}
	if zone < uint32(f.sb.firstDataZone) || zone >= f.sb.nzones {
		return fmt.Errorf("zone %d outside data area %d..%d: %w",
			zone, f.sb.firstDataZone, f.sb.nzones, ErrFormatInconsistency)
	}
	return nil
}

func (f *FS) readBlock(block uint64) ([]byte, error) {
	data := make([]byte, BlockSize)
	if _, err := f.r.ReadAt(data, int64(block)*BlockSize); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", block, err)
	}
	return data, nil
}

// FreeBlocks returns the list of free byte ranges in the Minix filesystem.
// Bit i of the zone bitmap covers zone firstDataZone+i-1; bit 0 is
// reserved. A clear bit means free.
func (f *FS) FreeBlocks() ([]fsys.Range, error) {
	bitmap := make([]byte, int(f.sb.zmapBlocks)*BlockSize)
	offset := (2 + int64(f.sb.imapBlocks)) * BlockSize
	if _, err := f.r.ReadAt(bitmap, offset); err != nil {
		return nil, fmt.Errorf("reading zone bitmap: %w", err)
	}

	var ranges []fsys.Range
	zoneSize := f.zoneSize()
	dataZones := uint64(f.sb.nzones) - uint64(f.sb.firstDataZone)

	for bit := uint64(1); bit <= dataZones; bit++ {
		if int(bit/8) >= len(bitmap) {
			break
		}
		if bitmap[bit/8]&(1<<(bit%8)) != 0 {
			continue
		}
		zone := int64(f.sb.firstDataZone) + int64(bit) - 1
		ranges = append(ranges, fsys.Range{Start: zone * zoneSize, End: (zone + 1) * zoneSize})
	}

	return fsys.MergeRanges(ranges), nil
}
