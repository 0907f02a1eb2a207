// Package detect identifies Minix filesystem variants from disk images.
package detect

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type represents an image type
type Type int

const (
	Unknown Type = iota
	MinixV1      // Minix v1, 14 character names
	MinixV1L     // Minix v1, 30 character names
	MinixV2      // Minix v2, 14 character names
	MinixV2L     // Minix v2, 30 character names
	MinixV3      // Minix v3, recognised only
	MBR          // Master Boot Record partition table
)

// Superblock magic numbers. The superblock starts at byte 1024 and the
// magic is at offset 16 within it (offset 24 for v3).
const (
	superblockOffset = 1024
	magicV1          = 0x137F
	magicV1L         = 0x138F
	magicV2          = 0x2468
	magicV2L         = 0x2478
	magicV3          = 0x4D5A
)

func (t Type) String() string {
	switch t {
	case MinixV1:
		return "minix-v1"
	case MinixV1L:
		return "minix-v1 (30 char names)"
	case MinixV2:
		return "minix-v2"
	case MinixV2L:
		return "minix-v2 (30 char names)"
	case MinixV3:
		return "minix-v3"
	case MBR:
		return "MBR"
	default:
		return "unknown"
	}
}

// IsMinix returns true if the type is any Minix variant
func (t Type) IsMinix() bool {
	return t >= MinixV1 && t <= MinixV3
}

// Supported returns true if the type can be decoded
func (t Type) Supported() bool {
	return t >= MinixV1 && t <= MinixV2L
}

// IsPartitionTable returns true if the type is a partition table format
func (t Type) IsPartitionTable() bool {
	return t == MBR
}

// FromMagic maps a superblock magic number to a Minix type.
func FromMagic(magic uint16) Type {
	switch magic {
	case magicV1:
		return MinixV1
	case magicV1L:
		return MinixV1L
	case magicV2:
		return MinixV2
	case magicV2L:
		return MinixV2L
	case magicV3:
		return MinixV3
	}
	return Unknown
}

// Detect identifies the image type from a reader.
// Minix is checked before MBR since a Minix boot block may carry the
// 0x55AA signature too.
func Detect(r io.ReaderAt) (Type, error) {
	header := make([]byte, 2048)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return Unknown, fmt.Errorf("reading header: %w", err)
	}
	if n < 512 {
		return Unknown, fmt.Errorf("file too small: %d bytes", n)
	}

	if n >= superblockOffset+32 {
		sb := header[superblockOffset:]
		if t := FromMagic(binary.LittleEndian.Uint16(sb[16:18])); t != Unknown && t != MinixV3 {
			return t, nil
		}
		if binary.LittleEndian.Uint16(sb[24:26]) == magicV3 {
			return MinixV3, nil
		}
	}

	if header[510] == 0x55 && header[511] == 0xAA && isMBRPartitionTable(header) {
		return MBR, nil
	}

	return Unknown, nil
}

// isMBRPartitionTable checks if the boot sector contains a valid MBR partition table
func isMBRPartitionTable(header []byte) bool {
	if len(header) < 512 {
		return false
	}

	validPartitions := 0
	for i := 0; i < 4; i++ {
		entry := header[446+i*16 : 446+(i+1)*16]

		// Check boot flag (must be 0x00 or 0x80)
		bootFlag := entry[0]
		if bootFlag != 0x00 && bootFlag != 0x80 {
			return false
		}

		if entry[4] == 0x00 {
			continue // Empty entry
		}

		lbaStart := binary.LittleEndian.Uint32(entry[8:12])
		lbaSize := binary.LittleEndian.Uint32(entry[12:16])
		if lbaStart > 0 && lbaSize > 0 {
			validPartitions++
		}
	}

	return validPartitions > 0
}
