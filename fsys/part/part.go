// Package part provides MBR partition table parsing, so that a Minix
// filesystem living inside a partitioned disk image can be opened.
package part

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const sectorSize = 512

// MBR partition types used by Minix
const (
	TypeMinixOld = 0x80
	TypeMinix    = 0x81
)

// Partition represents a single partition entry
type Partition struct {
	Index    int    // Partition index (0-based)
	Name     string // Display name (e.g., "p0", "p1")
	Type     byte   // MBR partition type
	StartLBA uint64
	SizeLBA  uint64
	Bootable bool
}

// SizeBytes returns the partition size in bytes
func (p *Partition) SizeBytes() int64 {
	return int64(p.SizeLBA) * sectorSize
}

// StartOffset returns the starting byte offset
func (p *Partition) StartOffset() int64 {
	return int64(p.StartLBA) * sectorSize
}

// IsMinix reports whether the partition type marks a Minix filesystem.
func (p *Partition) IsMinix() bool {
	return p.Type == TypeMinix || p.Type == TypeMinixOld
}

// Table is a parsed MBR partition table
type Table struct {
	r          io.ReaderAt
	size       int64
	partitions []*Partition
}

// Open parses the MBR partition table of r.
func Open(r io.ReaderAt, size int64) (*Table, error) {
	t := &Table{r: r, size: size}
	if err := t.parseMBR(); err != nil {
		return nil, err
	}
	return t, nil
}

// parseMBR parses the four primary MBR entries
func (t *Table) parseMBR() error {
	header := make([]byte, sectorSize)
	if _, err := t.r.ReadAt(header, 0); err != nil {
		return fmt.Errorf("reading MBR: %w", err)
	}

	if header[510] != 0x55 || header[511] != 0xAA {
		return fmt.Errorf("invalid MBR signature")
	}

	for i := 0; i < 4; i++ {
		entry := header[446+i*16 : 446+(i+1)*16]

		partType := entry[4]
		if partType == 0 {
			continue // Empty entry
		}

		lbaStart := binary.LittleEndian.Uint32(entry[8:12])
		lbaSize := binary.LittleEndian.Uint32(entry[12:16])

		if lbaStart == 0 || lbaSize == 0 {
			continue
		}

		t.partitions = append(t.partitions, &Partition{
			Index:    len(t.partitions),
			Name:     fmt.Sprintf("p%d", len(t.partitions)),
			Type:     partType,
			StartLBA: uint64(lbaStart),
			SizeLBA:  uint64(lbaSize),
			Bootable: entry[0] == 0x80,
		})
	}

	return nil
}

// Partitions returns the list of partitions
func (t *Table) Partitions() []*Partition {
	return t.partitions
}

// Section returns a reader limited to partition i. A partition reaching
// past the end of the image is an error.
func (t *Table) Section(i int) (*io.SectionReader, error) {
	if i < 0 || i >= len(t.partitions) {
		return nil, fmt.Errorf("partition %d not found (table has %d)", i, len(t.partitions))
	}
	p := t.partitions[i]
	if p.StartOffset()+p.SizeBytes() > t.size {
		return nil, fmt.Errorf("partition %s extends past end of image", p.Name)
	}
	return io.NewSectionReader(t.r, p.StartOffset(), p.SizeBytes()), nil
}

// Info returns partition table information
func (t *Table) Info() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Partitions: %d\n\n", len(t.partitions)))
	sb.WriteString(fmt.Sprintf("%-6s %-12s %12s %12s\n", "NAME", "TYPE", "START", "SIZE"))

	for _, p := range t.partitions {
		boot := ""
		if p.Bootable {
			boot = " (bootable)"
		}
		sb.WriteString(fmt.Sprintf("%-6s %-12s %12d %12d%s\n",
			p.Name, PartitionTypeString(p), p.StartLBA, p.SizeBytes(), boot))
	}

	return sb.String()
}

// PartitionTypeString returns a human-readable partition type
func PartitionTypeString(p *Partition) string {
	switch p.Type {
	case TypeMinixOld:
		return "Old Minix"
	case TypeMinix:
		return "Minix"
	case 0x05, 0x0F:
		return "Extended"
	case 0x82:
		return "Linux swap"
	case 0x83:
		return "Linux"
	default:
		return fmt.Sprintf("0x%02X", p.Type)
	}
}
