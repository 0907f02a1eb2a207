package part

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mbrDisk(size int, entries ...[3]uint32) []byte {
	disk := make([]byte, size)
	for i, e := range entries {
		entry := disk[446+i*16 : 446+(i+1)*16]
		entry[4] = byte(e[0])
		binary.LittleEndian.PutUint32(entry[8:12], e[1])
		binary.LittleEndian.PutUint32(entry[12:16], e[2])
	}
	disk[510], disk[511] = 0x55, 0xAA
	return disk
}

func TestOpen(t *testing.T) {
	disk := mbrDisk(64*1024,
		[3]uint32{TypeMinix, 2, 4},
		[3]uint32{0, 0, 0},
		[3]uint32{0x83, 10, 8},
	)
	disk[446] = 0x80

	table, err := Open(bytes.NewReader(disk), int64(len(disk)))
	require.NoError(t, err)

	parts := table.Partitions()
	require.Len(t, parts, 2)

	assert.Equal(t, "p0", parts[0].Name)
	assert.True(t, parts[0].IsMinix())
	assert.True(t, parts[0].Bootable)
	assert.Equal(t, int64(1024), parts[0].StartOffset())
	assert.Equal(t, int64(2048), parts[0].SizeBytes())
	assert.Equal(t, "Minix", PartitionTypeString(parts[0]))

	assert.Equal(t, "p1", parts[1].Name)
	assert.False(t, parts[1].IsMinix())
	assert.Equal(t, "Linux", PartitionTypeString(parts[1]))

	assert.Contains(t, table.Info(), "Partitions: 2")
}

func TestSection(t *testing.T) {
	disk := mbrDisk(8*1024, [3]uint32{TypeMinixOld, 4, 2})
	copy(disk[2048:], "partition data")

	table, err := Open(bytes.NewReader(disk), int64(len(disk)))
	require.NoError(t, err)

	section, err := table.Section(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), section.Size())

	data, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, "partition data", string(bytes.TrimRight(data, "\x00")))

	_, err = table.Section(1)
	assert.Error(t, err)
}

func TestSectionPastEnd(t *testing.T) {
	disk := mbrDisk(4*1024, [3]uint32{TypeMinix, 4, 100})

	table, err := Open(bytes.NewReader(disk), int64(len(disk)))
	require.NoError(t, err)

	_, err = table.Section(0)
	assert.Error(t, err)
}

func TestOpenBadSignature(t *testing.T) {
	disk := make([]byte, 1024)
	_, err := Open(bytes.NewReader(disk), int64(len(disk)))
	assert.Error(t, err)
}
