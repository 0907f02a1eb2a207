package cmd

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/lvdlvd/mfscat/fsys"
	"github.com/lvdlvd/mfscat/fsys/minix"
	"github.com/lvdlvd/mfscat/fsys/part"
)

type infoReport struct {
	Partition  *partitionReport `yaml:"partition,omitempty"`
	Filesystem minix.Info       `yaml:"filesystem"`
	FreeBytes  int64            `yaml:"free_bytes"`
	FreeRanges int              `yaml:"free_ranges"`
}

type partitionReport struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset int64  `yaml:"offset"`
	Size   int64  `yaml:"size"`
}

// Info prints superblock facts and free space as YAML. p is the partition
// the filesystem was found in, or nil for a bare filesystem image.
func Info(filesystem *minix.FS, p *part.Partition, out io.Writer) error {
	free, err := filesystem.FreeBlocks()
	if err != nil {
		return err
	}

	report := infoReport{
		Filesystem: filesystem.Info(),
		FreeBytes:  fsys.TotalSize(free),
		FreeRanges: len(free),
	}
	if p != nil {
		report.Partition = &partitionReport{
			Name:   p.Name,
			Type:   part.PartitionTypeString(p),
			Offset: p.StartOffset(),
			Size:   p.SizeBytes(),
		}
	}

	b, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding info: %w", err)
	}
	_, err = out.Write(b)
	return err
}
