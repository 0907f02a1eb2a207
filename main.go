// mfscat - Read files from Minix v1/v2 filesystem images
//
// Usage:
//
//	mfscat [-v] [--partition N] info <image>
//	mfscat ls [-l] <image> [path]
//	mfscat stat <image> <path>
//	mfscat cat <image> <path>...
//	mfscat copy [--squash] <image> <path> <dest>
//	mfscat readlink <image> <path>...
//	mfscat extract [--squash] <image> <dest>
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/lvdlvd/mfscat/cmd"
	"github.com/lvdlvd/mfscat/detect"
	"github.com/lvdlvd/mfscat/fsys/minix"
	"github.com/lvdlvd/mfscat/fsys/part"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
}

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		log.Fatalln(err)
	}
}

func newApp(stdout io.Writer) *cli.Command {
	app := new(cli.Command)

	app.Name = "mfscat"
	app.Usage = "read files from Minix filesystem images"
	app.HideHelpCommand = true
	app.Writer = stdout

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable debug/verbose mode",
		},
		&cli.IntFlag{
			Name:  "partition",
			Value: -1,
			Usage: "MBR partition index holding the filesystem (default: first Minix partition)",
		},
	}

	app.Before = func(ctx context.Context, c *cli.Command) (context.Context, error) {
		if c.Bool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		return ctx, nil
	}

	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "print superblock information and free space",
			ArgsUsage: "<image>",
			Action: withImage(0, func(c *cli.Command, img *image, args []string) error {
				return cmd.Info(img.fs, img.part, c.Root().Writer)
			}),
		},
		{
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "<image> [path]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "l", Usage: "use long listing format"},
			},
			Action: withImage(0, func(c *cli.Command, img *image, args []string) error {
				p := "."
				if len(args) > 0 {
					p = args[0]
				}
				return cmd.Ls(img.fs, p, c.Root().Writer, cmd.LsOptions{Long: c.Bool("l")})
			}),
		},
		{
			Name:      "stat",
			Usage:     "show inode details of a path",
			ArgsUsage: "<image> <path>",
			Action: withImage(1, func(c *cli.Command, img *image, args []string) error {
				return cmd.Stat(img.fs, args[0], c.Root().Writer)
			}),
		},
		{
			Name:      "cat",
			Usage:     "write regular files to standard output",
			ArgsUsage: "<image> <path>...",
			Action: withImage(1, func(c *cli.Command, img *image, args []string) error {
				return cmd.Cat(img.fs, args, c.Root().Writer)
			}),
		},
		{
			Name:      "copy",
			Usage:     "copy a regular file out of the image",
			ArgsUsage: "<image> <path> <dest>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "squash", Usage: "do not restore file ownership"},
			},
			Action: withImage(2, func(c *cli.Command, img *image, args []string) error {
				return cmd.Copy(img.fs, args[0], args[1], c.Bool("squash"))
			}),
		},
		{
			Name:      "readlink",
			Usage:     "print symbolic link targets",
			ArgsUsage: "<image> <path>...",
			Action: withImage(1, func(c *cli.Command, img *image, args []string) error {
				return cmd.ReadLink(img.fs, args, c.Root().Writer)
			}),
		},
		{
			Name:      "extract",
			Usage:     "recreate the whole tree under an empty directory",
			ArgsUsage: "<image> <dest>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "squash", Usage: "do not restore file ownership"},
			},
			Action: withImage(1, func(c *cli.Command, img *image, args []string) error {
				return cmd.Extract(img.fs, args[0], c.Bool("squash"))
			}),
		},
	}

	return app
}

// image is an opened filesystem image and, for partitioned disks, the
// partition it was found in.
type image struct {
	file *os.File
	fs   *minix.FS
	part *part.Partition
}

func (img *image) Close() error {
	img.fs.Close()
	return img.file.Close()
}

// withImage opens the image named by the first argument and runs fn with
// the remaining arguments, of which at least minArgs are required.
func withImage(minArgs int, fn func(*cli.Command, *image, []string) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		args := c.Args().Slice()
		if len(args) < 1+minArgs {
			return fmt.Errorf("usage: %s %s %s", c.Root().Name, c.Name, c.ArgsUsage)
		}

		img, err := openImage(args[0], int(c.Root().Int("partition")))
		if err != nil {
			return err
		}
		defer img.Close()

		return fn(c, img, args[1:])
	}
}

func openImage(imagePath string, partIndex int) (*image, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}

	img, err := openFilesystem(file, partIndex)
	if err != nil {
		file.Close()
		return nil, err
	}
	return img, nil
}

func openFilesystem(file *os.File, partIndex int) (*image, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	fsType, err := detect.Detect(file)
	if err != nil {
		return nil, fmt.Errorf("detecting filesystem: %w", err)
	}
	log.WithFields(log.Fields{"image": file.Name(), "type": fsType}).Debug("detected image")

	img := &image{file: file}
	var r io.ReaderAt = file
	size := info.Size()

	switch {
	case fsType.IsPartitionTable():
		table, err := part.Open(file, size)
		if err != nil {
			return nil, fmt.Errorf("reading partition table: %w", err)
		}
		if partIndex < 0 {
			partIndex = firstMinixPartition(table)
			if partIndex < 0 {
				return nil, fmt.Errorf("no Minix partition found\n%s", table.Info())
			}
		}
		section, err := table.Section(partIndex)
		if err != nil {
			return nil, err
		}
		img.part = table.Partitions()[partIndex]
		r, size = section, section.Size()
		log.WithFields(log.Fields{
			"partition": img.part.Name,
			"offset":    img.part.StartOffset(),
		}).Debug("using partition")

	case partIndex >= 0:
		return nil, fmt.Errorf("--partition given but image has no partition table (detected %s)", fsType)

	case fsType == detect.Unknown:
		return nil, fmt.Errorf("unknown or unsupported filesystem")
	}

	img.fs, err = minix.Open(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening filesystem: %w", err)
	}
	return img, nil
}

func firstMinixPartition(t *part.Table) int {
	for i, p := range t.Partitions() {
		if p.IsMinix() {
			return i
		}
	}
	return -1
}
