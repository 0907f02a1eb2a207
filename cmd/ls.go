// Package cmd implements the mfscat commands.
package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/lvdlvd/mfscat/fsys"
	"github.com/lvdlvd/mfscat/fsys/minix"
)

// LsOptions controls ls behavior
type LsOptions struct {
	Long bool // Long format (-l)
}

// Ls lists the contents of a path in the filesystem.
// If the path is a file, it shows file information.
// If the path is a directory, it lists its contents.
func Ls(filesystem fsys.FS, fsPath string, out io.Writer, opts LsOptions) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return listDirectory(filesystem, fsPath, out, opts)
	}

	if opts.Long {
		printLongFormat(info, out)
	} else {
		fmt.Fprintln(out, info.Name())
	}
	return nil
}

func normalizePath(p string) string {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func listDirectory(filesystem fsys.FS, dirPath string, out io.Writer, opts LsOptions) error {
	entries, err := fs.ReadDir(filesystem, dirPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()

		if opts.Long {
			info, err := entry.Info()
			if err != nil {
				fmt.Fprintf(out, "%-10s %12s %s %s\n", "?????????", "?", "????????????", name)
				continue
			}
			printLongFormat(info, out)
		} else {
			if entry.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
		}
	}

	return nil
}

func printLongFormat(info fs.FileInfo, out io.Writer) {
	var inode string
	if fi, ok := info.(fsys.FileInfo); ok {
		inode = fmt.Sprintf("%8d ", fi.Inode())
	}

	owner := "-"
	if ino, ok := info.Sys().(minix.Inode); ok {
		owner = fmt.Sprintf("%d:%d", ino.UID, ino.GID)
	}

	fmt.Fprintf(out, "%s%s %9s %12d %s %s\n", inode, info.Mode(), owner,
		info.Size(), info.ModTime().UTC().Format("Jan _2 15:04"), info.Name())
}

// Stat shows detailed information about a file or directory.
func Stat(filesystem fsys.FS, fsPath string, out io.Writer) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  File: %s\n", info.Name())
	fmt.Fprintf(out, "  Size: %d\n", info.Size())
	fmt.Fprintf(out, "  Mode: %s\n", info.Mode())
	fmt.Fprintf(out, "ModTime: %s\n", info.ModTime().UTC())

	if fi, ok := info.(fsys.FileInfo); ok {
		fmt.Fprintf(out, " Inode: %d\n", fi.Inode())
	}
	if ino, ok := info.Sys().(minix.Inode); ok {
		fmt.Fprintf(out, " Links: %d\n", ino.Nlinks)
		fmt.Fprintf(out, "   Uid: %d\n", ino.UID)
		fmt.Fprintf(out, "   Gid: %d\n", ino.GID)
		fmt.Fprintf(out, "Access: %s\n", ino.Atime.UTC())
		fmt.Fprintf(out, "Change: %s\n", ino.Ctime.UTC())
	}

	return nil
}
