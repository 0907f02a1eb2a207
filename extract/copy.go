package extract

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lvdlvd/mfscat/fsys/minix"
)

// CopyFile copies the regular file name out of the image to dst, skipping
// over holes, and applies the image metadata to the result. Nothing is
// created when name does not resolve to a regular file.
func CopyFile(img Image, name, dst string, opts Options) (uint32, error) {
	ino, err := img.Lookup(name)
	if err != nil {
		return 0, errors.Wrap(err, "resolve")
	}

	rec, err := img.Inode(ino)
	if err != nil {
		return ino, errors.Wrapf(err, "%s: read inode %d", name, ino)
	}
	if rec.Kind != minix.KindRegular {
		return ino, errors.Wrapf(ErrWrongKind, "%s is a %s", name, rec.Kind)
	}

	if err := writeFile(img, ino, dst, rec, opts); err != nil {
		return ino, errors.Wrap(err, name)
	}
	log.WithFields(log.Fields{"src": name, "dst": dst, "size": rec.Size}).Debug("copied file")
	return ino, nil
}

func writeFile(img Image, ino uint32, target string, rec minix.Inode, opts Options) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "create file")
	}

	if _, err := Materialize(img, ino, minix.KindRegular, out, true); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", target)
	}

	return restoreMetadata(target, rec, opts)
}

// restoreMetadata applies ownership, permission bits and timestamps from
// rec to target, in that order. Links themselves are never followed.
func restoreMetadata(target string, rec minix.Inode, opts Options) error {
	if opts.RestoreOwnership {
		if err := unix.Lchown(target, int(rec.UID), int(rec.GID)); err != nil {
			return errors.Wrapf(err, "lchown %s", target)
		}
	}

	// chown clears setuid and setgid, so permissions go second.
	if rec.Kind != minix.KindSymlink {
		if err := unix.Chmod(target, uint32(rec.Mode&minix.PermMask)); err != nil {
			return errors.Wrapf(err, "chmod %s", target)
		}
	}

	times := []unix.Timespec{
		unix.NsecToTimespec(rec.Atime.UnixNano()),
		unix.NsecToTimespec(rec.Mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, target, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return errors.Wrapf(err, "set times on %s", target)
	}
	return nil
}
