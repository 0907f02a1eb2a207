package extract

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/lvdlvd/mfscat/fsys/minix"
)

// ReadLink returns the target stored in the symbolic link name.
func ReadLink(img Image, name string) (string, error) {
	ino, err := img.Lookup(name)
	if err != nil {
		return "", errors.Wrap(err, "resolve")
	}

	rec, err := img.Inode(ino)
	if err != nil {
		return "", errors.Wrapf(err, "%s: read inode %d", name, ino)
	}
	if rec.Kind != minix.KindSymlink {
		return "", errors.Wrapf(ErrWrongKind, "%s is a %s", name, rec.Kind)
	}

	target, err := readLink(img, ino, rec.Size)
	if err != nil {
		return "", errors.Wrap(err, name)
	}
	return target, nil
}

// readLink materializes a link target in memory. The target ends at the
// first NUL byte, if any. Targets longer than one block are rejected before
// anything is allocated.
func readLink(img Image, ino uint32, size int64) (string, error) {
	if size > minix.BlockSize {
		return "", errors.Wrapf(minix.ErrFormatInconsistency,
			"symlink inode %d is %d bytes, limit %d", ino, size, minix.BlockSize)
	}

	var buf bytes.Buffer
	buf.Grow(int(size))
	if _, err := Materialize(img, ino, minix.KindSymlink, &buf, false); err != nil {
		return "", err
	}

	target := buf.Bytes()
	if i := bytes.IndexByte(target, 0); i >= 0 {
		target = target[:i]
	}
	return string(target), nil
}
