package extract

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lvdlvd/mfscat/fsys/minix"
)

// Materialize streams the content of inode ino to w in logical block
// order and returns ino. The inode must be of kind want.
//
// Holes are written as zero bytes unless allowSeek is set and w is an
// io.Seeker, in which case the write position is advanced instead and the
// sink is extended to the full size if the file ends in a hole.
func Materialize(img Image, ino uint32, want minix.Kind, w io.Writer, allowSeek bool) (uint32, error) {
	rec, err := img.Inode(ino)
	if err != nil {
		return ino, errors.Wrapf(err, "read inode %d", ino)
	}
	if rec.Kind != want {
		return ino, errors.Wrapf(ErrWrongKind, "inode %d is a %s, not a %s", ino, rec.Kind, want)
	}

	var seeker io.Seeker
	if allowSeek {
		seeker, _ = w.(io.Seeker)
	}

	var zeros []byte
	skipped := false
	for i := int64(0); i < minix.BlockCount(rec.Size); i++ {
		n := minix.BlockLen(rec.Size, i)

		data, hole, err := img.ReadBlock(ino, uint32(i))
		if err != nil {
			return ino, errors.Wrapf(err, "read block %d of inode %d", i, ino)
		}

		if !hole {
			if len(data) != n {
				return ino, errors.Wrapf(minix.ErrFormatInconsistency,
					"block %d of inode %d holds %d bytes, want %d", i, ino, len(data), n)
			}
			if _, err := w.Write(data); err != nil {
				return ino, errors.Wrapf(err, "write block %d of inode %d", i, ino)
			}
			skipped = false
			continue
		}

		if seeker != nil {
			if _, err := seeker.Seek(int64(n), io.SeekCurrent); err != nil {
				return ino, errors.Wrapf(err, "skip hole at block %d of inode %d", i, ino)
			}
			skipped = true
			continue
		}

		if zeros == nil {
			zeros = make([]byte, minix.BlockSize)
		}
		if _, err := w.Write(zeros[:n]); err != nil {
			return ino, errors.Wrapf(err, "write hole at block %d of inode %d", i, ino)
		}
	}

	if skipped {
		if err := extend(w, seeker, rec.Size); err != nil {
			return ino, errors.Wrapf(err, "extend inode %d output to %d bytes", ino, rec.Size)
		}
	}

	return ino, nil
}

// extend makes a sink whose tail was skipped over exactly size bytes long
func extend(w io.Writer, seeker io.Seeker, size int64) error {
	if t, ok := w.(interface{ Truncate(int64) error }); ok {
		return t.Truncate(size)
	}
	if _, err := seeker.Seek(size-1, io.SeekStart); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// ReadFile resolves name and materializes it like Materialize.
func ReadFile(img Image, name string, want minix.Kind, w io.Writer, allowSeek bool) (uint32, error) {
	ino, err := img.Lookup(name)
	if err != nil {
		return 0, errors.Wrap(err, "resolve")
	}
	if _, err := Materialize(img, ino, want, w, allowSeek); err != nil {
		return ino, errors.Wrap(err, name)
	}
	return ino, nil
}
