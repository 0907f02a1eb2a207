// Package extract materializes the content of a Minix image onto the host
// filesystem: single files, symbolic link targets and whole trees.
package extract

import (
	"os"
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/mfscat/fsys/minix"
)

var (
	// ErrWrongKind is returned when an inode is not of the requested kind.
	ErrWrongKind = errors.New("wrong object kind")

	// ErrUnsupportedKind marks objects that cannot be materialized, such
	// as device nodes. Extraction skips them.
	ErrUnsupportedKind = errors.New("unsupported object kind")

	// ErrDestinationNotEmpty is returned when the extraction target is
	// missing, not a directory, or has entries.
	ErrDestinationNotEmpty = errors.New("destination is not an empty directory")
)

// Image is the read-only view of a Minix filesystem used for extraction.
// *minix.FS implements it.
type Image interface {
	Lookup(name string) (uint32, error)
	Inode(ino uint32) (minix.Inode, error)
	ReadBlock(ino, index uint32) (data []byte, hole bool, err error)
	DirEntrySize() int
}

// Options controls how extracted objects are finalized.
type Options struct {
	// RestoreOwnership applies the image uid/gid. Needs privilege.
	RestoreOwnership bool
}

// Summary counts what an extraction created.
type Summary struct {
	Dirs      int
	Files     int
	HardLinks int
	Symlinks  int
	Skipped   []string // image paths of objects that were not materialized
}

// frame is one pending step of the traversal. finish frames apply the
// metadata of a directory once all of its children exist.
type frame struct {
	ino    uint32
	name   string // image path, "" for the root
	finish bool
	rec    minix.Inode
}

type extractor struct {
	img     Image
	dest    string
	opts    Options
	summary Summary
	dirs    map[uint32]bool
	links   map[uint32]string // inode -> first destination path, for Nlinks > 1
}

// Extract recreates the whole image tree under dest, which must be an
// existing empty directory. The image root's metadata is applied to dest.
//
// Traversal is depth first in on-disk entry order using an explicit stack,
// so nesting depth is not bounded by the call stack.
func Extract(img Image, dest string, opts Options) (Summary, error) {
	if err := checkEmpty(dest); err != nil {
		return Summary{}, err
	}

	e := &extractor{
		img:   img,
		dest:  dest,
		opts:  opts,
		dirs:  make(map[uint32]bool),
		links: make(map[uint32]string),
	}

	stack := []frame{{ino: minix.RootInode}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		target, err := securejoin.SecureJoin(e.dest, fr.name)
		if err != nil {
			return e.summary, errors.Wrapf(err, "join %q under %s", fr.name, e.dest)
		}

		if fr.finish {
			if err := restoreMetadata(target, fr.rec, e.opts); err != nil {
				return e.summary, err
			}
			continue
		}

		children, err := e.visit(fr, target)
		if err != nil {
			return e.summary, err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return e.summary, nil
}

// visit materializes one object. For a directory it returns its finish
// frame followed by its children, in the order they should run.
func (e *extractor) visit(fr frame, target string) ([]frame, error) {
	rec, err := e.img.Inode(fr.ino)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read inode %d", displayPath(fr.name), fr.ino)
	}

	switch rec.Kind {
	case minix.KindDirectory:
		return e.directory(fr, rec, target)

	case minix.KindRegular:
		return nil, e.regular(fr, rec, target)

	case minix.KindSymlink:
		return nil, e.symlink(fr, rec, target)

	default:
		log.WithError(ErrUnsupportedKind).WithFields(log.Fields{
			"path": target,
			"mode": rec.FileMode().String(),
		}).Warn("skip file")
		e.summary.Skipped = append(e.summary.Skipped, displayPath(fr.name))
		return nil, nil
	}
}

func (e *extractor) directory(fr frame, rec minix.Inode, target string) ([]frame, error) {
	if e.dirs[fr.ino] {
		return nil, errors.Wrapf(minix.ErrFormatInconsistency,
			"%s: directory inode %d reached twice", displayPath(fr.name), fr.ino)
	}
	e.dirs[fr.ino] = true

	// Owner-only until finished so a read-only source mode cannot block
	// populating it.
	if fr.name != "" {
		if err := os.Mkdir(target, 0700); err != nil {
			return nil, errors.Wrap(err, "create directory")
		}
	}
	log.WithField("path", target).Info("gen dir")
	e.summary.Dirs++

	children, err := e.readChildren(fr, rec)
	if err != nil {
		return nil, err
	}

	frames := make([]frame, 0, len(children)+1)
	frames = append(frames, children...)
	frames = append(frames, frame{ino: fr.ino, name: fr.name, finish: true, rec: rec})
	return frames, nil
}

// readChildren decodes the entries of a directory, skipping unused slots
// and the "." and ".." back references.
func (e *extractor) readChildren(fr frame, rec minix.Inode) ([]frame, error) {
	var children []frame
	dentsz := e.img.DirEntrySize()

	for i := int64(0); i < minix.BlockCount(rec.Size); i++ {
		data, hole, err := e.img.ReadBlock(fr.ino, uint32(i))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: read directory block %d", displayPath(fr.name), i)
		}
		if hole {
			continue
		}

		for _, ent := range minix.DecodeDirEntries(data, dentsz) {
			if ent.Inode == 0 || ent.Name == "." || ent.Name == ".." {
				continue
			}
			if ent.Name == "" || strings.Contains(ent.Name, "/") {
				return nil, errors.Wrapf(minix.ErrFormatInconsistency,
					"%s: invalid entry name %q", displayPath(fr.name), ent.Name)
			}
			children = append(children, frame{
				ino:  uint32(ent.Inode),
				name: path.Join(fr.name, ent.Name),
			})
		}
	}

	return children, nil
}

func (e *extractor) regular(fr frame, rec minix.Inode, target string) error {
	if rec.Nlinks > 1 {
		if first, ok := e.links[fr.ino]; ok {
			if err := os.Link(first, target); err != nil {
				return errors.Wrap(err, "create hard link")
			}
			log.WithFields(log.Fields{"path": target, "target": first}).Info("gen link")
			e.summary.HardLinks++
			return nil
		}
		e.links[fr.ino] = target
	}

	if err := writeFile(e.img, fr.ino, target, rec, e.opts); err != nil {
		return err
	}
	log.WithField("path", target).Info("gen file")
	e.summary.Files++
	return nil
}

func (e *extractor) symlink(fr frame, rec minix.Inode, target string) error {
	link, err := readLink(e.img, fr.ino, rec.Size)
	if err != nil {
		return errors.Wrap(err, displayPath(fr.name))
	}
	if link == "" {
		log.WithError(errors.Wrapf(minix.ErrFormatInconsistency, "inode %d has an empty target", fr.ino)).
			WithField("path", target).Warn("skip symlink")
		e.summary.Skipped = append(e.summary.Skipped, displayPath(fr.name))
		return nil
	}

	if err := os.Symlink(link, target); err != nil {
		return errors.Wrap(err, "create symlink")
	}
	if err := restoreMetadata(target, rec, e.opts); err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": target, "target": link}).Info("gen symlink")
	e.summary.Symlinks++
	return nil
}

// checkEmpty enforces the extraction precondition before anything is written
func checkEmpty(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return errors.Wrapf(ErrDestinationNotEmpty, "%s: %v", dest, err)
	}
	if len(entries) > 0 {
		return errors.Wrapf(ErrDestinationNotEmpty, "%s has %d entries", dest, len(entries))
	}
	return nil
}

func displayPath(name string) string {
	return "/" + name
}
