package cmd

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lvdlvd/mfscat/extract"
)

// geteuid is replaced in tests
var geteuid = unix.Geteuid

// extractOptions decides once per command whether image ownership is
// restored: only for root, and only unless squash is requested.
func extractOptions(squash bool) extract.Options {
	return extract.Options{RestoreOwnership: !squash && geteuid() == 0}
}

// Copy copies a single regular file out of the image.
func Copy(img extract.Image, src, dst string, squash bool) error {
	_, err := extract.CopyFile(img, src, dst, extractOptions(squash))
	return err
}

// ReadLink prints symbolic link targets. A single name prints the bare
// target; several print one "name: target" line each. Failing names are
// logged and the rest are still printed.
func ReadLink(img extract.Image, names []string, out io.Writer) error {
	failed := 0
	for _, name := range names {
		target, err := extract.ReadLink(img, name)
		if err != nil {
			log.WithField("path", name).Error(err)
			failed++
			continue
		}

		if len(names) == 1 {
			fmt.Fprintln(out, target)
		} else {
			fmt.Fprintf(out, "%s: %s\n", name, target)
		}
	}

	if failed > 0 {
		return fmt.Errorf("readlink: %d of %d links failed", failed, len(names))
	}
	return nil
}

// Extract recreates the image tree under dest, which must be an empty
// directory.
func Extract(img extract.Image, dest string, squash bool) error {
	opts := extractOptions(squash)
	log.WithFields(log.Fields{
		"dest":           dest,
		"restore_owners": opts.RestoreOwnership,
	}).Debug("extracting image")

	summary, err := extract.Extract(img, dest, opts)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"dirs":       summary.Dirs,
		"files":      summary.Files,
		"hard_links": summary.HardLinks,
		"symlinks":   summary.Symlinks,
		"skipped":    len(summary.Skipped),
	}).Info("extraction complete")
	return nil
}
