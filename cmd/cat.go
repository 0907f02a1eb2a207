package cmd

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/lvdlvd/mfscat/extract"
	"github.com/lvdlvd/mfscat/fsys/minix"
)

// Cat streams the regular files named by paths to out, one after another.
// Holes are written as zeros. A path that fails is logged and the rest are
// still written.
func Cat(img extract.Image, paths []string, out io.Writer) error {
	failed := 0
	for _, p := range paths {
		if _, err := extract.ReadFile(img, p, minix.KindRegular, out, false); err != nil {
			log.WithField("path", p).Error(err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("cat: %d of %d files failed", failed, len(paths))
	}
	return nil
}
