package collector

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/config"
	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
)

// ImageDriver serves disk image files matched by glob patterns. Patterns
// are expanded on every iteration so new images show up on the next scan.
type ImageDriver struct {
	patterns []string
	log      *logrus.Entry
}

func NewImageDriver(patterns []string) *ImageDriver {
	return &ImageDriver{
		patterns: patterns,
		log:      mlog.GetPackageLogger("collector"),
	}
}

func (d *ImageDriver) Name() string {
	return "image"
}

// Paths expands the configured patterns
func (d *ImageDriver) Paths() ([]string, error) {
	return config.ImagePaths(d.patterns)
}

// Iterate lists every image on PullNone
func (d *ImageDriver) Iterate(pull disk.Pull, fn func(name string) bool) error {
	if pull != disk.PullNone {
		return nil
	}
	paths, err := d.Paths()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !fn(p) {
			return nil
		}
	}
	return nil
}

// Open only opens paths the patterns currently match
func (d *ImageDriver) Open(name string) (disk.Disk, error) {
	paths, err := d.Paths()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if p != name {
			continue
		}
		f, err := disk.OpenFile(name)
		if err != nil {
			d.log.WithError(err).WithField("image", name).Debug("cannot open image")
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", disk.ErrNoSuchDisk, name)
}
