package config

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Discovery modes
const (
	// ModeAuto scans host block devices and configured images
	ModeAuto = "auto"
	// ModeHost scans host block devices only
	ModeHost = "host"
	// ModeImages scans configured images only
	ModeImages = "images"
)

// ScanHost reports whether host block devices should be enumerated
func (c *Config) ScanHost() bool {
	return c.Discovery != ModeImages
}

// ScanImages reports whether image files should be enumerated
func (c *Config) ScanImages() bool {
	return c.Discovery != ModeHost
}

// ImagePaths expands the image patterns into a sorted, de-duplicated list.
// A pattern without wildcards is kept even if the file doesn't exist yet,
// so opening it reports the problem.
func ImagePaths(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("image pattern %q: %w", p, err)
		}
		if len(matches) == 0 && !hasMeta(p) {
			matches = []string{p}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}
