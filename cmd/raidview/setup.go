package main

import (
	"errors"
	"fmt"

	"github.com/sigreer/raidview/internal/collector"
	"github.com/sigreer/raidview/internal/config"
	"github.com/sigreer/raidview/internal/db"
	"github.com/sigreer/raidview/internal/detect/lvm"
	"github.com/sigreer/raidview/internal/detect/mdraid"
	"github.com/sigreer/raidview/internal/detect/static"
	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/parity"
	"github.com/sigreer/raidview/internal/volume"
)

var errJournalDisabled = errors.New("scan journal is disabled in the config")

// loadConfig reads the config file and sets up logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := mlog.Init(cfg.Log.Location, level); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, nil
}

// newCatalog wires drivers, detectors and recovery hooks per cfg. images
// are extra image patterns from the command line; giving any enables the
// image driver whatever the discovery mode.
func newCatalog(cfg *config.Config, images []string) *volume.Catalog {
	cat := volume.New(nil)

	if cfg.ScanHost() {
		cat.AddDriver(collector.NewHostDriver(nil))
	}
	patterns := append([]string{}, images...)
	if cfg.ScanImages() {
		patterns = append(patterns, cfg.Images...)
	}
	if len(patterns) > 0 {
		cat.AddDriver(collector.NewImageDriver(patterns))
	}

	cat.AddDetector(mdraid.New())
	cat.AddDetector(lvm.New())
	if len(cfg.Arrays) > 0 {
		cat.AddDetector(static.New(cfg.Arrays))
	}

	xor := parity.NewXOR()
	if cfg.Recovery.RAID5Enabled() {
		cat.SetRAID5Recovery(xor)
	}
	if cfg.Recovery.RAID6Enabled() {
		cat.SetRAID6Recovery(xor)
	}
	return cat
}

func openJournal(cfg *config.Config) (*db.DB, error) {
	path := cfg.DatabasePath()
	if path == "" {
		return nil, errJournalDisabled
	}
	database, err := db.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return database, nil
}
