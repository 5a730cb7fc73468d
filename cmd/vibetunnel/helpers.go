package main

import (
	"fmt"

	"vibetunnel/internal/config"
	"vibetunnel/internal/session"
)

// loadManager loads the engine config and constructs a Manager rooted at
// its configured control directory.
func loadManager() (*session.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	mgr := session.New(cfg.ControlDir, cfg.DefaultCols, cfg.DefaultRows, cfg.NoSpawn, cfg.DoNotAllowColumnSet, nil)
	return mgr, cfg, nil
}
