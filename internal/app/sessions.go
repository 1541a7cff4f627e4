// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/thrust_stand/internal/catalog"
	"github.com/relabs-tech/thrust_stand/internal/config"
)

// RunSessions prints the newest sessions and calibrations in the catalog.
func RunSessions(cfg *config.Config, limit int) error {
	if cfg.CatalogDB == "" {
		return fmt.Errorf("CATALOG_DB is not set")
	}
	if _, err := os.Stat(cfg.CatalogDB); err != nil {
		return fmt.Errorf("catalog %s: %w", cfg.CatalogDB, err)
	}
	store := catalog.New(cfg.CatalogDB)
	defer store.Close()

	ctx := context.Background()
	sessions, err := store.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	cals, err := store.Calibrations(ctx, limit)
	if err != nil {
		return err
	}
	printCatalog(os.Stdout, time.Now(), sessions, cals, cfg.LogDir)
	return nil
}

func printCatalog(w io.Writer, now time.Time, sessions []*catalog.Session, cals []*catalog.Calibration, logDir string) {
	fmt.Fprintf(w, "%-5s %-12s %-16s %-9s %8s %9s %9s\n", "TEST", "FILE", "STARTED", "OUTCOME", "ROWS", "DURATION", "SIZE")
	for _, s := range sessions {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "running?"
		}
		size := "-"
		if fi, err := os.Stat(logDir + string(os.PathSeparator) + s.File); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Fprintf(w, "%-5d %-12s %-16s %-9s %8s %9s %9s\n",
			s.Number, s.File, humanize.RelTime(s.StartedAt, now, "ago", "from now"), outcome,
			humanize.Comma(int64(s.Rows)), s.Duration.Round(100*time.Millisecond), size)
	}
	if len(cals) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-8s %-16s %10s %12s %8s\n", "CHANNEL", "WHEN", "LOAD", "SCALE", "SPREAD")
	for _, c := range cals {
		fmt.Fprintf(w, "%-8s %-16s %10.1f %12.4f %7.2f%%\n",
			c.Channel, humanize.RelTime(c.CreatedAt, now, "ago", "from now"), c.KnownLoad, c.Scale, c.DeviationPercent)
	}
}
