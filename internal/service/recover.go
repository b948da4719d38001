package service

import (
	"context"
	"path"
	"strings"
	"time"
)

// Walker is implemented by image stores that can enumerate their files.
type Walker interface {
	Walk(fn func(canonical string, modTime time.Time) error) error
	PruneEmpty() (int, error)
}

// Recover closes every intent left open by a previous process. Files of such
// intents that no image row refers to are removed. It returns the number of
// files removed.
func (c *Catalog) Recover(ctx context.Context) (int, error) {
	if c.journal == nil {
		return 0, nil
	}

	pending, err := c.journal.Pending()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	total := 0
	for _, in := range pending {
		removed, err := c.removeUnreferenced(ctx, in.Paths)
		if err != nil {
			return total, err
		}
		total += removed

		if err := c.journal.Done(in.ID); err != nil {
			return total, err
		}
		c.logger.Infow("recovered interrupted write", "intent", in.ID, "op", in.Op, "removed", removed)
	}
	return total, nil
}

// SweepOrphans removes image files older than grace that no image row refers
// to and no open intent covers, then prunes empty directories. Stores that
// cannot enumerate their files are skipped.
func (c *Catalog) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	w, ok := c.images.(Walker)
	if !ok {
		return 0, nil
	}

	refs, err := c.store.ReferencedImagePaths(ctx)
	if err != nil {
		return 0, err
	}

	var openDirs []string
	if c.journal != nil {
		pending, err := c.journal.Pending()
		if err != nil {
			return 0, err
		}
		for _, in := range pending {
			if in.Dir != "" {
				openDirs = append(openDirs, in.Dir)
			}
			for _, p := range in.Paths {
				refs[p] = struct{}{}
			}
		}
	}

	cutoff := time.Now().Add(-grace)
	var orphans []string
	err = w.Walk(func(canonical string, modTime time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if modTime.After(cutoff) {
			return nil
		}
		if _, ok := refs[canonical]; ok {
			return nil
		}
		if under(canonical, openDirs) {
			return nil
		}
		orphans = append(orphans, canonical)
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range orphans {
		if err := c.images.Remove(ctx, p); err != nil {
			c.logger.Errorw("removing orphan image", "path", p, "error", err)
			continue
		}
		removed++
	}

	dirs, err := w.PruneEmpty()
	if err != nil {
		return removed, err
	}

	if removed > 0 || dirs > 0 {
		c.logger.Infow("orphan sweep", "files", removed, "dirs", dirs)
	}
	return removed, nil
}

func under(p string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(p, path.Clean(d)+"/") {
			return true
		}
	}
	return false
}
