package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 10 * time.Minute

// startSweeper schedules the orphan image sweep. It returns nil when no
// schedule is configured.
func (app *application) startSweeper() (*cron.Cron, error) {
	spec := app.config.sweeper.schedule
	if spec == "" {
		app.logger.Info("orphan sweep disabled")
		return nil, nil
	}

	sched := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := sched.AddFunc(spec, app.sweepOrphans); err != nil {
		return nil, err
	}
	sched.Start()

	app.logger.Infow("orphan sweep scheduled", "schedule", spec, "grace", app.config.sweeper.grace)
	return sched, nil
}

func (app *application) sweepOrphans() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := app.catalog.SweepOrphans(ctx, app.config.sweeper.grace)
	if err != nil {
		app.logger.Errorf("Error sweeping orphan images: %v", err)
		return
	}
	if removed > 0 {
		app.logger.Infof("Removed %d orphan images at %s", removed, time.Now().Format(time.RFC1123))
	}
}
