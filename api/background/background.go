// Package background runs tasks outside the request cycle and waits for them
// on shutdown.
package background

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Background struct {
	log    logrus.FieldLogger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

func New(log logrus.FieldLogger) *Background {
	ctx, cancel := context.WithCancel(context.Background())

	clog := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog)),
	)
	c.Start()

	return &Background{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		cron:   c,
	}
}

// Go runs fn once. A panic is recovered and logged.
func (b *Background) Go(name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(name, fn)
	}()
}

// Schedule runs fn on a cron spec such as "@every 1h" or "0 3 * * *". A run
// still in progress when the next one is due makes that one skip.
func (b *Background) Schedule(name, spec string, fn func(ctx context.Context) error) error {
	_, err := b.cron.AddFunc(spec, func() {
		b.run(name, fn)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s[%s]: %w", name, spec, err)
	}

	b.log.WithFields(logrus.Fields{
		"task":     name,
		"schedule": spec,
	}).Info("background task scheduled")
	return nil
}

func (b *Background) run(name string, fn func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.WithField("task", name).Error(fmt.Sprintf("background task panic: %v", rec))
		}
	}()

	if err := fn(b.ctx); err != nil {
		b.log.WithFields(logrus.Fields{
			"task":    name,
			"message": err,
		}).Error("background task failed")
	}
}

// Shutdown stops the schedule and waits for the running tasks until ctx is
// done.
func (b *Background) Shutdown(ctx context.Context) error {
	b.cancel()
	stopped := b.cron.Stop()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		<-stopped.Done()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
