// Package retention periodically forgets finished uploads whose status was
// never read, so abandoned records do not accumulate.
package retention

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper is implemented by the dispatcher.
type Sweeper interface {
	Sweep(ttl time.Duration) int
}

type Engine struct {
	cron    *cron.Cron
	sweeper Sweeper
	ttl     time.Duration
	log     logrus.FieldLogger
}

// New schedules a sweep on schedule (standard cron syntax or descriptors
// such as "@every 5m"). A non-positive ttl disables sweeping.
func New(schedule string, ttl time.Duration, sweeper Sweeper, log logrus.FieldLogger) (*Engine, error) {
	e := &Engine{
		cron:    cron.New(),
		sweeper: sweeper,
		ttl:     ttl,
		log:     log,
	}
	if ttl <= 0 {
		log.Info("retention sweep disabled")
		return e, nil
	}
	if _, err := e.cron.AddFunc(schedule, e.Run); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return e, nil
}

// Run sweeps once.
func (e *Engine) Run() {
	n := e.sweeper.Sweep(e.ttl)
	e.log.WithFields(logrus.Fields{"removed": n, "ttl": e.ttl}).Debug("retention sweep done")
}

func (e *Engine) Start() {
	e.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to return.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
}
