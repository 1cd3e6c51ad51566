package calsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "crewcal/internal/log"
)

// Refresher reloads events on a cron schedule and runs optional hooks
// after each successful reload.
type Refresher struct {
	c     *Controller
	cron  *cron.Cron
	after []func(context.Context)
}

// NewRefresher parses spec (standard five-field cron) for c.
func NewRefresher(c *Controller, spec string, after ...func(context.Context)) (*Refresher, error) {
	r := &Refresher{
		c:     c,
		cron:  cron.New(cron.WithLocation(c.loc)),
		after: after,
	}
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return nil, fmt.Errorf("calsync: refresh schedule %q: %w", spec, err)
	}
	return r, nil
}

func (r *Refresher) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running refresh.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce performs one refresh immediately.
func (r *Refresher) RunOnce(ctx context.Context) error {
	err := r.c.LoadEvents(ctx)
	if err != nil {
		if !errors.Is(err, ErrSignedOut) {
			appLog.Error("calsync: scheduled refresh failed", err)
		}
		return err
	}
	// Other clients may have edited the vocabulary meanwhile.
	if err := r.c.LoadVocabulary(ctx); err != nil {
		return err
	}
	for _, fn := range r.after {
		fn(ctx)
	}
	return nil
}

func (r *Refresher) tick() {
	_ = r.RunOnce(context.Background())
}
