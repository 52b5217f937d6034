package inventory

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically releases reservations that outlived their TTL.
type Sweeper struct {
	svc   *Service
	every time.Duration
	log   *logrus.Entry
}

func NewSweeper(svc *Service, every time.Duration, log *logrus.Entry) *Sweeper {
	return &Sweeper{svc: svc, every: every, log: log}
}

// Run blocks until ctx ends. Sweeps run serially; a slow sweep delays the
// next one instead of overlapping it.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := w.svc.SweepExpired(ctx); err != nil {
				w.log.WithError(err).Error("sweep failed")
			}
		}
	}
}
