package gate

import (
	"context"
	"sync"
	"time"

	"github.com/radarsiope/radar/metrics"
	log "github.com/sirupsen/logrus"
)

// Background runs detached tasks. Their errors are logged and never returned to the caller, Wait
// lets a lambda invocation or a shutting down server let them finish.
type Background struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewBackground returns a Background whose tasks are cancelled after timeout
func NewBackground(timeout time.Duration) *Background {
	return &Background{timeout: timeout}
}

// Go runs fn in its own goroutine. fn gets a context detached from ctx's cancellation but
// carrying its values.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		if err := fn(tctx); err != nil {
			metrics.BestEffortFailures.WithLabelValues(name).Inc()
			log.WithError(err).WithField("task", name).Warn("Background: task failed")
		}
	}()
}

// Wait blocks until every started task returned
func (b *Background) Wait() {
	b.wg.Wait()
}
