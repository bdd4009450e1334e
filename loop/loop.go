// Package loop implements the single-threaded event loop that all
// compositor state lives on.
//
// Other goroutines never touch that state. They post closures into the
// loop, which runs them one batch at a time in the order they arrived.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/hepp3n/luxo/internal/ev"
	"github.com/sirupsen/logrus"
)

// Token cancels a pending timer or a registered source.
type Token interface {
	Cancel()
}

type timer struct {
	cancelled bool
	stop      func() bool
}

func (t *timer) Cancel() {
	t.cancelled = true
	if t.stop != nil {
		t.stop()
	}
}

type source struct {
	cancel context.CancelFunc
}

func (s *source) Cancel() {
	s.cancel()
}

type Loop struct {
	done  chan struct{}
	close sync.Once
	err   error

	queue *ev.Queue
	ctx   context.Context
	stop  context.CancelFunc
}

func New() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		done:  make(chan struct{}),
		queue: ev.NewQueue(),
		ctx:   ctx,
		stop:  cancel,
	}
}

// Post queues fn to run on the loop. It is safe to call from any
// goroutine and returns false if the loop has stopped.
func (l *Loop) Post(fn func() error) bool {
	return ev.Post(l.queue, l.done, fn)
}

// Idle runs fn on the next iteration of the loop, after everything that
// is already queued.
func (l *Loop) Idle(fn func()) Token {
	t := timer{}
	l.Post(func() error {
		if !t.cancelled {
			fn()
		}
		return nil
	})
	return &t
}

// After runs fn on the loop once d has passed.
func (l *Loop) After(d time.Duration, fn func()) Token {
	t := timer{}
	t.stop = time.AfterFunc(d, func() {
		l.Post(func() error {
			if !t.cancelled {
				fn()
			}
			return nil
		})
	}).Stop
	return &t
}

// Source runs fn in its own goroutine until the returned token is
// cancelled or the loop stops. fn delivers work through post.
func (l *Loop) Source(name string, fn func(ctx context.Context, post func(func() error))) Token {
	ctx, cancel := context.WithCancel(l.ctx)
	go func() {
		defer cancel()
		fn(ctx, func(f func() error) { l.Post(f) })
		logrus.WithField("source", name).Debug("loop: source finished")
	}()
	return &source{cancel: cancel}
}

// Run processes events until ctx is cancelled or Stop is called. It
// returns the error passed to Stop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.queue.Stop()
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			l.Stop(nil)
			return nil

		case <-l.done:
			return l.err

		case events := <-l.queue.Get():
			events.Flush(func(err error) {
				logrus.Errorf("loop: %v", err)
			})
		}
	}
}

// Stop ends Run. Only the first call has an effect.
func (l *Loop) Stop(err error) {
	l.close.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}
