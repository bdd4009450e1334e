// Package ev implements the queue through which other goroutines hand
// work to the main loop.
package ev

import (
	"deedles.dev/xsync/cq"
)

type Queue = cq.BulkQueue[func() error, *Events]

func NewQueue() *Queue {
	return cq.New(func(v []func() error) *Events {
		return &Events{
			events: v,
		}
	})
}

// Post adds fn to q unless done is closed first.
func Post(q *Queue, done <-chan struct{}, fn func() error) bool {
	select {
	case <-done:
		return false
	default:
	}

	select {
	case q.Add() <- fn:
		return true
	case <-done:
		return false
	}
}

// Events is a batch of work taken from a Queue.
type Events struct {
	events []func() error
}

func (q *Events) Len() int {
	return len(q.events)
}

// Flush runs every event in order, passing failures to report.
func (q *Events) Flush(report func(error)) {
	for _, ev := range q.events {
		err := ev()
		if err != nil {
			report(err)
		}
	}
	q.events = nil
}
