package utils

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Timer measures the elapsed time of each pipeline step and of the run.
type Timer struct {
	total time.Time
	start time.Time
	now   func() time.Time
}

func NewTimer() *Timer {
	t := &Timer{now: time.Now}
	t.total = t.now()
	t.start = t.total
	return t
}

func (t *Timer) Start() {
	t.start = t.now()
}

// Stop logs and returns the time since the last Start.
func (t *Timer) Stop() time.Duration {
	elapsed := t.now().Sub(t.start)
	log.Infof("Elapsed time: %.2f seconds", elapsed.Seconds())
	return elapsed
}

// Total logs and returns the time since the timer was created.
func (t *Timer) Total() time.Duration {
	elapsed := t.now().Sub(t.total)
	log.Infof("Total elapsed time: %.2f seconds", elapsed.Seconds())
	return elapsed
}
