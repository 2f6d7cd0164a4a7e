package executor

import "time"

// Clock abstracts wall-clock reads and the inter-poll sleep so tests can
// drive the stability heuristic and timeout guards without waiting in
// real time.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time       { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
