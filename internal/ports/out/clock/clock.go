package clock

import "time"

// Clock provides time to the application.
// Using an interface enables deterministic tests via a controllable implementation.
type Clock interface {
	Now() time.Time
}

// Ticker delivers ticks on C until Stop is called. Stop does not close C.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickingClock is a Clock that can also drive periodic work.
type TickingClock interface {
	Clock
	NewTicker(d time.Duration) Ticker
}
