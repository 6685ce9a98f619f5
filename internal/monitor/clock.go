package monitor

import "time"

// Clock supplies time to the engine. The values returned by Now carry Go's
// monotonic reading, so they serve both interval arithmetic and the wall-clock
// timestamps stamped onto findings. Injected so tests run deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
