package bufferpool

import "github.com/tuannm99/novahtree/pkg/clockx"

// clockAdapter exposes clockx.Clock as a Replacer over frame indexes.
type clockAdapter struct {
	*clockx.Clock
}

func newClockAdapter(capacity int) Replacer {
	return clockAdapter{Clock: clockx.New(capacity)}
}

func (a clockAdapter) RecordAccess(frameID int) {
	a.Touch(frameID)
}
