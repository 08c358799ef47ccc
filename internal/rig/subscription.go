package rig

import "sync"

// Handler consumes the raw data payload of one inbound event.
type Handler func(data []byte)

// Subscription is a scoped handle on one event registration. Release
// detaches the handler and is safe to call more than once and from any
// goroutine; only the first call has an effect. Owning scopes release on
// teardown, which removes the duplicate-listener failure mode of paired
// on/off bookkeeping.
type Subscription struct {
	once    sync.Once
	release func()
}

// Release detaches the subscription's handler exactly once.
func (s *Subscription) Release() {
	s.once.Do(s.release)
}
