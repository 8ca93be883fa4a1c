package pd

import "time"

// Clock is the monotonic time source the engine drives scheduling from.
// Tests inject a fake clock; production uses systemClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MarshalFunc is the capability the engine calls from Put when a
// publication has the Marshall flag set: it converts an application
// dataset into wire bytes. cachedDS is an opaque, caller-managed pointer
// carried between calls for marshaller-side caching and is never
// interpreted by the engine.
type MarshalFunc func(refCon any, comID uint32, src []byte, cachedDS any) (dst []byte, err error)

// UnmarshalFunc is the receive-side counterpart of MarshalFunc, called
// from Get when a subscription has the Marshall flag set.
type UnmarshalFunc func(refCon any, comID uint32, src []byte, cachedDS any) (dst []byte, err error)
