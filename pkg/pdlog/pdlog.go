// Package pdlog provides the package-wide debug sink used by every
// component of the PD engine. Callers inject their own logr.Logger before
// opening a session; until then, log output is discarded.
package pdlog

import "github.com/go-logr/logr"

// L is the logger every subsystem writes through. It is safe to read
// concurrently; SetLogger should be called once, before any session is
// opened.
var L logr.Logger = logr.Discard()

// SetLogger installs the sink used by the PD engine. Passing the zero
// value restores the discard logger.
func SetLogger(l logr.Logger) {
	if l == (logr.Logger{}) {
		L = logr.Discard()
		return
	}
	L = l
}
