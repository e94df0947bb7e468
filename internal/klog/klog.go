// Package klog wraps logrus with the kernel's two reporting modes:
// structured, leveled logging for diagnostics, and Panic for invariant
// violations that must halt the caller (spec.md §7: "Invariant
// violations ... Response: fatal").
package klog

import (
	"github.com/sirupsen/logrus"
)

// Log is the package-wide structured logger. Kept as a package var,
// the way the teacher keeps a single package-wide Physmem/bcache
// singleton, rather than threaded through every call explicitly.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Panic logs a structured fatal entry tagged with the invariant that
// was violated and then panics, halting the caller. fields carry
// context such as device/block number or buffer name.
func Panic(tag string, fields logrus.Fields) {
	Log.WithFields(fields).Error(tag)
	panic(tag)
}

// Fields is a re-export so callers don't need to import logrus directly
// just to build a Fields map.
type Fields = logrus.Fields
