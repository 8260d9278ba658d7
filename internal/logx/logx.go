// Package logx is the engine's ambient logging surface. It wraps
// github.com/prometheus/common/log so every package logs through one
// leveled, package-level logger instead of ad-hoc fmt/log calls.
package logx

import (
	"fmt"

	plog "github.com/prometheus/common/log"
)

// Fields attaches transfer identity to a log line. Only source/dest
// are common enough across call sites to warrant a struct; anything
// else goes straight into the format string.
type Fields struct {
	Source string
	Dest   string
}

func (f Fields) prefix() string {
	if f.Source == "" && f.Dest == "" {
		return ""
	}
	return fmt.Sprintf("[%s -> %s] ", f.Source, f.Dest)
}

// Infof logs at info level, optionally scoped to a transfer.
func Infof(f Fields, format string, args ...interface{}) {
	plog.Infof(f.prefix()+format, args...)
}

// Warnf logs at warn level, optionally scoped to a transfer.
func Warnf(f Fields, format string, args ...interface{}) {
	plog.Warnf(f.prefix()+format, args...)
}

// Errorf logs at error level, optionally scoped to a transfer.
func Errorf(f Fields, format string, args ...interface{}) {
	plog.Errorf(f.prefix()+format, args...)
}

// Debugf logs at debug level, optionally scoped to a transfer.
func Debugf(f Fields, format string, args ...interface{}) {
	plog.Debugf(f.prefix()+format, args...)
}
