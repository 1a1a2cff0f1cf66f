package stack

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// New wraps err with the call stack captured at the given skip depth.
func New(err error, skip int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return &stackError{err: err, pcs: pcs[:n]}
}

type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string { return e.err.Error() }

func (e *stackError) Unwrap() error { return e.err }

func (e *stackError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			var sb strings.Builder
			sb.WriteString(e.err.Error())
			frames := runtime.CallersFrames(e.pcs)
			for {
				fr, more := frames.Next()
				sb.WriteString("\n  ")
				sb.WriteString(fr.Function)
				sb.WriteString(" ")
				sb.WriteString(fr.File)
				sb.WriteString(":")
				sb.WriteString(strconv.Itoa(fr.Line))
				if !more {
					break
				}
			}
			_, _ = s.Write([]byte(sb.String()))
			return
		}
		fallthrough
	case 's':
		_, _ = s.Write([]byte(e.err.Error()))
	}
}
