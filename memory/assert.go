package memory

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// AssertionError reports misuse of the memory manager: dereferencing null,
// using a transient handle after its scope closed, closing scopes out of
// order, touching a heap after Close. These are programming errors and are
// raised with panic; nothing in this module recovers them.
type AssertionError struct {
	File    string
	Line    int
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s:%d: assertion failed: %s", e.File, e.Line, e.Message)
}

// assert panics with an *AssertionError naming the caller's location.
func assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	file, line := "?", 0
	if _, f, l, ok := runtime.Caller(1); ok {
		file, line = filepath.Base(f), l
	}
	panic(&AssertionError{File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}
